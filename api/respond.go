package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-pipeline/intake"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/pdf"
)

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func preconditionCode(err error) string {
	switch {
	case errors.Is(err, lead.ErrMissingEmail):
		return "missing_email"
	case errors.Is(err, lead.ErrMissingPDF):
		return "missing_pdf"
	case errors.Is(err, lead.ErrUnsubscribed):
		return "unsubscribed"
	case errors.Is(err, lead.ErrConsentRequired):
		return "consent_required"
	}
	return "precondition_failed"
}

// writeError maps err onto a status and a body that never leaks internals.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *intake.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: ve.Fields})
	case errors.Is(err, lead.ErrNotFound), errors.Is(err, pdf.ErrObjectNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case lead.IsPrecondition(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: preconditionCode(err)})
	case errors.Is(err, pdf.ErrBadSignature), errors.Is(err, pdf.ErrLinkExpired):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case lead.IsProvider(err):
		s.log.WithError(err).WithField("path", r.URL.Path).Warn("provider failure")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream provider failed"})
	default:
		s.log.WithError(err).WithFields(logrus.Fields{"path": r.URL.Path, "method": r.Method}).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
