package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/email"
	"github.com/osr-alliance/backend-lead-pipeline/intake"
)

// GeneratePDF returns the lead's report, rendering it once.
func (s *Server) GeneratePDF(w http.ResponseWriter, r *http.Request) {
	req, err := intake.DecodeLeadRef(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.pdf.EnsurePDF(r.Context(), req.LeadID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DownloadPDF serves a report behind a signed link.
func (s *Server) DownloadPDF(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rc, err := s.pdf.Open(r.Context(), q.Get("path"), q.Get("expires"), q.Get("sig"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="readiness-report.pdf"`)
	w.Header().Set("Cache-Control", "private, no-store")
	if _, err := io.Copy(w, rc); err != nil {
		s.log.WithError(err).Warn("pdf download interrupted")
	}
}

type alreadySent struct {
	AlreadySent bool `json:"already_sent"`
}

// SendEmail sends the initial email once. The lead must already have a pdf.
func (s *Server) SendEmail(w http.ResponseWriter, r *http.Request) {
	req, err := intake.DecodeLeadRef(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.store.GetByID(r.Context(), req.LeadID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if l.EmailSent {
		writeJSON(w, http.StatusOK, alreadySent{AlreadySent: true})
		return
	}
	s.sendInitial(w, r, l.ID)
}

// ResendEmail re-issues the initial email with a fresh link, generating the
// report first if needed.
func (s *Server) ResendEmail(w http.ResponseWriter, r *http.Request) {
	req, err := intake.DecodeLeadRef(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.pdf.EnsurePDF(r.Context(), req.LeadID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendInitial(w, r, req.LeadID)
}

func (s *Server) sendInitial(w http.ResponseWriter, r *http.Request, id string) {
	l, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	receipt, err := s.email.SendTemplated(r.Context(), l, email.Initial)
	if err != nil && !errors.Is(err, email.ErrNotRecorded) {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type unsubscribeResponse struct {
	Unsubscribed bool `json:"unsubscribed"`
}

// Unsubscribe handles one-click links and List-Unsubscribe-Post requests.
func (s *Server) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	addr := intake.NormalizeEmail(r.FormValue("email"))
	if s.unsub == nil || !s.unsub.Valid(addr, r.FormValue("token")) {
		s.writeError(w, r, &intake.ValidationError{Fields: map[string]string{"token": "is invalid"}})
		return
	}
	if err := s.store.Unsubscribe(r.Context(), addr, "link"); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit.Append(r.Context(), audit.EmailUnsubscribed, audit.Payload{"email": addr})
	writeJSON(w, http.StatusOK, unsubscribeResponse{Unsubscribed: true})
}
