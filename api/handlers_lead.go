package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/intake"
	"github.com/osr-alliance/backend-lead-pipeline/monetize"
)

type submitResults struct {
	ReadinessScore  int      `json:"readiness_score"`
	CostLow         int      `json:"cost_low"`
	CostHigh        int      `json:"cost_high"`
	Recommendations []string `json:"recommendations"`
}

type submitResponse struct {
	LeadID  string        `json:"lead_id"`
	Results submitResults `json:"results"`
}

// SubmitLead scores and stores a submission. lead_score and keep_or_sell
// stay internal.
func (s *Server) SubmitLead(w http.ResponseWriter, r *http.Request) {
	sub, err := intake.Decode(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	l, result := intake.Lead(sub, s.engine, uuid.NewString(), s.now())
	if _, err := s.store.Create(r.Context(), l); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.metrics.LeadSubmitted(l.LeadType, string(l.KeepOrSell))
	s.audit.Append(r.Context(), audit.LeadSubmitted, audit.ForLead(l, audit.Payload{
		"lead_type":       l.LeadType,
		"readiness_score": l.ReadinessScore,
		"lead_score":      l.LeadScore,
		"keep_or_sell":    string(l.KeepOrSell),
		"is_partial":      l.IsPartial,
	}))
	s.enqueue(r.Context(), l.ID, monetize.TriggerSubmitted)

	recs := result.Recommendations
	if recs == nil {
		recs = []string{}
	}
	writeJSON(w, http.StatusOK, submitResponse{
		LeadID: l.ID,
		Results: submitResults{
			ReadinessScore:  l.ReadinessScore,
			CostLow:         l.EstimatedCostLow,
			CostHigh:        l.EstimatedCostHigh,
			Recommendations: recs,
		},
	})
}

type setEmailResponse struct {
	LeadID string `json:"lead_id"`
	Status string `json:"status"`
}

// SetEmail attaches a consented address to a lead.
func (s *Server) SetEmail(w http.ResponseWriter, r *http.Request) {
	req, err := intake.DecodeContact(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	l, err := s.store.SetContact(r.Context(), req.LeadID, req.Email, req.Consent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.audit.Append(r.Context(), audit.LeadContactSet, audit.ForLead(l, audit.Payload{"status": l.Status}))
	s.enqueue(r.Context(), l.ID, monetize.TriggerContactSet)
	writeJSON(w, http.StatusOK, setEmailResponse{LeadID: l.ID, Status: l.Status})
}

// enqueue never fails the request; the dispatcher audits its own failures.
func (s *Server) enqueue(ctx context.Context, id, trigger string) {
	if s.monetize == nil {
		return
	}
	_ = s.monetize.Enqueue(context.WithoutCancel(ctx), id, trigger)
}
