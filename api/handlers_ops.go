package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
)

// RunFollowup runs one follow-up batch. The batch is detached from the
// request so a disconnecting caller does not stop it half way.
func (s *Server) RunFollowup(w http.ResponseWriter, r *http.Request) {
	day, _ := strconv.Atoi(mux.Vars(r)["day"])
	sch, ok := s.schedulers[lead.FollowupDay(day)]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	sum, err := sch.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// PurgeTestData removes leads flagged is_test and their events.
func (s *Server) PurgeTestData(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.PurgeTestData(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit.Append(r.Context(), audit.TestDataPurged, audit.Payload{
		"leads_deleted":  res.LeadsDeleted,
		"events_deleted": res.EventsDeleted,
	})
	writeJSON(w, http.StatusOK, res)
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
