package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LeadSubmitted("readiness_assessment", "keep")
		m.PDF("rendered")
		m.Email("initial", "sent")
		m.FollowupRun(3, "completed", 1, 2, 3)
		m.Webhook("acme", "accepted")
		m.LeadSold()
		m.SetQueueDepth(4)
		m.ObserveHTTP("/lead/submit", 200, time.Millisecond)
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.LeadSubmitted("customer_request", "keep")
	m.LeadSubmitted("customer_request", "keep")
	m.FollowupRun(7, "completed", 2, 1, 0)
	m.SetQueueDepth(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.leadsSubmitted.WithLabelValues("customer_request", "keep")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.followupLeads.WithLabelValues("7", "sent")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.monetizationQueue))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "leadpipe_leads_submitted_total")
}
