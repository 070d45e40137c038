package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/email"
	"github.com/osr-alliance/backend-lead-pipeline/followup"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/metrics"
	"github.com/osr-alliance/backend-lead-pipeline/monetize"
	"github.com/osr-alliance/backend-lead-pipeline/pdf"
	"github.com/osr-alliance/backend-lead-pipeline/ratelimit"
	"github.com/osr-alliance/backend-lead-pipeline/store"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type stubRenderer struct{}

func (stubRenderer) Render(_ context.Context, l *lead.Lead) ([]byte, error) {
	return []byte("%PDF-1.4 " + l.ID), nil
}

type stubProvider struct {
	mu   sync.Mutex
	sent int
	err  error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Send(context.Context, *email.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent++
	return "msg-" + strconv.Itoa(p.sent), nil
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []monetize.Task
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, id, trigger string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, monetize.Task{LeadID: id, Trigger: trigger})
	return nil
}

type fixture struct {
	handler  http.Handler
	store    *store.MemStore
	sink     *audit.MemorySink
	provider *stubProvider
	enqueuer *recordingEnqueuer
	unsub    *email.Unsubscriber
}

type option func(*Config)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	objects, err := pdf.NewFSStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:    store.NewMemStore().WithClock(clock),
		sink:     &audit.MemorySink{},
		provider: &stubProvider{},
		enqueuer: &recordingEnqueuer{},
		unsub:    email.NewUnsubscriber([]byte("unsub"), "https://leads.example.com"),
	}
	pdfs := pdf.NewService(&pdf.Config{
		Store:    f.store,
		Renderer: stubRenderer{},
		Objects:  objects,
		Signer:   pdf.NewSigner([]byte("pdf"), "https://leads.example.com", time.Hour).WithClock(clock),
		Audit:    f.sink,
	})
	dispatcher := email.NewDispatcher(&email.Config{
		Store:        f.store,
		Provider:     f.provider,
		From:         "reports@example.com",
		Links:        pdfs,
		Unsubscriber: f.unsub,
		Audit:        f.sink,
	})
	var schedulers []*followup.Scheduler
	for _, day := range lead.FollowupDays {
		sch, err := followup.New(&followup.Config{Day: day, Store: f.store, Sender: dispatcher, Audit: f.sink, Clock: clock})
		require.NoError(t, err)
		schedulers = append(schedulers, sch)
	}

	conf := &Config{
		Store:        f.store,
		PDF:          pdfs,
		Email:        dispatcher,
		Unsubscriber: f.unsub,
		Schedulers:   schedulers,
		Monetize:     f.enqueuer,
		Auth: Auth{
			AdminSecret:       "admin-secret",
			CronSecret:        "cron-secret",
			TrustedCronHeader: "X-Platform-Cron",
			TrustedCronValue:  "1",
		},
		Audit:   f.sink,
		Metrics: metrics.New(),
		Clock:   clock,
	}
	for _, o := range opts {
		o(conf)
	}
	f.handler = New(conf).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func submission(email string) map[string]interface{} {
	s := map[string]interface{}{
		"company_name":  "Acme",
		"industry":      "fintech",
		"num_employees": 40,
		"data_types":    []string{"pii"},
		"audit_date":    "2026-09-01",
		"role":          "CTO",
	}
	if email != "" {
		s["email"] = email
		s["consent"] = true
	}
	return s
}

func (f *fixture) submit(t *testing.T, email string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/lead/submit", submission(email))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)["lead_id"].(string)
}

func TestSubmitLead(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/lead/submit", submission(""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	id := body["lead_id"].(string)
	results := body["results"].(map[string]interface{})
	assert.Contains(t, results, "readiness_score")
	assert.Contains(t, results, "cost_low")
	assert.Contains(t, results, "cost_high")
	assert.Contains(t, results, "recommendations")
	assert.NotContains(t, rec.Body.String(), "lead_score")
	assert.NotContains(t, rec.Body.String(), "keep_or_sell")

	l, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, l.IsPartial)
	assert.Equal(t, lead.StatusPartial, l.Status)

	assert.Equal(t, []monetize.Task{{LeadID: id, Trigger: monetize.TriggerSubmitted}}, f.enqueuer.tasks)
	assert.Len(t, f.sink.OfType(audit.LeadSubmitted), 1)
}

func TestSubmitLeadValidation(t *testing.T) {
	f := newFixture(t)
	sub := submission("")
	delete(sub, "company_name")

	rec := f.do(t, http.MethodPost, "/lead/submit", sub)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body["fields"], "company_name")
	assert.Empty(t, f.enqueuer.tasks)
}

func TestSetEmail(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "")

	rec := f.do(t, http.MethodPost, "/lead/set-email", map[string]interface{}{"lead_id": id, "email": "CTO@Acme.io", "consent": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, lead.StatusNew, decode(t, rec)["status"])

	l, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "cto@acme.io", l.EmailAddress())
	assert.Len(t, f.enqueuer.tasks, 2)
	assert.Equal(t, monetize.TriggerContactSet, f.enqueuer.tasks[1].Trigger)

	rec = f.do(t, http.MethodPost, "/lead/set-email", map[string]interface{}{"lead_id": "6f1d7c52-7a4e-4f8e-9f0e-3f7c1a2b3c4d", "email": "a@b.io", "consent": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/lead/set-email", map[string]interface{}{"lead_id": id, "email": "a@b.io", "consent": false})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPDFAndEmailFlow(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "cto@acme.io")

	rec := f.do(t, http.MethodPost, "/email/send", map[string]string{"lead_id": id})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "missing_pdf", decode(t, rec)["code"])

	rec = f.do(t, http.MethodPost, "/pdf/generate", map[string]string{"lead_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode(t, rec)
	assert.Equal(t, false, first["cached"])

	rec = f.do(t, http.MethodPost, "/pdf/generate", map[string]string{"lead_id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode(t, rec)
	assert.Equal(t, true, second["cached"])
	assert.Equal(t, first["pdf_path"], second["pdf_path"])

	u, err := url.Parse(second["pdf_url"].(string))
	require.NoError(t, err)
	rec = f.do(t, http.MethodGet, u.RequestURI(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4 "+id, rec.Body.String())

	q := u.Query()
	q.Set("sig", "00")
	rec = f.do(t, http.MethodGet, "/pdf/download?"+q.Encode(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/email/send", map[string]string{"lead_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "stub", decode(t, rec)["provider"])

	rec = f.do(t, http.MethodPost, "/email/send", map[string]string{"lead_id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["already_sent"])
	assert.Equal(t, 1, f.provider.sent)
}

func TestPDFRequiresEmail(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "")

	rec := f.do(t, http.MethodPost, "/pdf/generate", map[string]string{"lead_id": id})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "missing_email", decode(t, rec)["code"])
}

func TestEmailProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("connection reset")
	id := f.submit(t, "cto@acme.io")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/pdf/generate", map[string]string{"lead_id": id}).Code)

	rec := f.do(t, http.MethodPost, "/email/send", map[string]string{"lead_id": id})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestResendEmailRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, "cto@acme.io")

	rec := f.do(t, http.MethodPost, "/admin/resend-email", map[string]string{"lead_id": id})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/resend-email", map[string]string{"lead_id": id}, "Authorization", "Bearer cron-secret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/admin/resend-email", bytes.NewReader([]byte(`{"lead_id":"`+id+`"}`)))
	req.AddCookie(&http.Cookie{Name: "admin_token", Value: "admin-secret"})
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/admin/resend-email", map[string]string{"lead_id": id}, "Authorization", "Bearer admin-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.provider.sent)
}

func TestCronAuthAndRun(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/cron/day-3", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/cron/day-3", nil, "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/cron/day-3", nil, "X-Platform-Cron", "0").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/cron/day-5", nil, "Authorization", "Bearer cron-secret").Code)

	for _, headers := range [][]string{
		{"Authorization", "Bearer cron-secret"},
		{"Authorization", "Bearer admin-secret"},
		{"X-Platform-Cron", "1"},
	} {
		rec := f.do(t, http.MethodGet, "/cron/day-7", nil, headers...)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		for _, k := range []string{"processed", "sent", "skipped", "errors", "duration_ms"} {
			assert.Contains(t, body, k)
		}
	}
}

func TestCronSendsFollowups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	addr := "cto@acme.io"
	id, err := f.store.Create(ctx, &lead.Lead{CompanyName: "Acme", Email: &addr, Consent: true, Status: lead.StatusNew, CreatedAt: now.AddDate(0, 0, -3)})
	require.NoError(t, err)
	_, _, err = f.store.SetPDFPath(ctx, id, "reports/x.pdf")
	require.NoError(t, err)
	_, err = f.store.MarkEmailSent(ctx, id, lead.DeliverySent)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/cron/day-3", nil, "Authorization", "Bearer cron-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["sent"])

	l, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, l.FollowupDay3Sent)
}

func TestPurgeTestData(t *testing.T) {
	f := newFixture(t)
	sub := submission("")
	sub["is_test"] = true
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/lead/submit", sub).Code)
	f.submit(t, "")

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/admin/purge-test-data", nil).Code)

	rec := f.do(t, http.MethodPost, "/admin/purge-test-data", nil, "Authorization", "Bearer admin-secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["leads_deleted"])
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/email/unsubscribe?email=cto@acme.io&token=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	target := "/email/unsubscribe?" + url.Values{
		"email": {"cto@acme.io"},
		"token": {f.unsub.Token("cto@acme.io")},
	}.Encode()
	rec = f.do(t, http.MethodPost, target, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	gone, err := f.store.IsUnsubscribed(context.Background(), "CTO@acme.io")
	require.NoError(t, err)
	assert.True(t, gone)
	assert.Len(t, f.sink.OfType(audit.EmailUnsubscribed), 1)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Limiter = ratelimit.NewMemoryLimiter(2, time.Hour).WithClock(clock)
	})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/lead/submit", submission("")).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/lead/submit", submission("")).Code)
	rec := f.do(t, http.MethodPost, "/lead/submit", submission(""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "")

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "leads_submitted_total")
	assert.Contains(t, rec.Body.String(), `route="/lead/submit"`)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nope", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/lead/submit", nil).Code)
}
