package monetize

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/store"
)

var (
	now        = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	webhookKey = []byte("webhook-secret")
)

func clock() time.Time { return now }

type buyerServer struct {
	*httptest.Server
	calls atomic.Int32
}

// newBuyer answers every webhook with status and body after checking the
// signature.
func newBuyer(t *testing.T, status int, body string) *buyerServer {
	b := &buyerServer{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, Sign(webhookKey, raw), r.Header.Get(SignatureHeader))

		var p LeadPayload
		assert.NoError(t, json.Unmarshal(raw, &p))
		assert.NotEmpty(t, p.LeadID)

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(b.Close)
	return b
}

type fixture struct {
	store *store.MemStore
	sink  *audit.MemorySink
}

func newFixture() *fixture {
	return &fixture{store: store.NewMemStore().WithClock(clock), sink: &audit.MemorySink{}}
}

func (f *fixture) dispatcher(buyers ...Buyer) *Dispatcher {
	return New(&Config{
		Workers:        2,
		QueueSize:      64,
		EnqueueTimeout: 20 * time.Millisecond,
		Buyers:         buyers,
		Webhook:        NewWebhookClient(webhookKey, time.Second),
		Store:          f.store,
		Audit:          f.sink,
		Clock:          clock,
	})
}

func (f *fixture) addLead(t *testing.T, class lead.KeepOrSell, email string) string {
	t.Helper()
	l := &lead.Lead{
		CompanyName:  "Acme",
		Industry:     "fintech",
		NumEmployees: 40,
		KeepOrSell:   class,
		IsPartial:    true,
		Status:       lead.StatusPartial,
	}
	if email != "" {
		l.Email = &email
		l.Consent = true
		l.IsPartial = false
		l.Status = lead.StatusNew
	}
	id, err := f.store.Create(context.Background(), l)
	require.NoError(t, err)
	return id
}

func TestCompanyDomain(t *testing.T) {
	assert.Equal(t, "acme.io", CompanyDomain("CEO@Acme.IO"))
	assert.Equal(t, "", CompanyDomain("someone@gmail.com"))
	assert.Equal(t, "", CompanyDomain("no-at-sign"))
	assert.Equal(t, "", CompanyDomain("trailing@"))
	assert.Equal(t, "", CompanyDomain("user@localhost"))
}

func TestBuyerMatches(t *testing.T) {
	l := &lead.Lead{KeepOrSell: lead.Sell, Industry: "fintech"}
	assert.True(t, Buyer{Classification: lead.Sell}.Matches(l))
	assert.True(t, Buyer{}.Matches(l))
	assert.False(t, Buyer{Classification: lead.Keep}.Matches(l))
	assert.True(t, Buyer{Industries: []string{"Healthcare", " FinTech "}}.Matches(l))
	assert.False(t, Buyer{Industries: []string{"healthcare"}}.Matches(l))
}

func TestProcessSellsToHighestOffer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	low := newBuyer(t, http.StatusOK, `{"accepted":true,"buyer_email":"low@buyer.io","price":40}`)
	high := newBuyer(t, http.StatusOK, `{"accepted":true,"buyer_email":"high@buyer.io","price":75.5}`)
	declined := newBuyer(t, http.StatusOK, `{"accepted":false}`)
	broken := newBuyer(t, http.StatusInternalServerError, ``)
	keepOnly := newBuyer(t, http.StatusOK, `{"accepted":true,"buyer_email":"k@buyer.io","price":500}`)
	otherIndustry := newBuyer(t, http.StatusOK, `{"accepted":true,"buyer_email":"h@buyer.io","price":900}`)

	d := f.dispatcher(
		Buyer{Name: "low", URL: low.URL, Classification: lead.Sell},
		Buyer{Name: "high", URL: high.URL, Classification: lead.Sell},
		Buyer{Name: "declined", URL: declined.URL},
		Buyer{Name: "broken", URL: broken.URL, Classification: lead.Sell},
		Buyer{Name: "keep-only", URL: keepOnly.URL, Classification: lead.Keep},
		Buyer{Name: "health", URL: otherIndustry.URL, Industries: []string{"healthcare"}},
	)
	id := f.addLead(t, lead.Sell, "cto@acme.io")

	require.NoError(t, d.Process(ctx, Task{LeadID: id, Trigger: TriggerSubmitted}))

	l, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, l.Sold)
	require.NotNil(t, l.BuyerEmail)
	assert.Equal(t, "high@buyer.io", *l.BuyerEmail)
	assert.Equal(t, 75.5, *l.SaleAmount)
	require.NotNil(t, l.CompanyDomain)
	assert.Equal(t, "acme.io", *l.CompanyDomain)
	assert.Equal(t, "11-50", l.CompanySizeBand)

	assert.Zero(t, keepOnly.calls.Load())
	assert.Zero(t, otherIndustry.calls.Load())
	assert.EqualValues(t, 1, broken.calls.Load())
	assert.Len(t, f.sink.OfType(audit.WebhookDelivered), 3)
	assert.Len(t, f.sink.OfType(audit.WebhookFailed), 1)
	sold := f.sink.OfType(audit.LeadSold)
	require.Len(t, sold, 1)
	assert.Equal(t, "high", sold[0].Payload["buyer"])

	// a sold lead is not offered again
	require.NoError(t, d.Process(ctx, Task{LeadID: id, Trigger: TriggerContactSet}))
	assert.EqualValues(t, 1, high.calls.Load())
	assert.Len(t, f.sink.OfType(audit.LeadSold), 1)
	assert.Len(t, f.sink.OfType(audit.LeadEnriched), 1)
}

func TestProcessKeepLeadIsNotSold(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	buyer := newBuyer(t, http.StatusOK, `{"accepted":true,"buyer_email":"b@buyer.io","price":10}`)
	d := f.dispatcher(Buyer{Name: "any", URL: buyer.URL})
	id := f.addLead(t, lead.Keep, "cto@acme.io")

	require.NoError(t, d.Process(ctx, Task{LeadID: id}))

	l, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, l.Sold)
	assert.EqualValues(t, 1, buyer.calls.Load())
}

func TestProcessPartialLeadIsOnlyEnriched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	buyer := newBuyer(t, http.StatusOK, ``)
	d := f.dispatcher(Buyer{Name: "any", URL: buyer.URL})
	id := f.addLead(t, lead.Sell, "")

	require.NoError(t, d.Process(ctx, Task{LeadID: id}))

	l, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, l.EnrichedAt)
	assert.Nil(t, l.CompanyDomain)
	assert.Zero(t, buyer.calls.Load())
}

func TestProcessUnknownLeadIsAudited(t *testing.T) {
	f := newFixture()
	err := f.dispatcher().Process(context.Background(), Task{LeadID: "missing"})
	assert.ErrorIs(t, err, lead.ErrNotFound)
	assert.Len(t, f.sink.OfType(audit.MonetizationFailed), 1)
}

func TestStopDrainsQueue(t *testing.T) {
	f := newFixture()
	d := f.dispatcher()
	d.Start()

	for i := 0; i < 30; i++ {
		id := f.addLead(t, lead.Keep, "")
		require.NoError(t, d.Enqueue(context.Background(), id, TriggerSubmitted))
	}
	require.NoError(t, d.Stop())

	assert.Len(t, f.sink.OfType(audit.LeadEnriched), 30)
	assert.Zero(t, d.QueueDepth())
	assert.ErrorIs(t, d.Enqueue(context.Background(), "late", TriggerSubmitted), ErrStopped)
}

func TestEnqueueTimesOutWhenFull(t *testing.T) {
	f := newFixture()
	d := New(&Config{QueueSize: 1, EnqueueTimeout: 10 * time.Millisecond, Store: f.store, Audit: f.sink})

	require.NoError(t, d.Enqueue(context.Background(), "a", TriggerSubmitted))
	err := d.Enqueue(context.Background(), "b", TriggerSubmitted)
	assert.ErrorIs(t, err, ErrQueueFull)

	failed := f.sink.OfType(audit.MonetizationEnqueueFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", *failed[0].LeadID)
	assert.NoError(t, d.Stop())
}

type panickingStore struct {
	*store.MemStore
}

func (panickingStore) GetByID(context.Context, string) (*lead.Lead, error) {
	panic("boom")
}

func TestWorkerSurvivesPanic(t *testing.T) {
	f := newFixture()
	d := New(&Config{Workers: 1, Store: panickingStore{f.store}, Audit: f.sink})
	d.Start()

	require.NoError(t, d.Enqueue(context.Background(), "x", TriggerSubmitted))
	require.NoError(t, d.Enqueue(context.Background(), "y", TriggerSubmitted))
	require.NoError(t, d.Stop())

	failed := f.sink.OfType(audit.MonetizationFailed)
	require.Len(t, failed, 2)
	assert.True(t, strings.Contains(failed[1].Payload["error"].(string), "boom"))
}
