package followup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/email"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/store"
)

var now = time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// fakeSender latches the day on success like the email dispatcher does.
type fakeSender struct {
	store *store.MemStore
	calls atomic.Int32
	delay time.Duration
	errs  map[string]error
}

func (f *fakeSender) SendTemplated(ctx context.Context, l *lead.Lead, key email.TemplateKey) (*email.Receipt, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if err := f.errs[l.ID]; err != nil {
		return nil, err
	}
	tpl, _ := email.Lookup(key)
	if _, err := f.store.MarkFollowupSent(ctx, l.ID, tpl.Day); err != nil {
		return nil, err
	}
	return &email.Receipt{Provider: "fake", MessageID: l.ID}, nil
}

type fixture struct {
	store  *store.MemStore
	sink   *audit.MemorySink
	sender *fakeSender
}

func newFixture() *fixture {
	st := store.NewMemStore().WithClock(clock)
	return &fixture{
		store:  st,
		sink:   &audit.MemorySink{},
		sender: &fakeSender{store: st, errs: map[string]error{}},
	}
}

func (f *fixture) scheduler(t *testing.T, day lead.FollowupDay) *Scheduler {
	t.Helper()
	s, err := New(&Config{
		Day:    day,
		Store:  f.store,
		Sender: f.sender,
		Audit:  f.sink,
		Clock:  clock,
	})
	require.NoError(t, err)
	return s
}

// addEmailed creates a lead that received its initial email at createdAt.
func (f *fixture) addEmailed(t *testing.T, addr string, createdAt time.Time) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.store.Create(ctx, &lead.Lead{CompanyName: "Acme", Email: &addr, Status: lead.StatusNew, CreatedAt: createdAt})
	require.NoError(t, err)
	_, _, err = f.store.SetPDFPath(ctx, id, "reports/"+id+".pdf")
	require.NoError(t, err)
	_, err = f.store.MarkEmailSent(ctx, id, lead.DeliverySent)
	require.NoError(t, err)
	return id
}

func TestNewRejectsInvalidDay(t *testing.T) {
	_, err := New(&Config{Day: 5})
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	s := newFixture().scheduler(t, lead.Day3)
	w := s.Window(now)
	assert.Equal(t, now.AddDate(0, 0, -3).Add(-12*time.Hour), w.Start)
	assert.Equal(t, now.AddDate(0, 0, -3).Add(12*time.Hour), w.End)
}

func TestRunSendsOncePerLead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.scheduler(t, lead.Day3)

	inWindow := f.addEmailed(t, "a@acme.io", now.AddDate(0, 0, -3))
	f.addEmailed(t, "b@acme.io", now.AddDate(0, 0, -5))
	tooRecent := f.addEmailed(t, "c@acme.io", now.AddDate(0, 0, -2))

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 3, sum.Day)

	l, err := f.store.GetByID(ctx, inWindow)
	require.NoError(t, err)
	assert.True(t, l.FollowupDay3Sent)
	assert.Nil(t, l.FollowupDay3ClaimedAt)

	l, err = f.store.GetByID(ctx, tooRecent)
	require.NoError(t, err)
	assert.False(t, l.FollowupDay3Sent)

	sum, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
	assert.EqualValues(t, 1, f.sender.calls.Load())

	runs := f.sink.OfType(audit.FollowupRunCompleted)
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0].Payload["sent"])
}

func TestRunSkipsAndLatchesUnsubscribed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.scheduler(t, lead.Day7)

	id := f.addEmailed(t, "gone@acme.io", now.AddDate(0, 0, -7))
	require.NoError(t, f.store.Unsubscribe(ctx, "gone@acme.io", "user"))

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Day: 7, Processed: 1, Skipped: 1}, sum)
	assert.Zero(t, f.sender.calls.Load())

	l, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, l.FollowupDay7Sent)
}

func TestRunLatchesWhenDispatcherReportsUnsubscribe(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.scheduler(t, lead.Day3)

	id := f.addEmailed(t, "a@acme.io", now.AddDate(0, 0, -3))
	f.sender.errs[id] = lead.ErrUnsubscribed

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)

	l, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, l.FollowupDay3Sent)
}

func TestRunReleasesClaimOnFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.scheduler(t, lead.Day3)

	id := f.addEmailed(t, "a@acme.io", now.AddDate(0, 0, -3))
	f.sender.errs[id] = lead.NewProviderError("fake", errors.New("timeout"))

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)

	l, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, l.FollowupDay3Sent)
	assert.Nil(t, l.FollowupDay3ClaimedAt)

	delete(f.sender.errs, id)
	sum, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
}

func TestRunKeepsClaimWhenSendNotRecorded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.scheduler(t, lead.Day3)

	id := f.addEmailed(t, "a@acme.io", now.AddDate(0, 0, -3))
	f.sender.errs[id] = email.ErrNotRecorded

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)

	l, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, l.FollowupDay3ClaimedAt)

	delete(f.sender.errs, id)
	sum, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.EqualValues(t, 1, f.sender.calls.Load())
}

func TestOverlappingRunsSendOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.sender.delay = 20 * time.Millisecond
	for i := 0; i < 5; i++ {
		f.addEmailed(t, "a@acme.io", now.AddDate(0, 0, -3).Add(time.Duration(i)*time.Minute))
	}

	schedulers := make([]*Scheduler, 4)
	for i := range schedulers {
		schedulers[i] = f.scheduler(t, lead.Day3)
	}

	var wg sync.WaitGroup
	sums := make([]Summary, len(schedulers))
	for i := range schedulers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sum, err := schedulers[i].Run(ctx)
			assert.NoError(t, err)
			sums[i] = sum
		}(i)
	}
	wg.Wait()

	sent := 0
	for _, s := range sums {
		sent += s.Sent
		assert.Zero(t, s.Errors)
	}
	assert.Equal(t, 5, sent)
	assert.EqualValues(t, 5, f.sender.calls.Load())
}

func TestRunContinuesPastFailedLead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.scheduler(t, lead.Day3)

	ids := []string{
		f.addEmailed(t, "a@acme.io", now.AddDate(0, 0, -3).Add(-time.Hour)),
		f.addEmailed(t, "b@acme.io", now.AddDate(0, 0, -3)),
		f.addEmailed(t, "c@acme.io", now.AddDate(0, 0, -3).Add(time.Hour)),
	}
	f.sender.errs[ids[1]] = lead.NewProviderError("fake", errors.New("503"))

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Day: 3, Processed: 3, Sent: 2, Errors: 1}, sum)

	for i, want := range []bool{true, false, true} {
		l, err := f.store.GetByID(ctx, ids[i])
		require.NoError(t, err)
		assert.Equal(t, want, l.FollowupDay3Sent, "lead %d", i)
		assert.Nil(t, l.FollowupDay3ClaimedAt, "lead %d", i)
	}
	assert.EqualValues(t, 3, f.sender.calls.Load())
}

func TestRunWithNothingEligible(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	s := f.scheduler(t, lead.Day3)

	// in the window but never emailed
	addr := "new@acme.io"
	_, err := f.store.Create(ctx, &lead.Lead{CompanyName: "Acme", Email: &addr, Status: lead.StatusNew, CreatedAt: now.AddDate(0, 0, -3)})
	require.NoError(t, err)
	// emailed long ago
	f.addEmailed(t, "old@acme.io", now.AddDate(0, 0, -30))

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Day: 3}, sum)
	assert.Zero(t, f.sender.calls.Load())
	assert.Equal(t, []string{audit.FollowupRunCompleted}, f.sink.Types())
}

// flakyStore fails lookups and claims for chosen leads.
type flakyStore struct {
	*store.MemStore
	lookupFails map[string]bool // by email
	claimFails  map[string]bool // by id
	latchFails  bool
}

func (s *flakyStore) IsUnsubscribed(ctx context.Context, addr string) (bool, error) {
	if s.lookupFails[addr] {
		return false, errors.New("lookup timeout")
	}
	return s.MemStore.IsUnsubscribed(ctx, addr)
}

func (s *flakyStore) ClaimFollowup(ctx context.Context, id string, day lead.FollowupDay, at time.Time, staleBefore time.Time) (bool, error) {
	if s.claimFails[id] {
		return false, errors.New("claim timeout")
	}
	return s.MemStore.ClaimFollowup(ctx, id, day, at, staleBefore)
}

func (s *flakyStore) MarkFollowupSent(ctx context.Context, id string, day lead.FollowupDay) (*lead.Lead, error) {
	if s.latchFails {
		return nil, errors.New("latch timeout")
	}
	return s.MemStore.MarkFollowupSent(ctx, id, day)
}

func TestRunAuditsStoreFailures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	lookup := f.addEmailed(t, "a@acme.io", now.AddDate(0, 0, -7))
	claim := f.addEmailed(t, "b@acme.io", now.AddDate(0, 0, -7))
	latch := f.addEmailed(t, "c@acme.io", now.AddDate(0, 0, -7))
	require.NoError(t, f.store.Unsubscribe(ctx, "c@acme.io", "user"))

	flaky := &flakyStore{
		MemStore:    f.store,
		lookupFails: map[string]bool{"a@acme.io": true},
		claimFails:  map[string]bool{claim: true},
		latchFails:  true,
	}
	s, err := New(&Config{Day: lead.Day7, Store: flaky, Sender: f.sender, Audit: f.sink, Clock: clock})
	require.NoError(t, err)

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Errors)
	assert.Zero(t, f.sender.calls.Load())

	stages := map[string]string{}
	for _, e := range f.sink.OfType(audit.FollowupLeadFailed) {
		stages[*e.LeadID] = e.Payload["stage"].(string)
		assert.Equal(t, 7, e.Payload["day"])
		assert.NotEmpty(t, e.Payload["error"])
	}
	assert.Equal(t, map[string]string{
		lookup: "unsubscribe_check",
		claim:  "claim",
		latch:  "latch",
	}, stages)
}

type failingStore struct {
	*store.MemStore
}

func (failingStore) ListEligibleForFollowup(context.Context, lead.FollowupDay, lead.Window, int) ([]*lead.Lead, error) {
	return nil, errors.New("connection refused")
}

func TestRunFailsWhenListingFails(t *testing.T) {
	f := newFixture()
	s, err := New(&Config{Day: lead.Day7, Store: failingStore{f.store}, Sender: f.sender, Audit: f.sink, Clock: clock})
	require.NoError(t, err)

	_, err = s.Run(context.Background())
	require.Error(t, err)
	assert.Len(t, f.sink.OfType(audit.FollowupRunFailed), 1)
	assert.Empty(t, f.sink.OfType(audit.FollowupRunCompleted))
}

func TestRunWithDispatcher(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	provider := email.NewLogProvider(nil)
	d := email.NewDispatcher(&email.Config{
		Store:        f.store,
		Provider:     provider,
		From:         "reports@example.com",
		Links:        linker{},
		Unsubscriber: email.NewUnsubscriber([]byte("k"), "https://leads.example.com"),
		Audit:        f.sink,
	})
	s, err := New(&Config{Day: lead.Day3, Store: f.store, Sender: d, Audit: f.sink, Clock: clock})
	require.NoError(t, err)

	id := f.addEmailed(t, "a@acme.io", now.AddDate(0, 0, -3))
	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)

	l, err := f.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, l.FollowupDay3Sent)
	assert.Len(t, f.sink.OfType(audit.EmailSent), 1)
}

type linker struct{}

func (linker) SignedURL(path string) (string, time.Time) { return "https://x/" + path, now }
