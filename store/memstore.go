package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
)

// MemStore is an in-memory Store with the same conditional-update semantics
// as the SQL store. It backs unit tests and `serve --memory`.
type MemStore struct {
	mu           sync.RWMutex
	leads        map[string]*lead.Lead
	events       []*audit.Event
	unsubscribes map[string]Unsubscribe
	now          func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		leads:        map[string]*lead.Lead{},
		unsubscribes: map[string]Unsubscribe{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides time.Now.
func (m *MemStore) WithClock(now func() time.Time) *MemStore {
	m.now = func() time.Time { return now().UTC() }
	return m
}

func (m *MemStore) Ping(context.Context) error { return nil }

func (m *MemStore) Create(_ context.Context, l *lead.Lead) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = m.now()
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.CreatedAt
	if l.DataTypes == nil {
		l.DataTypes = lead.StringSet{}
	}
	if l.SOC2Requirers == nil {
		l.SOC2Requirers = lead.StringSet{}
	}
	m.leads[l.ID] = l.Clone()
	return l.ID, nil
}

func (m *MemStore) GetByID(_ context.Context, id string) (*lead.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.leads[id]
	if !ok {
		return nil, lead.ErrNotFound
	}
	return l.Clone(), nil
}

// update applies fn to the stored lead under the write lock. fn returns false
// when its condition does not hold.
func (m *MemStore) update(id string, fn func(l *lead.Lead, now time.Time) bool) (*lead.Lead, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leads[id]
	if !ok {
		return nil, false, lead.ErrNotFound
	}
	now := m.now()
	if !fn(l, now) {
		return l.Clone(), false, nil
	}
	l.UpdatedAt = now
	return l.Clone(), true, nil
}

func (m *MemStore) SetContact(_ context.Context, id string, email string, consent bool) (*lead.Lead, error) {
	l, _, err := m.update(id, func(l *lead.Lead, _ time.Time) bool {
		e := email
		l.Email = &e
		l.Consent = consent
		l.IsPartial = false
		if l.Status == lead.StatusPartial {
			l.Status = lead.StatusNew
		}
		return true
	})
	return l, err
}

func (m *MemStore) SetEnrichment(_ context.Context, id string, e lead.Enrichment) (*lead.Lead, error) {
	l, _, err := m.update(id, func(l *lead.Lead, _ time.Time) bool {
		l.CompanyDomain = nil
		if e.CompanyDomain != "" {
			d := e.CompanyDomain
			l.CompanyDomain = &d
		}
		l.CompanySizeBand = e.CompanySizeBand
		at := e.EnrichedAt.UTC()
		l.EnrichedAt = &at
		return true
	})
	return l, err
}

func (m *MemStore) SetPDFPath(_ context.Context, id string, path string) (*lead.Lead, bool, error) {
	return m.update(id, func(l *lead.Lead, _ time.Time) bool {
		if l.PDFPath != nil {
			return false
		}
		p := path
		l.PDFPath = &p
		if l.Status == lead.StatusPartial || l.Status == lead.StatusNew {
			l.Status = lead.StatusPDFReady
		}
		return true
	})
}

func (m *MemStore) MarkEmailSent(_ context.Context, id string, deliveryStatus string) (*lead.Lead, error) {
	l, ok, err := m.update(id, func(l *lead.Lead, _ time.Time) bool {
		if l.PDFPath == nil {
			return false
		}
		l.EmailSent = true
		l.EmailDeliveryStatus = deliveryStatus
		if !l.Sold {
			l.Status = lead.StatusEmailed
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, lead.ErrMissingPDF
	}
	return l, nil
}

func (m *MemStore) SetEmailDeliveryStatus(_ context.Context, id string, deliveryStatus string) (*lead.Lead, error) {
	l, _, err := m.update(id, func(l *lead.Lead, _ time.Time) bool {
		l.EmailDeliveryStatus = deliveryStatus
		return true
	})
	return l, err
}

func claimedAt(l *lead.Lead, day lead.FollowupDay) **time.Time {
	if day == lead.Day3 {
		return &l.FollowupDay3ClaimedAt
	}
	return &l.FollowupDay7ClaimedAt
}

func sentLatch(l *lead.Lead, day lead.FollowupDay) *bool {
	if day == lead.Day3 {
		return &l.FollowupDay3Sent
	}
	return &l.FollowupDay7Sent
}

func (m *MemStore) ClaimFollowup(_ context.Context, id string, day lead.FollowupDay, now time.Time, staleBefore time.Time) (bool, error) {
	if !day.Valid() {
		return false, errInvalidDay(day)
	}
	_, ok, err := m.update(id, func(l *lead.Lead, _ time.Time) bool {
		if *sentLatch(l, day) {
			return false
		}
		claim := claimedAt(l, day)
		if *claim != nil && !(*claim).Before(staleBefore) {
			return false
		}
		at := now.UTC()
		*claim = &at
		return true
	})
	if err == lead.ErrNotFound {
		return false, nil
	}
	return ok, err
}

func (m *MemStore) ReleaseFollowup(_ context.Context, id string, day lead.FollowupDay) error {
	if !day.Valid() {
		return errInvalidDay(day)
	}
	_, _, err := m.update(id, func(l *lead.Lead, _ time.Time) bool {
		if *sentLatch(l, day) {
			return false
		}
		*claimedAt(l, day) = nil
		return true
	})
	if err == lead.ErrNotFound {
		return nil
	}
	return err
}

func (m *MemStore) MarkFollowupSent(_ context.Context, id string, day lead.FollowupDay) (*lead.Lead, error) {
	if !day.Valid() {
		return nil, errInvalidDay(day)
	}
	l, _, err := m.update(id, func(l *lead.Lead, _ time.Time) bool {
		*sentLatch(l, day) = true
		*claimedAt(l, day) = nil
		return true
	})
	return l, err
}

func (m *MemStore) ListEligibleForFollowup(_ context.Context, day lead.FollowupDay, window lead.Window, limit int) ([]*lead.Lead, error) {
	if !day.Valid() {
		return nil, errInvalidDay(day)
	}

	m.mu.RLock()
	out := []*lead.Lead{}
	for _, l := range m.leads {
		if l.EmailSent && !l.FollowupSent(day) && window.Contains(l.CreatedAt) {
			out = append(out, l.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) MarkSold(_ context.Context, id string, buyerEmail string, amount float64) (bool, error) {
	_, ok, err := m.update(id, func(l *lead.Lead, _ time.Time) bool {
		if l.Sold {
			return false
		}
		b, a := buyerEmail, amount
		l.Sold = true
		l.BuyerEmail = &b
		l.SaleAmount = &a
		l.Status = lead.StatusSold
		return true
	})
	return ok, err
}

func (m *MemStore) IsUnsubscribed(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.unsubscribes[normalizeEmail(email)]
	return ok, nil
}

func (m *MemStore) Unsubscribe(_ context.Context, email string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := normalizeEmail(email)
	if _, ok := m.unsubscribes[key]; !ok {
		m.unsubscribes[key] = Unsubscribe{Email: key, Reason: reason, CreatedAt: m.now()}
	}
	return nil
}

func (m *MemStore) AppendAudit(_ context.Context, e *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	c := *e
	m.events = append(m.events, &c)
	return nil
}

func (m *MemStore) ListAudit(_ context.Context, leadID string) ([]*audit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*audit.Event{}
	for _, e := range m.events {
		if e.LeadID != nil && *e.LeadID == leadID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemStore) PurgeTestData(context.Context) (PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := PurgeResult{}
	purged := map[string]bool{}
	for id, l := range m.leads {
		if l.IsTest {
			purged[id] = true
			delete(m.leads, id)
			res.LeadsDeleted++
		}
	}
	kept := m.events[:0]
	for _, e := range m.events {
		if e.IsTest || (e.LeadID != nil && purged[*e.LeadID]) {
			res.EventsDeleted++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return res, nil
}

var _ Store = (*MemStore)(nil)
