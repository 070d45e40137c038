package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/storage"
)

func (s *store) Create(ctx context.Context, l *lead.Lead) (string, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := s.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.CreatedAt

	if err := s.store.Insert(ctx, l); err != nil {
		return "", fmt.Errorf("store: create lead: %w", err)
	}
	return l.ID, nil
}

func (s *store) GetByID(ctx context.Context, id string) (*lead.Lead, error) {
	l := &lead.Lead{
		ID: id,
	}
	if err := s.store.Select(ctx, l, LeadsGetByID); err != nil {
		return nil, s.notFound(err, "get lead")
	}
	return l, nil
}

func (s *store) SetContact(ctx context.Context, id string, email string, consent bool) (*lead.Lead, error) {
	l := &lead.Lead{}
	err := s.store.Update(ctx, LeadsSetContact, map[string]interface{}{
		"id":      id,
		"email":   email,
		"consent": consent,
		"now":     s.now(),
	}, l)
	if err != nil {
		return nil, s.notFound(err, "set contact")
	}
	return l, nil
}

func (s *store) SetEnrichment(ctx context.Context, id string, e lead.Enrichment) (*lead.Lead, error) {
	var domain *string
	if e.CompanyDomain != "" {
		domain = &e.CompanyDomain
	}

	l := &lead.Lead{}
	err := s.store.Update(ctx, LeadsSetEnrichment, map[string]interface{}{
		"id":                id,
		"company_domain":    domain,
		"company_size_band": e.CompanySizeBand,
		"enriched_at":       e.EnrichedAt.UTC(),
		"now":               s.now(),
	}, l)
	if err != nil {
		return nil, s.notFound(err, "set enrichment")
	}
	return l, nil
}

func (s *store) SetPDFPath(ctx context.Context, id string, path string) (*lead.Lead, bool, error) {
	l := &lead.Lead{}
	err := s.store.Update(ctx, LeadsSetPDFPath, map[string]interface{}{
		"id":       id,
		"pdf_path": path,
		"now":      s.now(),
	}, l)
	if err == nil {
		return l, true, nil
	}
	if !errors.Is(err, storage.ErrNoRows) {
		return nil, false, fmt.Errorf("store: set pdf path: %w", err)
	}

	// either the lead is gone or another writer set the path first
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *store) MarkEmailSent(ctx context.Context, id string, deliveryStatus string) (*lead.Lead, error) {
	l := &lead.Lead{}
	err := s.store.Update(ctx, LeadsMarkEmailSent, map[string]interface{}{
		"id":                    id,
		"email_delivery_status": deliveryStatus,
		"now":                   s.now(),
	}, l)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, storage.ErrNoRows) {
		return nil, fmt.Errorf("store: mark email sent: %w", err)
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, lead.ErrMissingPDF
}

func (s *store) SetEmailDeliveryStatus(ctx context.Context, id string, deliveryStatus string) (*lead.Lead, error) {
	l := &lead.Lead{}
	err := s.store.Update(ctx, LeadsSetDeliveryStatus, map[string]interface{}{
		"id":                    id,
		"email_delivery_status": deliveryStatus,
		"now":                   s.now(),
	}, l)
	if err != nil {
		return nil, s.notFound(err, "set delivery status")
	}
	return l, nil
}

func (s *store) ClaimFollowup(ctx context.Context, id string, day lead.FollowupDay, now time.Time, staleBefore time.Time) (bool, error) {
	if !day.Valid() {
		return false, errInvalidDay(day)
	}

	l := &lead.Lead{}
	err := s.store.Update(ctx, claimFollowupName(day), map[string]interface{}{
		"id":           id,
		"now":          now.UTC(),
		"stale_before": staleBefore.UTC(),
	}, l)
	if errors.Is(err, storage.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: claim follow-up: %w", err)
	}
	return true, nil
}

func (s *store) ReleaseFollowup(ctx context.Context, id string, day lead.FollowupDay) error {
	if !day.Valid() {
		return errInvalidDay(day)
	}

	err := s.store.Update(ctx, releaseFollowupName(day), map[string]interface{}{
		"id":  id,
		"now": s.now(),
	}, &lead.Lead{})
	// nothing to release once the latch is set
	if err != nil && !errors.Is(err, storage.ErrNoRows) {
		return fmt.Errorf("store: release follow-up: %w", err)
	}
	return nil
}

func (s *store) MarkFollowupSent(ctx context.Context, id string, day lead.FollowupDay) (*lead.Lead, error) {
	if !day.Valid() {
		return nil, errInvalidDay(day)
	}

	l := &lead.Lead{}
	err := s.store.Update(ctx, markFollowupSentName(day), map[string]interface{}{
		"id":  id,
		"now": s.now(),
	}, l)
	if err != nil {
		return nil, s.notFound(err, "mark follow-up sent")
	}
	return l, nil
}

func (s *store) ListEligibleForFollowup(ctx context.Context, day lead.FollowupDay, window lead.Window, limit int) ([]*lead.Lead, error) {
	if !day.Valid() {
		return nil, errInvalidDay(day)
	}

	leads := []*lead.Lead{}
	err := s.store.SelectAll(ctx, map[string]interface{}{
		"start": window.Start.UTC(),
		"end":   window.End.UTC(),
	}, &leads, listEligibleName(day), &storage.SelectOptions{
		Limit:  limit,
		Offset: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("store: list eligible for %s: %w", day, err)
	}
	return leads, nil
}

func (s *store) MarkSold(ctx context.Context, id string, buyerEmail string, amount float64) (bool, error) {
	l := &lead.Lead{}
	err := s.store.Update(ctx, LeadsMarkSold, map[string]interface{}{
		"id":          id,
		"buyer_email": buyerEmail,
		"sale_amount": amount,
		"now":         s.now(),
	}, l)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, storage.ErrNoRows) {
		return false, fmt.Errorf("store: mark sold: %w", err)
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// notFound maps storage.ErrNoRows onto lead.ErrNotFound.
func (s *store) notFound(err error, op string) error {
	if errors.Is(err, storage.ErrNoRows) {
		return lead.ErrNotFound
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
