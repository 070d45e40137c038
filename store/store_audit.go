package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
)

func (s *store) AppendAudit(ctx context.Context, e *audit.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if e.Payload == nil {
		e.Payload = audit.Payload{}
	}

	if err := s.store.Insert(ctx, e); err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

func (s *store) ListAudit(ctx context.Context, leadID string) ([]*audit.Event, error) {
	events := []*audit.Event{}
	err := s.store.SelectAll(ctx, map[string]interface{}{"lead_id": leadID}, &events, AuditEventsByLeadID, nil)
	if err != nil {
		return nil, fmt.Errorf("store: list audit: %w", err)
	}
	return events, nil
}

// PurgeTestData deletes every is_test lead and audit event in one
// transaction. Cached leads are evicted once it commits.
func (s *store) PurgeTestData(ctx context.Context) (res PurgeResult, err error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("store: purge test data: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.WithError(rbErr).Warn("purge: rollback failed")
			}
		}
	}()

	leads := []*lead.Lead{}
	if err = tx.SelectAll(ctx, nil, &leads, LeadsListTest, nil); err != nil {
		return PurgeResult{}, fmt.Errorf("store: purge test data: %w", err)
	}
	for _, l := range leads {
		tx.Evict(l)
	}

	n, err := tx.Exec(ctx, AuditEventsDeleteTest, nil)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("store: purge test audit events: %w", err)
	}
	res.EventsDeleted = n

	n, err = tx.Exec(ctx, LeadsDeleteTest, nil)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("store: purge test leads: %w", err)
	}
	res.LeadsDeleted = n

	if err = tx.Commit(ctx); err != nil {
		return PurgeResult{}, fmt.Errorf("store: purge test data: commit: %w", err)
	}
	return res, nil
}
