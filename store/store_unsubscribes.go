package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/osr-alliance/backend-lead-pipeline/storage"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *store) IsUnsubscribed(ctx context.Context, email string) (bool, error) {
	u := &Unsubscribe{
		Email: normalizeEmail(email),
	}
	err := s.store.Select(ctx, u, UnsubscribesGetByEmail)
	if errors.Is(err, storage.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is unsubscribed: %w", err)
	}
	return true, nil
}

// Unsubscribe is idempotent; the first reason recorded is kept.
func (s *store) Unsubscribe(ctx context.Context, email string, reason string) error {
	u := &Unsubscribe{
		Email:     normalizeEmail(email),
		Reason:    reason,
		CreatedAt: s.now(),
	}
	err := s.store.Insert(ctx, u)
	if err != nil && !errors.Is(err, storage.ErrNoRows) {
		return fmt.Errorf("store: unsubscribe: %w", err)
	}
	return nil
}
