// Package store persists leads, audit events and the unsubscribe list.
//
// Every mutation after creation is a narrow, named transition executed as a
// single conditional UPDATE, so invariants hold across concurrent writers.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/storage"
)

type Store interface {
	Create(ctx context.Context, l *lead.Lead) (string, error)
	GetByID(ctx context.Context, id string) (*lead.Lead, error)

	// SetContact sets email and consent and makes the lead non-partial.
	SetContact(ctx context.Context, id string, email string, consent bool) (*lead.Lead, error)
	SetEnrichment(ctx context.Context, id string, e lead.Enrichment) (*lead.Lead, error)
	// SetPDFPath stores path unless one is already set. won is false when
	// another writer got there first; the returned lead carries the winner.
	SetPDFPath(ctx context.Context, id string, path string) (l *lead.Lead, won bool, err error)
	// MarkEmailSent fails with lead.ErrMissingPDF when the lead has no pdf.
	MarkEmailSent(ctx context.Context, id string, deliveryStatus string) (*lead.Lead, error)
	SetEmailDeliveryStatus(ctx context.Context, id string, deliveryStatus string) (*lead.Lead, error)

	// ClaimFollowup takes the day's lease if the latch is unset and any
	// previous claim is older than staleBefore.
	ClaimFollowup(ctx context.Context, id string, day lead.FollowupDay, now time.Time, staleBefore time.Time) (bool, error)
	ReleaseFollowup(ctx context.Context, id string, day lead.FollowupDay) error
	MarkFollowupSent(ctx context.Context, id string, day lead.FollowupDay) (*lead.Lead, error)
	ListEligibleForFollowup(ctx context.Context, day lead.FollowupDay, window lead.Window, limit int) ([]*lead.Lead, error)

	// MarkSold records the first sale only; later calls return false.
	MarkSold(ctx context.Context, id string, buyerEmail string, amount float64) (bool, error)

	IsUnsubscribed(ctx context.Context, email string) (bool, error)
	Unsubscribe(ctx context.Context, email string, reason string) error

	AppendAudit(ctx context.Context, e *audit.Event) error
	ListAudit(ctx context.Context, leadID string) ([]*audit.Event, error)
	PurgeTestData(ctx context.Context) (PurgeResult, error)

	Ping(ctx context.Context) error
}

// PurgeResult counts rows removed by PurgeTestData.
type PurgeResult struct {
	LeadsDeleted  int64 `json:"leads_deleted"`
	EventsDeleted int64 `json:"events_deleted"`
}

// Unsubscribe is one row of email_unsubscribes.
type Unsubscribe struct {
	Email     string    `json:"email"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type store struct {
	redis *redis.Client // note: it's completely acceptable to have a redis client in the store
	db    *sqlx.DB
	store storage.Storage
	now   func() time.Time
	log   *logrus.Entry
}

type Config struct {
	ReadConn  *sqlx.DB
	WriteConn *sqlx.DB
	Redis     *redis.Client // optional

	ServiceName string
	Debugger    bool
	Logger      *logrus.Entry
	Clock       func() time.Time
}

// New returns the SQL-backed Store.
func New(conf *Config) (Store, error) {
	log := conf.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	serviceName := conf.ServiceName
	if serviceName == "" {
		serviceName = "leadpipe"
	}

	// instantiate the storage
	c := &storage.Config{
		ReadOnlyDbConn:  conf.ReadConn,
		WriteOnlyDbConn: conf.WriteConn,
		Redis:           conf.Redis,
		Tables:          tables(),
		ServiceName:     serviceName,
		DefaultTTL:      DefaultTTL,
		Debugger:        conf.Debugger,
		Logger:          log,
	}

	s, err := storage.New(c)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	now := conf.Clock
	if now == nil {
		now = time.Now
	}

	return &store{
		redis: conf.Redis,
		store: s,
		db:    conf.WriteConn,
		now:   func() time.Time { return now().UTC() },
		log:   log.WithField("component", "store"),
	}, nil
}

func (s *store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping db: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("store: ping redis: %w", err)
		}
	}
	return nil
}

func errInvalidDay(day lead.FollowupDay) error {
	return fmt.Errorf("store: invalid follow-up day %d", int(day))
}
