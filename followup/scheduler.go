// Package followup sends the day-3 and day-7 follow-up emails.
//
// A run lists leads created N days ago (+/- 12h) whose latch is unset, takes
// a claim lease on each before sending, and latches the day only after a
// confirmed send or a confirmed skip. Overlapping runs never send twice.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/email"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/metrics"
)

const (
	DefaultBatchSize = 100
	DefaultClaimTTL  = 15 * time.Minute

	windowSlack = 12 * time.Hour
)

// LeadStore is the part of the lead store a scheduler needs.
type LeadStore interface {
	ListEligibleForFollowup(ctx context.Context, day lead.FollowupDay, window lead.Window, limit int) ([]*lead.Lead, error)
	IsUnsubscribed(ctx context.Context, email string) (bool, error)
	ClaimFollowup(ctx context.Context, id string, day lead.FollowupDay, now time.Time, staleBefore time.Time) (bool, error)
	ReleaseFollowup(ctx context.Context, id string, day lead.FollowupDay) error
	MarkFollowupSent(ctx context.Context, id string, day lead.FollowupDay) (*lead.Lead, error)
}

// Sender is implemented by *email.Dispatcher.
type Sender interface {
	SendTemplated(ctx context.Context, l *lead.Lead, key email.TemplateKey) (*email.Receipt, error)
}

// Summary reports one run.
type Summary struct {
	Day        int   `json:"day"`
	Processed  int   `json:"processed"`
	Sent       int   `json:"sent"`
	Skipped    int   `json:"skipped"`
	Errors     int   `json:"errors"`
	DurationMS int64 `json:"duration_ms"`
}

func (s Summary) payload() audit.Payload {
	return audit.Payload{
		"day":         s.Day,
		"processed":   s.Processed,
		"sent":        s.Sent,
		"skipped":     s.Skipped,
		"errors":      s.Errors,
		"duration_ms": s.DurationMS,
	}
}

type Config struct {
	Day       lead.FollowupDay
	BatchSize int           // 0 = DefaultBatchSize
	ClaimTTL  time.Duration // 0 = DefaultClaimTTL

	Store   LeadStore
	Sender  Sender
	Audit   audit.Appender
	Metrics *metrics.Metrics
	Logger  *logrus.Entry
	Clock   func() time.Time
}

type Scheduler struct {
	day      lead.FollowupDay
	template email.TemplateKey
	batch    int
	claimTTL time.Duration

	store   LeadStore
	sender  Sender
	audit   audit.Appender
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

func New(conf *Config) (*Scheduler, error) {
	if !conf.Day.Valid() {
		return nil, fmt.Errorf("followup: invalid day %d", conf.Day)
	}
	if _, ok := email.Lookup(email.ForDay(conf.Day)); !ok {
		return nil, fmt.Errorf("followup: no template for %s", conf.Day)
	}
	s := &Scheduler{
		day:      conf.Day,
		template: email.ForDay(conf.Day),
		batch:    conf.BatchSize,
		claimTTL: conf.ClaimTTL,
		store:    conf.Store,
		sender:   conf.Sender,
		audit:    conf.Audit,
		metrics:  conf.Metrics,
		log:      conf.Logger,
		now:      conf.Clock,
	}
	if s.batch <= 0 {
		s.batch = DefaultBatchSize
	}
	if s.claimTTL <= 0 {
		s.claimTTL = DefaultClaimTTL
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithFields(logrus.Fields{"component": "followup", "day": int(conf.Day)})
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Scheduler) Day() lead.FollowupDay { return s.day }

// Window is the creation-time range a run at now looks at.
func (s *Scheduler) Window(now time.Time) lead.Window {
	target := now.UTC().AddDate(0, 0, -int(s.day))
	return lead.Window{Start: target.Add(-windowSlack), End: target.Add(windowSlack)}
}

// Run processes one batch. Only a listing failure fails the run; per-lead
// failures are counted and retried by the next run.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	start := s.now()
	sum := Summary{Day: int(s.day)}

	leads, err := s.store.ListEligibleForFollowup(ctx, s.day, s.Window(start), s.batch)
	if err != nil {
		err = fmt.Errorf("followup: list eligible: %w", err)
		sum.DurationMS = s.now().Sub(start).Milliseconds()
		p := sum.payload()
		p["error"] = err.Error()
		s.audit.Append(ctx, audit.FollowupRunFailed, p)
		s.metrics.FollowupRun(int(s.day), "failed", 0, 0, 0)
		s.log.WithError(err).Error("follow-up run failed")
		return sum, err
	}

	for _, l := range leads {
		sum.Processed++
		switch s.process(ctx, l) {
		case resultSent:
			sum.Sent++
		case resultSkipped:
			sum.Skipped++
		default:
			sum.Errors++
		}
	}

	sum.DurationMS = s.now().Sub(start).Milliseconds()
	s.audit.Append(ctx, audit.FollowupRunCompleted, sum.payload())
	s.metrics.FollowupRun(int(s.day), "completed", sum.Sent, sum.Skipped, sum.Errors)
	s.log.WithFields(logrus.Fields{
		"processed": sum.Processed,
		"sent":      sum.Sent,
		"skipped":   sum.Skipped,
		"errors":    sum.Errors,
	}).Info("follow-up run completed")
	return sum, nil
}

type result int

const (
	resultError result = iota
	resultSent
	resultSkipped
)

func (s *Scheduler) process(ctx context.Context, l *lead.Lead) result {
	log := s.log.WithField("lead_id", l.ID)

	unsubscribed, err := s.store.IsUnsubscribed(ctx, l.EmailAddress())
	if err != nil {
		s.leadFailed(ctx, l, "unsubscribe_check", err)
		return resultError
	}
	if unsubscribed {
		return s.latch(ctx, l, log)
	}

	now := s.now()
	won, err := s.store.ClaimFollowup(ctx, l.ID, s.day, now, now.Add(-s.claimTTL))
	if err != nil {
		s.leadFailed(ctx, l, "claim", err)
		return resultError
	}
	if !won {
		log.Debug("lead claimed by another run")
		return resultSkipped
	}

	_, err = s.sender.SendTemplated(ctx, l, s.template)
	switch {
	case err == nil:
		return resultSent
	case lead.IsTerminal(err):
		return s.latch(ctx, l, log)
	case errors.Is(err, email.ErrNotRecorded):
		// the claim stays until it goes stale so the next run does not
		// resend straight away
		log.WithError(err).Error("follow-up sent but not latched")
		return resultError
	default:
		if rerr := s.store.ReleaseFollowup(context.WithoutCancel(ctx), l.ID, s.day); rerr != nil {
			s.leadFailed(ctx, l, "release", rerr)
		}
		log.WithError(err).Warn("follow-up send failed")
		return resultError
	}
}

func (s *Scheduler) latch(ctx context.Context, l *lead.Lead, log *logrus.Entry) result {
	if _, err := s.store.MarkFollowupSent(ctx, l.ID, s.day); err != nil {
		s.leadFailed(ctx, l, "latch", err)
		return resultError
	}
	log.Debug("recipient unsubscribed, follow-up skipped")
	return resultSkipped
}

// leadFailed records a store failure for one lead. Send failures are
// recorded by the email dispatcher.
func (s *Scheduler) leadFailed(ctx context.Context, l *lead.Lead, stage string, err error) {
	s.audit.Append(ctx, audit.FollowupLeadFailed, audit.ForLead(l, audit.Payload{
		"day":   int(s.day),
		"stage": stage,
		"error": err.Error(),
	}))
	s.log.WithError(err).WithFields(logrus.Fields{"lead_id": l.ID, "stage": stage}).Warn("follow-up lead failed")
}
