// Package monetize enriches leads and offers them to buyers off the request
// path.
//
// Tasks go through a bounded queue drained by a fixed set of workers
// supervised by a tomb. Stop refuses new tasks and waits until every queued
// task has been processed. Failures are audited and never reach the caller
// that enqueued the task.
package monetize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/tomb.v2"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/metrics"
	"github.com/osr-alliance/backend-lead-pipeline/scoring"
)

var (
	ErrQueueFull = errors.New("monetize: queue full")
	ErrStopped   = errors.New("monetize: dispatcher stopped")
)

// Triggers.
const (
	TriggerSubmitted  = "lead_submitted"
	TriggerContactSet = "lead_contact_set"
)

const (
	DefaultWorkers        = 4
	DefaultQueueSize      = 256
	DefaultEnqueueTimeout = 100 * time.Millisecond
	DefaultTaskTimeout    = 30 * time.Second

	maxConcurrentWebhooks = 8
)

// LeadStore is the part of the lead store the dispatcher needs.
type LeadStore interface {
	GetByID(ctx context.Context, id string) (*lead.Lead, error)
	SetEnrichment(ctx context.Context, id string, e lead.Enrichment) (*lead.Lead, error)
	MarkSold(ctx context.Context, id string, buyerEmail string, amount float64) (bool, error)
}

// Task is one unit of background work.
type Task struct {
	LeadID  string
	Trigger string
}

type Config struct {
	Workers        int
	QueueSize      int
	EnqueueTimeout time.Duration
	TaskTimeout    time.Duration

	Buyers  []Buyer
	Webhook *WebhookClient
	Engine  *scoring.Engine // nil = scoring.DefaultWeights

	Store   LeadStore
	Audit   audit.Appender
	Metrics *metrics.Metrics
	Logger  *logrus.Entry
	Clock   func() time.Time
}

type Dispatcher struct {
	tomb tomb.Tomb

	queue          chan Task
	workers        int
	enqueueTimeout time.Duration
	taskTimeout    time.Duration

	// mu guards started, stopped and the queue close.
	mu      sync.RWMutex
	started bool
	stopped bool

	buyers  []Buyer
	webhook *WebhookClient
	engine  *scoring.Engine
	store   LeadStore
	audit   audit.Appender
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

func New(conf *Config) *Dispatcher {
	d := &Dispatcher{
		workers:        conf.Workers,
		enqueueTimeout: conf.EnqueueTimeout,
		taskTimeout:    conf.TaskTimeout,
		buyers:         conf.Buyers,
		webhook:        conf.Webhook,
		engine:         conf.Engine,
		store:          conf.Store,
		audit:          conf.Audit,
		metrics:        conf.Metrics,
		log:            conf.Logger,
		now:            conf.Clock,
	}
	if d.workers <= 0 {
		d.workers = DefaultWorkers
	}
	size := conf.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	d.queue = make(chan Task, size)
	if d.enqueueTimeout <= 0 {
		d.enqueueTimeout = DefaultEnqueueTimeout
	}
	if d.taskTimeout <= 0 {
		d.taskTimeout = DefaultTaskTimeout
	}
	if d.engine == nil {
		d.engine = scoring.New(scoring.DefaultWeights)
	}
	if d.log == nil {
		d.log = logrus.NewEntry(logrus.StandardLogger())
	}
	d.log = d.log.WithField("component", "monetize")
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.tomb.Go(d.work)
	}
	d.log.WithField("workers", d.workers).Info("monetization dispatcher started")
}

// Enqueue schedules work for leadID. It waits at most the enqueue timeout for
// queue space; a failure is audited and returned.
func (d *Dispatcher) Enqueue(ctx context.Context, leadID, trigger string) error {
	err := d.enqueue(ctx, Task{LeadID: leadID, Trigger: trigger})
	if err != nil {
		d.audit.Append(ctx, audit.MonetizationEnqueueFailed, audit.ForLeadID(leadID, audit.Payload{
			"trigger": trigger,
			"error":   err.Error(),
		}))
		d.log.WithError(err).WithField("lead_id", leadID).Warn("could not enqueue monetization task")
	}
	return err
}

func (d *Dispatcher) enqueue(ctx context.Context, t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	timer := time.NewTimer(d.enqueueTimeout)
	defer timer.Stop()
	select {
	case d.queue <- t:
		d.metrics.SetQueueDepth(len(d.queue))
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new tasks, drains the queue and waits for the workers.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}

	d.tomb.Kill(nil)
	err := d.tomb.Wait()
	d.log.Info("monetization dispatcher stopped")
	return err
}

// QueueDepth is the number of tasks waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) work() error {
	for t := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		d.run(t)
	}
	return nil
}

// run processes one task, containing panics so a worker survives bad input.
func (d *Dispatcher) run(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			d.audit.Append(ctx, audit.MonetizationFailed, audit.ForLeadID(t.LeadID, audit.Payload{
				"trigger": t.Trigger,
				"error":   err.Error(),
			}))
			d.log.WithError(err).WithField("lead_id", t.LeadID).Error("monetization task panicked")
		}
	}()

	if err := d.Process(ctx, t); err != nil {
		d.log.WithError(err).WithField("lead_id", t.LeadID).Warn("monetization task failed")
	}
}

// Process enriches the lead and, once it has consented contact details,
// offers it to matching buyers. Sell leads go to the highest accepted offer.
func (d *Dispatcher) Process(ctx context.Context, t Task) error {
	l, err := d.store.GetByID(ctx, t.LeadID)
	if err != nil {
		d.fail(ctx, t, err)
		return err
	}

	e := Enrich(d.engine, l, d.now())
	if needsEnrichment(l, e) {
		l, err = d.store.SetEnrichment(ctx, l.ID, e)
		if err != nil {
			d.fail(ctx, t, err)
			return err
		}
		d.audit.Append(ctx, audit.LeadEnriched, audit.ForLead(l, audit.Payload{
			"company_domain":    e.CompanyDomain,
			"company_size_band": e.CompanySizeBand,
		}))
	}

	if l.IsPartial || !l.Consent || !l.HasEmail() {
		d.log.WithField("lead_id", l.ID).Debug("lead has no consented contact, not offered")
		return nil
	}
	if l.Sold {
		return nil
	}

	offers := d.fanOut(ctx, l, t.Trigger)
	if l.KeepOrSell != lead.Sell {
		return nil
	}
	return d.sell(ctx, l, offers)
}

func (d *Dispatcher) fanOut(ctx context.Context, l *lead.Lead, trigger string) []*Offer {
	if d.webhook == nil {
		return nil
	}
	payload := newLeadPayload(l, trigger, d.now())

	var (
		mu     sync.Mutex
		offers []*Offer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentWebhooks)
	for _, b := range d.buyers {
		if !b.Matches(l) {
			continue
		}
		b := b
		g.Go(func() error {
			offer, err := d.webhook.Post(gctx, b, payload)
			if err != nil {
				d.metrics.Webhook(b.Name, "failed")
				d.audit.Append(ctx, audit.WebhookFailed, audit.ForLead(l, audit.Payload{
					"buyer": b.Name,
					"error": err.Error(),
				}))
				d.log.WithError(err).WithFields(logrus.Fields{"lead_id": l.ID, "buyer": b.Name}).Warn("webhook failed")
				return nil
			}
			d.metrics.Webhook(b.Name, "delivered")
			d.audit.Append(ctx, audit.WebhookDelivered, audit.ForLead(l, audit.Payload{
				"buyer":    b.Name,
				"accepted": offer.Accepted,
				"price":    offer.Price,
			}))
			mu.Lock()
			offers = append(offers, offer)
			mu.Unlock()
			return nil
		})
	}
	// every goroutine absorbs its own failure
	_ = g.Wait()
	return offers
}

func (d *Dispatcher) sell(ctx context.Context, l *lead.Lead, offers []*Offer) error {
	var best *Offer
	for _, o := range offers {
		if !o.valid() {
			continue
		}
		if best == nil || o.Price > best.Price || (o.Price == best.Price && o.Buyer < best.Buyer) {
			best = o
		}
	}
	if best == nil {
		return nil
	}

	won, err := d.store.MarkSold(ctx, l.ID, best.BuyerEmail, best.Price)
	if err != nil {
		d.fail(ctx, Task{LeadID: l.ID, Trigger: "sale"}, err)
		return err
	}
	if !won {
		return nil
	}
	d.metrics.LeadSold()
	d.audit.Append(ctx, audit.LeadSold, audit.ForLead(l, audit.Payload{
		"buyer":       best.Buyer,
		"buyer_email": best.BuyerEmail,
		"sale_amount": best.Price,
	}))
	d.log.WithFields(logrus.Fields{"lead_id": l.ID, "buyer": best.Buyer}).Info("lead sold")
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, t Task, err error) {
	d.audit.Append(ctx, audit.MonetizationFailed, audit.ForLeadID(t.LeadID, audit.Payload{
		"trigger": t.Trigger,
		"error":   err.Error(),
	}))
}
