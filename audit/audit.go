// Package audit records pipeline transitions. Appending never fails from the
// caller's point of view: sink errors are logged with the full event.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
)

// Sink persists events. The lead store implements it.
type Sink interface {
	AppendAudit(ctx context.Context, e *Event) error
}

// Appender is what pipeline components depend on.
type Appender interface {
	Append(ctx context.Context, eventType string, payload Payload)
}

// Log is the production Appender.
type Log struct {
	sink Sink
	log  *logrus.Entry
	now  func() time.Time
}

type Option func(*Log)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger overrides the standard logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(l *Log) { l.log = entry }
}

func New(sink Sink, opts ...Option) *Log {
	l := &Log{
		sink: sink,
		log:  logrus.NewEntry(logrus.StandardLogger()),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.WithField("component", "audit")
	return l
}

// Append writes one event. lead_id and is_test are lifted out of the payload
// into their own columns.
func (l *Log) Append(ctx context.Context, eventType string, payload Payload) {
	if payload == nil {
		payload = Payload{}
	}
	e := &Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		Payload:   payload,
		CreatedAt: l.now().UTC(),
	}
	if id, ok := payload["lead_id"].(string); ok && id != "" {
		e.LeadID = &id
	}
	if isTest, ok := payload["is_test"].(bool); ok {
		e.IsTest = isTest
	}

	fields := logrus.Fields{"event_type": eventType}
	for k, v := range payload {
		fields["payload."+k] = v
	}
	l.log.WithFields(fields).Info("audit event")

	if l.sink == nil {
		return
	}
	// the event must land even if the request that caused it is gone
	if err := l.sink.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		l.log.WithError(err).WithFields(fields).WithField("event_id", e.ID).Error("audit sink failed")
	}
}

// ForLead seeds a payload with the lead's id and test flag.
func ForLead(l *lead.Lead, extra Payload) Payload {
	p := Payload{}
	if l != nil {
		p["lead_id"] = l.ID
		p["is_test"] = l.IsTest
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

// ForLeadID seeds a payload with a lead id when the lead itself is unknown.
func ForLeadID(id string, extra Payload) Payload {
	p := Payload{"lead_id": id}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

// MemorySink keeps events in memory. It is both a Sink and an Appender.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
	Err    error // returned by AppendAudit when set
}

func (m *MemorySink) AppendAudit(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *MemorySink) Append(ctx context.Context, eventType string, payload Payload) {
	if payload == nil {
		payload = Payload{}
	}
	e := &Event{ID: uuid.NewString(), EventType: eventType, Payload: payload, CreatedAt: time.Now().UTC()}
	if id, ok := payload["lead_id"].(string); ok {
		e.LeadID = &id
	}
	_ = m.AppendAudit(ctx, e)
}

// Events returns a copy of everything recorded so far.
func (m *MemorySink) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

// OfType returns recorded events with the given type, in order.
func (m *MemorySink) OfType(eventType string) []*Event {
	out := []*Event{}
	for _, e := range m.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the recorded event types in order.
func (m *MemorySink) Types() []string {
	out := []string{}
	for _, e := range m.Events() {
		out = append(out, e.EventType)
	}
	return out
}
