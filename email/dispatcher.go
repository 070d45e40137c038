// Package email sends templated messages to leads and records the outcome.
package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/metrics"
)

// ErrNotRecorded means the provider accepted the message but the lead could
// not be updated. The message must not be sent again blindly.
var ErrNotRecorded = errors.New("email sent but not recorded")

// LeadStore is the part of the lead store the dispatcher needs.
type LeadStore interface {
	IsUnsubscribed(ctx context.Context, email string) (bool, error)
	MarkEmailSent(ctx context.Context, id string, deliveryStatus string) (*lead.Lead, error)
	SetEmailDeliveryStatus(ctx context.Context, id string, deliveryStatus string) (*lead.Lead, error)
	MarkFollowupSent(ctx context.Context, id string, day lead.FollowupDay) (*lead.Lead, error)
}

// Linker issues download links for stored reports.
type Linker interface {
	SignedURL(path string) (string, time.Time)
}

// Receipt identifies a delivered message.
type Receipt struct {
	Provider  string `json:"provider"`
	MessageID string `json:"message_id"`
}

type Config struct {
	Store        LeadStore
	Provider     Provider
	From         string
	Links        Linker
	Unsubscriber *Unsubscriber
	Audit        audit.Appender
	Metrics      *metrics.Metrics
	Logger       *logrus.Entry
}

type Dispatcher struct {
	store    LeadStore
	provider Provider
	from     string
	links    Linker
	unsub    *Unsubscriber
	audit    audit.Appender
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

func NewDispatcher(conf *Config) *Dispatcher {
	log := conf.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		store:    conf.Store,
		provider: conf.Provider,
		from:     conf.From,
		links:    conf.Links,
		unsub:    conf.Unsubscriber,
		audit:    conf.Audit,
		metrics:  conf.Metrics,
		log:      log.WithField("component", "email"),
	}
}

// SendTemplated renders key for l and sends it. Preconditions are checked in
// order (email, pdf, unsubscribe) and fail without calling the provider. On
// success the matching latch on the lead is set.
func (d *Dispatcher) SendTemplated(ctx context.Context, l *lead.Lead, key TemplateKey) (*Receipt, error) {
	tpl, ok := Lookup(key)
	if !ok {
		return nil, fmt.Errorf("email: unknown template %q", key)
	}
	log := d.log.WithFields(logrus.Fields{"lead_id": l.ID, "template": key})

	if err := d.preconditions(ctx, l, tpl); err != nil {
		if !lead.IsPrecondition(err) {
			d.failed(ctx, l, key, "unsubscribe_check", err)
			return nil, err
		}
		d.metrics.Email(string(key), "precondition_failed")
		d.audit.Append(ctx, audit.EmailPreconditionFailed, audit.ForLead(l, audit.Payload{
			"template": string(key),
			"error":    err.Error(),
		}))
		log.WithError(err).Debug("email precondition failed")
		return nil, err
	}

	msg, err := d.message(l, tpl)
	if err != nil {
		err = fmt.Errorf("email: render %s: %w", key, err)
		d.failed(ctx, l, key, "render", err)
		return nil, err
	}

	id, err := d.provider.Send(ctx, msg)
	if err != nil {
		err = lead.NewProviderError(d.provider.Name(), err)
		d.metrics.Email(string(key), "failed")
		p := audit.ForLead(l, audit.Payload{
			"template": string(key),
			"provider": d.provider.Name(),
			"error":    err.Error(),
		})
		if tpl.Day == 0 {
			if _, serr := d.store.SetEmailDeliveryStatus(ctx, l.ID, lead.DeliveryFailed); serr != nil {
				p["delivery_status_error"] = serr.Error()
				log.WithError(serr).Warn("could not record failed delivery")
			}
		}
		d.audit.Append(ctx, audit.EmailSendFailed, p)
		log.WithError(err).Warn("email send failed")
		return nil, err
	}

	receipt := &Receipt{Provider: d.provider.Name(), MessageID: id}
	d.metrics.Email(string(key), "sent")
	d.audit.Append(ctx, audit.EmailSent, audit.ForLead(l, audit.Payload{
		"template":   string(key),
		"provider":   receipt.Provider,
		"message_id": receipt.MessageID,
	}))

	if err := d.record(ctx, l, tpl); err != nil {
		d.audit.Append(ctx, audit.EmailRecordFailed, audit.ForLead(l, audit.Payload{
			"template":   string(key),
			"message_id": receipt.MessageID,
			"error":      err.Error(),
		}))
		log.WithError(err).Error("email sent but lead not updated")
		return receipt, fmt.Errorf("email: %w: %v", ErrNotRecorded, err)
	}
	log.WithField("message_id", id).Info("email sent")
	return receipt, nil
}

// failed records a failure that happened before the provider was called.
func (d *Dispatcher) failed(ctx context.Context, l *lead.Lead, key TemplateKey, stage string, err error) {
	d.metrics.Email(string(key), "failed")
	d.audit.Append(ctx, audit.EmailSendFailed, audit.ForLead(l, audit.Payload{
		"template": string(key),
		"stage":    stage,
		"error":    err.Error(),
	}))
	d.log.WithError(err).WithFields(logrus.Fields{"lead_id": l.ID, "template": key, "stage": stage}).Warn("email not sent")
}

func (d *Dispatcher) preconditions(ctx context.Context, l *lead.Lead, tpl *Template) error {
	if !l.HasEmail() {
		return lead.ErrMissingEmail
	}
	if tpl.NeedsPDF && !l.HasPDF() {
		return lead.ErrMissingPDF
	}
	unsubscribed, err := d.store.IsUnsubscribed(ctx, l.EmailAddress())
	if err != nil {
		return fmt.Errorf("email: check unsubscribe: %w", err)
	}
	if unsubscribed {
		return lead.ErrUnsubscribed
	}
	return nil
}

func (d *Dispatcher) message(l *lead.Lead, tpl *Template) (*Message, error) {
	data := messageData{
		CompanyName:    l.CompanyName,
		ReadinessScore: l.ReadinessScore,
		CostLow:        l.EstimatedCostLow,
		CostHigh:       l.EstimatedCostHigh,
		AuditDate:      l.AuditDate.Format("January 2, 2006"),
	}
	if l.HasPDF() {
		data.PDFURL, _ = d.links.SignedURL(*l.PDFPath)
	}
	headers := map[string]string{}
	if d.unsub != nil {
		data.UnsubscribeURL = d.unsub.URL(l.EmailAddress())
		headers["List-Unsubscribe"] = "<" + data.UnsubscribeURL + ">"
		headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}

	out, err := tpl.render(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		From:    d.from,
		To:      []string{l.EmailAddress()},
		Subject: out.Subject,
		Text:    out.Text,
		HTML:    out.HTML,
		Headers: headers,
	}, nil
}

func (d *Dispatcher) record(ctx context.Context, l *lead.Lead, tpl *Template) error {
	ctx = context.WithoutCancel(ctx)
	if tpl.Day == 0 {
		_, err := d.store.MarkEmailSent(ctx, l.ID, lead.DeliverySent)
		return err
	}
	_, err := d.store.MarkFollowupSent(ctx, l.ID, tpl.Day)
	return err
}
