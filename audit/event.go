package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the pipeline.
const (
	LeadSubmitted             = "lead_submitted"
	LeadContactSet            = "lead_contact_set"
	LeadEnriched              = "lead_enriched"
	LeadSold                  = "lead_sold"
	PDFGenerationStarted      = "pdf_generation_started"
	PDFGenerated              = "pdf_generated"
	PDFURLRefreshed           = "pdf_url_refreshed"
	PDFGenerationFailed       = "pdf_generation_failed"
	EmailPreconditionFailed   = "email_precondition_failed"
	EmailSent                 = "email_sent"
	EmailSendFailed           = "email_send_failed"
	EmailRecordFailed         = "email_record_failed"
	EmailUnsubscribed         = "email_unsubscribed"
	FollowupRunCompleted      = "followup_run_completed"
	FollowupRunFailed         = "followup_run_failed"
	FollowupLeadFailed        = "followup_lead_failed"
	MonetizationEnqueueFailed = "monetization_enqueue_failed"
	MonetizationFailed        = "monetization_failed"
	WebhookFailed             = "webhook_failed"
	WebhookDelivered          = "webhook_delivered"
	TestDataPurged            = "test_data_purged"
)

// Payload is the free-form body of an event.
type Payload map[string]interface{}

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]interface{}(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("audit: cannot scan Payload from %T", src)
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("audit: scan Payload: %w", err)
	}
	*p = m
	return nil
}

// Event is one row of the audit_events table.
type Event struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	LeadID    *string   `json:"lead_id"`
	Payload   Payload   `json:"payload"`
	IsTest    bool      `json:"is_test"`
	CreatedAt time.Time `json:"created_at"`
}
