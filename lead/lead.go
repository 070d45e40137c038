// Package lead holds the Lead entity shared by every stage of the pipeline,
// along with the sentinel errors used to classify pipeline failures.
package lead

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// KeepOrSell is the routing classification produced by the scoring engine.
type KeepOrSell string

const (
	Keep KeepOrSell = "keep"
	Sell KeepOrSell = "sell"
)

// Lifecycle status labels. Status is free text in storage; these are the
// labels the pipeline itself writes.
const (
	StatusPartial  = "partial"
	StatusNew      = "new"
	StatusPDFReady = "pdf_ready"
	StatusEmailed  = "emailed"
	StatusSold     = "sold"
)

// Email delivery statuses written by the initial send.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// FollowupDay identifies one of the scheduled follow-up sends.
type FollowupDay int

const (
	Day3 FollowupDay = 3
	Day7 FollowupDay = 7
)

// FollowupDays lists every follow-up day the pipeline runs.
var FollowupDays = []FollowupDay{Day3, Day7}

func (d FollowupDay) Valid() bool {
	return d == Day3 || d == Day7
}

func (d FollowupDay) String() string {
	return fmt.Sprintf("day%d", int(d))
}

// Lead is one form submission. Fields map 1:1 onto the leads table; the json
// tag doubles as the column name.
type Lead struct {
	ID       string `json:"id"`
	LeadType string `json:"lead_type"`

	CompanyName   string    `json:"company_name"`
	Industry      string    `json:"industry"`
	NumEmployees  int       `json:"num_employees"`
	DataTypes     StringSet `json:"data_types"`
	SOC2Requirers StringSet `json:"soc2_requirers"`
	AuditDate     time.Time `json:"audit_date"`
	Role          string    `json:"role"`
	Email         *string   `json:"email"`
	Consent       bool      `json:"consent"`
	UTMSource     string    `json:"utm_source"`
	UTMMedium     string    `json:"utm_medium"`
	UTMCampaign   string    `json:"utm_campaign"`
	Variation     string    `json:"variation"`
	IsTest        bool      `json:"is_test"`

	ReadinessScore    int        `json:"readiness_score"`
	EstimatedCostLow  int        `json:"estimated_cost_low"`
	EstimatedCostHigh int        `json:"estimated_cost_high"`
	LeadScore         int        `json:"lead_score"`
	KeepOrSell        KeepOrSell `json:"keep_or_sell"`

	CompanyDomain   *string    `json:"company_domain"`
	CompanySizeBand string     `json:"company_size_band"`
	EnrichedAt      *time.Time `json:"enriched_at"`

	IsPartial             bool       `json:"is_partial"`
	Status                string     `json:"status"`
	PDFPath               *string    `json:"pdf_path"`
	EmailSent             bool       `json:"email_sent"`
	EmailDeliveryStatus   string     `json:"email_delivery_status"`
	FollowupDay3Sent      bool       `json:"followup_day3_sent"`
	FollowupDay7Sent      bool       `json:"followup_day7_sent"`
	FollowupDay3ClaimedAt *time.Time `json:"followup_day3_claimed_at"`
	FollowupDay7ClaimedAt *time.Time `json:"followup_day7_claimed_at"`
	Sold                  bool       `json:"sold"`
	BuyerEmail            *string    `json:"buyer_email"`
	SaleAmount            *float64   `json:"sale_amount"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailAddress returns the lead's email or "" when none has been set.
func (l *Lead) EmailAddress() string {
	if l.Email == nil {
		return ""
	}
	return *l.Email
}

func (l *Lead) HasEmail() bool {
	return l.Email != nil && *l.Email != ""
}

func (l *Lead) HasPDF() bool {
	return l.PDFPath != nil && *l.PDFPath != ""
}

// Clone returns a deep copy of l.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	c := *l
	c.DataTypes = append(StringSet(nil), l.DataTypes...)
	c.SOC2Requirers = append(StringSet(nil), l.SOC2Requirers...)
	c.Email = cloneString(l.Email)
	c.CompanyDomain = cloneString(l.CompanyDomain)
	c.PDFPath = cloneString(l.PDFPath)
	c.BuyerEmail = cloneString(l.BuyerEmail)
	c.EnrichedAt = cloneTime(l.EnrichedAt)
	c.FollowupDay3ClaimedAt = cloneTime(l.FollowupDay3ClaimedAt)
	c.FollowupDay7ClaimedAt = cloneTime(l.FollowupDay7ClaimedAt)
	if l.SaleAmount != nil {
		v := *l.SaleAmount
		c.SaleAmount = &v
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// FollowupSent reports the latch for the given day.
func (l *Lead) FollowupSent(day FollowupDay) bool {
	switch day {
	case Day3:
		return l.FollowupDay3Sent
	case Day7:
		return l.FollowupDay7Sent
	}
	return false
}

// FollowupClaimedAt reports the claim lease for the given day.
func (l *Lead) FollowupClaimedAt(day FollowupDay) *time.Time {
	switch day {
	case Day3:
		return l.FollowupDay3ClaimedAt
	case Day7:
		return l.FollowupDay7ClaimedAt
	}
	return nil
}

// Enrichment is the set of inferred attributes written by the monetization
// dispatcher.
type Enrichment struct {
	CompanyDomain   string
	CompanySizeBand string
	EnrichedAt      time.Time
}

// Window is an inclusive created_at range.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// StringSet is a sorted, de-duplicated, lower-cased set of strings. It is
// persisted as a JSON array so it works on any SQL dialect.
type StringSet []string

// NewStringSet normalizes values into a set.
func NewStringSet(values ...string) StringSet {
	seen := map[string]struct{}{}
	out := StringSet{}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) Has(v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *StringSet) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = StringSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("lead: cannot scan StringSet from " + fmt.Sprintf("%T", src))
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("lead: scan StringSet: %w", err)
	}
	*s = NewStringSet(values...)
	return nil
}
