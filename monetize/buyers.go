package monetize

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
)

// SignatureHeader carries "sha256=" + hex(HMAC-SHA256(key, body)).
const SignatureHeader = "X-Leadpipe-Signature"

// Buyer is a downstream lead buyer reached by webhook.
type Buyer struct {
	Name           string          `mapstructure:"name" json:"name"`
	URL            string          `mapstructure:"url" json:"url"`
	Classification lead.KeepOrSell `mapstructure:"classification" json:"classification"`
	// Industries limits the buyer to these industries. Empty means all.
	Industries []string `mapstructure:"industries" json:"industries"`
}

// Matches reports whether l should be offered to b.
func (b Buyer) Matches(l *lead.Lead) bool {
	if b.Classification != "" && b.Classification != l.KeepOrSell {
		return false
	}
	if len(b.Industries) == 0 {
		return true
	}
	for _, ind := range b.Industries {
		if strings.EqualFold(strings.TrimSpace(ind), l.Industry) {
			return true
		}
	}
	return false
}

// Offer is a buyer's answer to a webhook.
type Offer struct {
	Buyer      string  `json:"-"`
	Accepted   bool    `json:"accepted"`
	BuyerEmail string  `json:"buyer_email"`
	Price      float64 `json:"price"`
}

func (o *Offer) valid() bool {
	return o != nil && o.Accepted && o.BuyerEmail != "" && o.Price > 0
}

// LeadPayload is the webhook body.
type LeadPayload struct {
	Event           string          `json:"event"`
	Trigger         string          `json:"trigger"`
	LeadID          string          `json:"lead_id"`
	LeadType        string          `json:"lead_type"`
	CompanyName     string          `json:"company_name"`
	CompanyDomain   string          `json:"company_domain,omitempty"`
	CompanySizeBand string          `json:"company_size_band"`
	Industry        string          `json:"industry"`
	NumEmployees    int             `json:"num_employees"`
	DataTypes       []string        `json:"data_types"`
	SOC2Requirers   []string        `json:"soc2_requirers,omitempty"`
	AuditDate       string          `json:"audit_date"`
	Role            string          `json:"role"`
	Email           string          `json:"email"`
	ReadinessScore  int             `json:"readiness_score"`
	LeadScore       int             `json:"lead_score"`
	KeepOrSell      lead.KeepOrSell `json:"keep_or_sell"`
	IsTest          bool            `json:"is_test"`
	SentAt          time.Time       `json:"sent_at"`
}

func newLeadPayload(l *lead.Lead, trigger string, now time.Time) *LeadPayload {
	p := &LeadPayload{
		Event:           "lead.available",
		Trigger:         trigger,
		LeadID:          l.ID,
		LeadType:        l.LeadType,
		CompanyName:     l.CompanyName,
		CompanySizeBand: l.CompanySizeBand,
		Industry:        l.Industry,
		NumEmployees:    l.NumEmployees,
		DataTypes:       l.DataTypes,
		SOC2Requirers:   l.SOC2Requirers,
		AuditDate:       l.AuditDate.Format("2006-01-02"),
		Role:            l.Role,
		Email:           l.EmailAddress(),
		ReadinessScore:  l.ReadinessScore,
		LeadScore:       l.LeadScore,
		KeepOrSell:      l.KeepOrSell,
		IsTest:          l.IsTest,
		SentAt:          now.UTC(),
	}
	if l.CompanyDomain != nil {
		p.CompanyDomain = *l.CompanyDomain
	}
	return p
}

// Sign returns the signature header value for body.
func Sign(key, body []byte) string {
	m := hmac.New(sha256.New, key)
	m.Write(body)
	return "sha256=" + hex.EncodeToString(m.Sum(nil))
}

// WebhookClient posts signed lead payloads to buyers.
type WebhookClient struct {
	key    []byte
	client *http.Client
}

func NewWebhookClient(key []byte, timeout time.Duration) *WebhookClient {
	return &WebhookClient{key: key, client: &http.Client{Timeout: timeout}}
}

// Post delivers p to b. A 2xx response with an empty body is a delivery
// without an offer.
func (c *WebhookClient) Post(ctx context.Context, b Buyer, p *LeadPayload) (*Offer, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(c.key, body))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	offer := &Offer{Buyer: b.Name}
	if len(bytes.TrimSpace(raw)) == 0 {
		return offer, nil
	}
	if err := json.Unmarshal(raw, offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	return offer, nil
}
