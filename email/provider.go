package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Message is one outgoing email.
type Message struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Provider delivers messages and returns the provider's message id.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg *Message) (string, error)
}

// HTTPProvider posts messages to a Resend-compatible JSON API.
type HTTPProvider struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPProvider(url, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Send(ctx context.Context, msg *Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("response has no message id")
	}
	return out.ID, nil
}

// LogProvider logs messages instead of sending them. For local development.
type LogProvider struct {
	log *logrus.Entry
}

func NewLogProvider(log *logrus.Entry) *LogProvider {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogProvider{log: log.WithField("component", "email.log_provider")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Send(_ context.Context, msg *Message) (string, error) {
	id := "log-" + uuid.NewString()
	p.log.WithFields(logrus.Fields{
		"message_id": id,
		"to":         msg.To,
		"subject":    msg.Subject,
	}).Info("email not sent: log provider")
	p.log.Debug(msg.Text)
	return id, nil
}
