// Package pdf renders, stores and links the readiness report for a lead.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/metrics"
)

// LeadStore is the part of the lead store the PDF service needs.
type LeadStore interface {
	GetByID(ctx context.Context, id string) (*lead.Lead, error)
	SetPDFPath(ctx context.Context, id string, path string) (*lead.Lead, bool, error)
}

// Result describes the lead's report.
type Result struct {
	Path      string    `json:"pdf_path"`
	URL       string    `json:"pdf_url"`
	ExpiresAt time.Time `json:"expires_at"`
	Cached    bool      `json:"cached"`
}

type Config struct {
	Store    LeadStore
	Renderer Renderer
	Objects  ObjectStore
	Signer   *Signer
	Audit    audit.Appender
	Metrics  *metrics.Metrics
	Logger   *logrus.Entry
}

type Service struct {
	store    LeadStore
	renderer Renderer
	objects  ObjectStore
	signer   *Signer
	audit    audit.Appender
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

func NewService(conf *Config) *Service {
	log := conf.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:    conf.Store,
		renderer: conf.Renderer,
		objects:  conf.Objects,
		signer:   conf.Signer,
		audit:    conf.Audit,
		metrics:  conf.Metrics,
		log:      log.WithField("component", "pdf"),
	}
}

// EnsurePDF returns the lead's report, rendering it on first use. Repeated
// calls return the stored path with a freshly signed URL.
func (s *Service) EnsurePDF(ctx context.Context, leadID string) (*Result, error) {
	s.audit.Append(ctx, audit.PDFGenerationStarted, audit.ForLeadID(leadID, nil))

	l, err := s.store.GetByID(ctx, leadID)
	if err != nil {
		s.fail(ctx, audit.ForLeadID(leadID, nil), err)
		return nil, err
	}
	if !l.HasEmail() {
		s.fail(ctx, audit.ForLead(l, nil), lead.ErrMissingEmail)
		return nil, lead.ErrMissingEmail
	}

	if l.HasPDF() {
		return s.cached(ctx, l, *l.PDFPath), nil
	}

	data, err := s.renderer.Render(ctx, l)
	if err != nil {
		err = lead.NewProviderError("pdf renderer", err)
		s.fail(ctx, audit.ForLead(l, nil), err)
		return nil, err
	}

	key := fmt.Sprintf("reports/%s/%s.pdf", l.ID, uuid.NewString())
	if err := s.objects.Put(ctx, key, data); err != nil {
		err = lead.NewProviderError("object store", err)
		s.fail(ctx, audit.ForLead(l, nil), err)
		return nil, err
	}

	updated, won, err := s.store.SetPDFPath(ctx, l.ID, key)
	if err != nil {
		s.deleteOrphan(ctx, key)
		s.fail(ctx, audit.ForLead(l, nil), err)
		return nil, err
	}
	if !won {
		// a concurrent request stored its report first; use that one
		s.deleteOrphan(ctx, key)
		return s.cached(ctx, l, *updated.PDFPath), nil
	}

	s.metrics.PDF("rendered")
	s.audit.Append(ctx, audit.PDFGenerated, audit.ForLead(l, audit.Payload{
		"pdf_path": key,
		"bytes":    len(data),
	}))
	s.log.WithField("lead_id", l.ID).Info("pdf generated")
	return s.result(key, false), nil
}

// SignedURL issues a fresh download link for a stored path.
func (s *Service) SignedURL(path string) (string, time.Time) {
	return s.signer.Sign(path)
}

// Open verifies a download link and opens the document.
func (s *Service) Open(ctx context.Context, path, expires, sig string) (io.ReadCloser, error) {
	if err := s.signer.Verify(path, expires, sig); err != nil {
		return nil, err
	}
	return s.objects.Open(ctx, path)
}

func (s *Service) result(path string, cached bool) *Result {
	url, exp := s.signer.Sign(path)
	return &Result{Path: path, URL: url, ExpiresAt: exp, Cached: cached}
}

func (s *Service) cached(ctx context.Context, l *lead.Lead, path string) *Result {
	s.metrics.PDF("cached")
	s.audit.Append(ctx, audit.PDFURLRefreshed, audit.ForLead(l, audit.Payload{
		"pdf_path": path,
		"cached":   true,
	}))
	return s.result(path, true)
}

func (s *Service) fail(ctx context.Context, p audit.Payload, err error) {
	s.metrics.PDF("failed")
	p["error"] = err.Error()
	s.audit.Append(ctx, audit.PDFGenerationFailed, p)
	if !errors.Is(err, lead.ErrNotFound) && !lead.IsPrecondition(err) {
		s.log.WithError(err).WithField("lead_id", p["lead_id"]).Warn("pdf generation failed")
	}
}

func (s *Service) deleteOrphan(ctx context.Context, key string) {
	if err := s.objects.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("could not delete orphaned pdf")
	}
}
