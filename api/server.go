// Package api is the HTTP surface of the lead pipeline.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/email"
	"github.com/osr-alliance/backend-lead-pipeline/followup"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/metrics"
	"github.com/osr-alliance/backend-lead-pipeline/pdf"
	"github.com/osr-alliance/backend-lead-pipeline/ratelimit"
	"github.com/osr-alliance/backend-lead-pipeline/scoring"
	"github.com/osr-alliance/backend-lead-pipeline/store"
)

// Enqueuer hands a lead to background monetization.
type Enqueuer interface {
	Enqueue(ctx context.Context, leadID, trigger string) error
}

// Auth holds the shared secrets. Empty values never match.
type Auth struct {
	AdminSecret       string
	CronSecret        string
	TrustedCronHeader string
	TrustedCronValue  string
}

type Config struct {
	Store        store.Store
	Engine       *scoring.Engine
	PDF          *pdf.Service
	Email        *email.Dispatcher
	Unsubscriber *email.Unsubscriber
	Schedulers   []*followup.Scheduler
	Monetize     Enqueuer
	Limiter      ratelimit.Limiter // nil disables rate limiting
	Auth         Auth
	Audit        audit.Appender
	Metrics      *metrics.Metrics
	Logger       *logrus.Entry
	Clock        func() time.Time
}

type Server struct {
	store      store.Store
	engine     *scoring.Engine
	pdf        *pdf.Service
	email      *email.Dispatcher
	unsub      *email.Unsubscriber
	schedulers map[lead.FollowupDay]*followup.Scheduler
	monetize   Enqueuer
	limiter    ratelimit.Limiter
	auth       Auth
	audit      audit.Appender
	metrics    *metrics.Metrics
	log        *logrus.Entry
	now        func() time.Time
}

func New(conf *Config) *Server {
	s := &Server{
		store:      conf.Store,
		engine:     conf.Engine,
		pdf:        conf.PDF,
		email:      conf.Email,
		unsub:      conf.Unsubscriber,
		schedulers: map[lead.FollowupDay]*followup.Scheduler{},
		monetize:   conf.Monetize,
		limiter:    conf.Limiter,
		auth:       conf.Auth,
		audit:      conf.Audit,
		metrics:    conf.Metrics,
		log:        conf.Logger,
		now:        conf.Clock,
	}
	for _, sch := range conf.Schedulers {
		s.schedulers[sch.Day()] = sch
	}
	if s.engine == nil {
		s.engine = scoring.New(scoring.DefaultWeights)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithField("component", "api")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/lead/submit", s.limited(s.SubmitLead)).Methods(http.MethodPost)
	r.HandleFunc("/lead/set-email", s.limited(s.SetEmail)).Methods(http.MethodPost)
	r.HandleFunc("/pdf/generate", s.limited(s.GeneratePDF)).Methods(http.MethodPost)
	r.HandleFunc("/pdf/download", s.DownloadPDF).Methods(http.MethodGet)
	r.HandleFunc("/email/send", s.limited(s.SendEmail)).Methods(http.MethodPost)
	r.HandleFunc("/email/unsubscribe", s.limited(s.Unsubscribe)).Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/cron/day-{day:[37]}", s.limited(s.cron(s.RunFollowup))).Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/admin/resend-email", s.limited(s.admin(s.ResendEmail))).Methods(http.MethodPost)
	r.HandleFunc("/admin/purge-test-data", s.limited(s.admin(s.PurgeTestData))).Methods(http.MethodPost)

	r.HandleFunc("/healthz", s.Health).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	return r
}
