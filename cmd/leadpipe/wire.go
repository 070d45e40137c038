package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/osr-alliance/backend-lead-pipeline/api"
	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/config"
	"github.com/osr-alliance/backend-lead-pipeline/email"
	"github.com/osr-alliance/backend-lead-pipeline/followup"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/metrics"
	"github.com/osr-alliance/backend-lead-pipeline/monetize"
	"github.com/osr-alliance/backend-lead-pipeline/pdf"
	"github.com/osr-alliance/backend-lead-pipeline/ratelimit"
	"github.com/osr-alliance/backend-lead-pipeline/scoring"
	"github.com/osr-alliance/backend-lead-pipeline/store"
)

// deps holds the shared handles every command needs.
type deps struct {
	cfg     *config.Config
	log     *logrus.Entry
	writeDB *sqlx.DB
	readDB  *sqlx.DB
	redis   *redis.Client
	store   store.Store
	audit   *audit.Log
	metrics *metrics.Metrics
}

func openDB(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// one writer; also keeps :memory: databases alive across calls
		db.SetMaxOpenConns(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	return db, nil
}

// openDeps connects to the database and redis. memory swaps the SQL store
// for an in-process one.
func openDeps(cfg *config.Config, memory bool) (*deps, error) {
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, err
	}
	d := &deps{
		cfg:     cfg,
		log:     logrus.NewEntry(logger).WithField("service", cfg.ServiceName),
		metrics: metrics.New(),
	}

	if cfg.Redis.Addr != "" {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := d.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			d.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
	}

	if memory {
		d.log.Warn("using the in-memory store; data is lost on exit")
		d.store = store.NewMemStore()
	} else {
		if d.writeDB, err = openDB(cfg.Database.Driver, cfg.Database.DSN); err != nil {
			d.close()
			return nil, err
		}
		d.readDB = d.writeDB
		if cfg.Database.ReadDSN != "" {
			if d.readDB, err = openDB(cfg.Database.Driver, cfg.Database.ReadDSN); err != nil {
				d.close()
				return nil, err
			}
		}
		d.store, err = store.New(&store.Config{
			ReadConn:    d.readDB,
			WriteConn:   d.writeDB,
			Redis:       d.redis,
			ServiceName: cfg.ServiceName,
			Debugger:    cfg.Database.Debug,
			Logger:      d.log,
		})
		if err != nil {
			d.close()
			return nil, err
		}
	}

	d.audit = audit.New(d.store, audit.WithLogger(d.log))
	return d, nil
}

func (d *deps) close() {
	if d.readDB != nil && d.readDB != d.writeDB {
		d.readDB.Close()
	}
	if d.writeDB != nil {
		d.writeDB.Close()
	}
	if d.redis != nil {
		d.redis.Close()
	}
}

// pipeline is every component behind the HTTP surface.
type pipeline struct {
	engine     *scoring.Engine
	pdf        *pdf.Service
	unsub      *email.Unsubscriber
	email      *email.Dispatcher
	schedulers []*followup.Scheduler
	monetize   *monetize.Dispatcher
}

func (d *deps) pipeline() (*pipeline, error) {
	cfg := d.cfg
	p := &pipeline{engine: scoring.New(scoring.DefaultWeights)}

	objects, err := pdf.NewFSStore(cfg.PDF.Dir)
	if err != nil {
		return nil, err
	}
	p.pdf = pdf.NewService(&pdf.Config{
		Store:    d.store,
		Renderer: pdf.NewFPDFRenderer(p.engine, cfg.PDF.Brand),
		Objects:  objects,
		Signer:   pdf.NewSigner([]byte(cfg.PDF.SigningKey), cfg.PublicBaseURL, cfg.PDF.URLTTL),
		Audit:    d.audit,
		Metrics:  d.metrics,
		Logger:   d.log,
	})

	var provider email.Provider
	switch cfg.Email.Provider {
	case "http":
		provider = email.NewHTTPProvider(cfg.Email.APIURL, cfg.Email.APIKey, cfg.Email.Timeout)
	default:
		provider = email.NewLogProvider(d.log)
	}
	p.unsub = email.NewUnsubscriber([]byte(cfg.Email.UnsubscribeKey), cfg.PublicBaseURL)
	p.email = email.NewDispatcher(&email.Config{
		Store:        d.store,
		Provider:     provider,
		From:         cfg.Email.From,
		Links:        p.pdf,
		Unsubscriber: p.unsub,
		Audit:        d.audit,
		Metrics:      d.metrics,
		Logger:       d.log,
	})

	for _, day := range lead.FollowupDays {
		sch, err := d.scheduler(day, p.email)
		if err != nil {
			return nil, err
		}
		p.schedulers = append(p.schedulers, sch)
	}

	p.monetize = monetize.New(&monetize.Config{
		Workers:        cfg.Monetize.Workers,
		QueueSize:      cfg.Monetize.QueueSize,
		EnqueueTimeout: cfg.Monetize.EnqueueTimeout,
		Buyers:         cfg.Buyers,
		Webhook:        monetize.NewWebhookClient([]byte(cfg.Monetize.SigningKey), cfg.Monetize.WebhookTimeout),
		Engine:         p.engine,
		Store:          d.store,
		Audit:          d.audit,
		Metrics:        d.metrics,
		Logger:         d.log,
	})
	return p, nil
}

func (d *deps) scheduler(day lead.FollowupDay, sender followup.Sender) (*followup.Scheduler, error) {
	return followup.New(&followup.Config{
		Day:       day,
		BatchSize: d.cfg.Followup.BatchSize,
		ClaimTTL:  d.cfg.Followup.ClaimTTL,
		Store:     d.store,
		Sender:    sender,
		Audit:     d.audit,
		Metrics:   d.metrics,
		Logger:    d.log,
	})
}

func (d *deps) limiter() ratelimit.Limiter {
	rl := d.cfg.RateLimit
	if d.redis != nil {
		return ratelimit.NewRedisLimiter(d.redis, d.cfg.ServiceName, rl.Requests, rl.Window)
	}
	return ratelimit.NewMemoryLimiter(rl.Requests, rl.Window)
}

func (d *deps) server(p *pipeline) *api.Server {
	a := d.cfg.Auth
	return api.New(&api.Config{
		Store:        d.store,
		Engine:       p.engine,
		PDF:          p.pdf,
		Email:        p.email,
		Unsubscriber: p.unsub,
		Schedulers:   p.schedulers,
		Monetize:     p.monetize,
		Limiter:      d.limiter(),
		Auth: api.Auth{
			AdminSecret:       a.AdminSecret,
			CronSecret:        a.CronSecret,
			TrustedCronHeader: a.TrustedCronHeader,
			TrustedCronValue:  a.TrustedCronValue,
		},
		Audit:   d.audit,
		Metrics: d.metrics,
		Logger:  d.log,
	})
}
