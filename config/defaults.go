package config

import (
	"time"

	"github.com/spf13/viper"
)

// defaults also registers every key so that environment overrides reach
// Unmarshal.
var defaults = map[string]interface{}{
	"service_name":    "leadpipe",
	"public_base_url": "http://localhost:8080",

	"http.addr":             ":8080",
	"http.read_timeout":     10 * time.Second,
	"http.write_timeout":    30 * time.Second,
	"http.shutdown_timeout": 15 * time.Second,

	"database.driver":   "postgres",
	"database.dsn":      "",
	"database.read_dsn": "",
	"database.debug":    false,

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,

	"auth.admin_secret":        "",
	"auth.cron_secret":         "",
	"auth.trusted_cron_header": "",
	"auth.trusted_cron_value":  "",

	"followup.batch_size": 100,
	"followup.claim_ttl":  15 * time.Minute,

	"pdf.dir":         "./data/pdf",
	"pdf.signing_key": "",
	"pdf.url_ttl":     7 * 24 * time.Hour,
	"pdf.brand":       "SOC 2 Readiness",

	"email.provider":        "log",
	"email.api_url":         "https://api.resend.com/emails",
	"email.api_key":         "",
	"email.from":            "reports@localhost",
	"email.timeout":         10 * time.Second,
	"email.unsubscribe_key": "",

	"monetize.workers":         4,
	"monetize.queue_size":      256,
	"monetize.enqueue_timeout": 100 * time.Millisecond,
	"monetize.webhook_timeout": 5 * time.Second,
	"monetize.signing_key":     "",

	"ratelimit.requests": 30,
	"ratelimit.window":   time.Minute,

	"log.level":  "info",
	"log.format": "json",
}

func setDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
