package config

import (
	"time"

	"github.com/osr-alliance/backend-lead-pipeline/monetize"
)

// Config is the full service configuration.
type Config struct {
	ServiceName   string `mapstructure:"service_name"`
	PublicBaseURL string `mapstructure:"public_base_url"`

	HTTP      HTTPConfig       `mapstructure:"http"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Followup  FollowupConfig   `mapstructure:"followup"`
	PDF       PDFConfig        `mapstructure:"pdf"`
	Email     EmailConfig      `mapstructure:"email"`
	Monetize  MonetizeConfig   `mapstructure:"monetize"`
	Buyers    []monetize.Buyer `mapstructure:"buyers"`
	RateLimit RateLimitConfig  `mapstructure:"ratelimit"`
	Log       LogConfig        `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres or sqlite3
	DSN    string `mapstructure:"dsn"`
	// ReadDSN points at a replica; empty means DSN.
	ReadDSN string `mapstructure:"read_dsn"`
	// Debug traces every storage call at debug level.
	Debug bool `mapstructure:"debug"`
}

// RedisConfig enables the row cache and the shared rate limiter. An empty
// Addr disables both.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	AdminSecret       string `mapstructure:"admin_secret"`
	CronSecret        string `mapstructure:"cron_secret"`
	TrustedCronHeader string `mapstructure:"trusted_cron_header"`
	TrustedCronValue  string `mapstructure:"trusted_cron_value"`
}

type FollowupConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	ClaimTTL  time.Duration `mapstructure:"claim_ttl"`
}

type PDFConfig struct {
	Dir        string        `mapstructure:"dir"`
	SigningKey string        `mapstructure:"signing_key"`
	URLTTL     time.Duration `mapstructure:"url_ttl"`
	Brand      string        `mapstructure:"brand"`
}

type EmailConfig struct {
	Provider string        `mapstructure:"provider"` // log or http
	APIURL   string        `mapstructure:"api_url"`
	APIKey   string        `mapstructure:"api_key"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// UnsubscribeKey signs unsubscribe links; empty means pdf.signing_key.
	UnsubscribeKey string `mapstructure:"unsubscribe_key"`
}

type MonetizeConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	SigningKey     string        `mapstructure:"signing_key"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}
