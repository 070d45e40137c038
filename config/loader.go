// Package config loads the service configuration: defaults, then an
// optional YAML file, then LEADPIPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
)

const EnvPrefix = "LEADPIPE"

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Email.UnsubscribeKey == "" {
		cfg.Email.UnsubscribeKey = cfg.PDF.SigningKey
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return cfg, nil
}

// Validate checks what every command needs.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite3, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Followup.BatchSize <= 0 {
		errs = append(errs, errors.New("followup.batch_size must be positive"))
	}
	if c.Followup.ClaimTTL <= 0 {
		errs = append(errs, errors.New("followup.claim_ttl must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateServe additionally checks what the HTTP server needs.
func (c *Config) ValidateServe() error {
	errs := []error{}
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.AdminSecret == "" {
		errs = append(errs, errors.New("auth.admin_secret is required"))
	}
	if c.PDF.SigningKey == "" {
		errs = append(errs, errors.New("pdf.signing_key is required"))
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("public_base_url %q is not an absolute URL", c.PublicBaseURL))
	}
	switch c.Email.Provider {
	case "log":
	case "http":
		if c.Email.APIKey == "" || c.Email.APIURL == "" {
			errs = append(errs, errors.New("email.api_url and email.api_key are required for the http provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("email.provider must be log or http, got %q", c.Email.Provider))
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.requests and ratelimit.window must be positive"))
	}
	if len(c.Buyers) > 0 && c.Monetize.SigningKey == "" {
		errs = append(errs, errors.New("monetize.signing_key is required when buyers are configured"))
	}
	for i, b := range c.Buyers {
		if b.Name == "" || b.URL == "" {
			errs = append(errs, fmt.Errorf("buyers[%d]: name and url are required", i))
		}
		switch b.Classification {
		case "", lead.Keep, lead.Sell:
		default:
			errs = append(errs, fmt.Errorf("buyers[%d]: classification must be keep or sell", i))
		}
	}
	return errors.Join(errs...)
}
