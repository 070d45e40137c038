package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const leadsDDL = `CREATE TABLE IF NOT EXISTS leads (
	id TEXT PRIMARY KEY,
	lead_type TEXT NOT NULL,
	company_name TEXT NOT NULL,
	industry TEXT NOT NULL,
	num_employees INTEGER NOT NULL,
	data_types TEXT NOT NULL DEFAULT '[]',
	soc2_requirers TEXT NOT NULL DEFAULT '[]',
	audit_date DATE NOT NULL,
	role TEXT NOT NULL,
	email TEXT,
	consent BOOLEAN NOT NULL DEFAULT FALSE,
	utm_source TEXT NOT NULL DEFAULT '',
	utm_medium TEXT NOT NULL DEFAULT '',
	utm_campaign TEXT NOT NULL DEFAULT '',
	variation TEXT NOT NULL DEFAULT '',
	is_test BOOLEAN NOT NULL DEFAULT FALSE,
	readiness_score INTEGER NOT NULL,
	estimated_cost_low INTEGER NOT NULL,
	estimated_cost_high INTEGER NOT NULL,
	lead_score INTEGER NOT NULL,
	keep_or_sell TEXT NOT NULL,
	company_domain TEXT,
	company_size_band TEXT NOT NULL DEFAULT '',
	enriched_at {{timestamp}},
	is_partial BOOLEAN NOT NULL DEFAULT TRUE,
	status TEXT NOT NULL,
	pdf_path TEXT,
	email_sent BOOLEAN NOT NULL DEFAULT FALSE,
	email_delivery_status TEXT NOT NULL DEFAULT '',
	followup_day3_sent BOOLEAN NOT NULL DEFAULT FALSE,
	followup_day7_sent BOOLEAN NOT NULL DEFAULT FALSE,
	followup_day3_claimed_at {{timestamp}},
	followup_day7_claimed_at {{timestamp}},
	sold BOOLEAN NOT NULL DEFAULT FALSE,
	buyer_email TEXT,
	sale_amount DOUBLE PRECISION,
	created_at {{timestamp}} NOT NULL,
	updated_at {{timestamp}} NOT NULL,
	CHECK (estimated_cost_low <= estimated_cost_high),
	CHECK (NOT sold OR (buyer_email IS NOT NULL AND sale_amount IS NOT NULL)),
	CHECK (NOT email_sent OR pdf_path IS NOT NULL)
)`

const auditEventsDDL = `CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	lead_id TEXT,
	payload TEXT NOT NULL DEFAULT '{}',
	is_test BOOLEAN NOT NULL DEFAULT FALSE,
	created_at {{timestamp}} NOT NULL
)`

const unsubscribesDDL = `CREATE TABLE IF NOT EXISTS email_unsubscribes (
	email TEXT PRIMARY KEY,
	reason TEXT NOT NULL DEFAULT '',
	created_at {{timestamp}} NOT NULL
)`

var indexesDDL = []string{
	`CREATE INDEX IF NOT EXISTS leads_followup_day3_idx ON leads (created_at) WHERE email_sent AND NOT followup_day3_sent`,
	`CREATE INDEX IF NOT EXISTS leads_followup_day7_idx ON leads (created_at) WHERE email_sent AND NOT followup_day7_sent`,
	`CREATE INDEX IF NOT EXISTS leads_is_test_idx ON leads (is_test)`,
	`CREATE INDEX IF NOT EXISTS audit_events_lead_id_idx ON audit_events (lead_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS audit_events_is_test_idx ON audit_events (is_test)`,
}

// Migrate creates the tables and indexes if they do not exist. The timestamp
// type is chosen from the connection's driver.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	ts := "TIMESTAMP"
	if db.DriverName() == "postgres" {
		ts = "TIMESTAMPTZ"
	}

	stmts := append([]string{leadsDDL, auditEventsDDL, unsubscribesDDL}, indexesDDL...)
	for _, stmt := range stmts {
		stmt = strings.ReplaceAll(stmt, "{{timestamp}}", ts)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
