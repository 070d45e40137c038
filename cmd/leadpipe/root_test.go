package main

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHasCommands(t *testing.T) {
	names := []string{}
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "followup", "purge-test-data"}, names)
}

func TestFollowupRejectsUnknownDay(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"followup", "--day", "5"})
	assert.ErrorContains(t, cmd.Execute(), "--day must be 3 or 7")
}

func TestServeValidatesConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--memory"})
	assert.ErrorContains(t, cmd.Execute(), "auth.admin_secret")
}

func TestMigrateSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "leads.db")
	t.Setenv("LEADPIPE_DATABASE_DRIVER", "sqlite3")
	t.Setenv("LEADPIPE_DATABASE_DSN", dsn)
	t.Setenv("LEADPIPE_LOG_LEVEL", "error")

	for i := 0; i < 2; i++ {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"migrate"})
		require.NoError(t, cmd.Execute())
	}

	db, err := sqlx.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`))
	assert.Subset(t, tables, []string{"audit_events", "email_unsubscribes", "leads"})
}
