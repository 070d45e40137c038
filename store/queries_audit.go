package store

import "github.com/osr-alliance/backend-lead-pipeline/storage"

const auditEventsInsert = `INSERT INTO audit_events (id, event_type, lead_id, payload, is_test, created_at)
VALUES
(:id, :event_type, :lead_id, :payload, :is_test, :created_at) RETURNING *` // note: make sure it's RETURNING *

// audit rows are append-only and never read on a hot path; nothing is cached.
func auditEventsGetByID() *storage.Query {
	return &storage.Query{
		Name:  AuditEventsGetByID,
		Query: "SELECT * FROM audit_events WHERE id = :id",
	}
}

func auditEventsByLeadID() *storage.Query {
	return &storage.Query{
		Name:  AuditEventsByLeadID,
		Query: "SELECT * FROM audit_events WHERE lead_id = :lead_id ORDER BY created_at, id",
	}
}

// Events written before the lead was loaded carry only its id; they go with
// the test lead. Run before LeadsDeleteTest.
func auditEventsDeleteTest() *storage.Query {
	return &storage.Query{
		Name: AuditEventsDeleteTest,
		Kind: storage.QueryExec,
		Query: `DELETE FROM audit_events
WHERE is_test = TRUE
OR lead_id IN (SELECT id FROM leads WHERE is_test = TRUE)`,
	}
}
