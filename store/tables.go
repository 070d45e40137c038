package store

import (
	"github.com/osr-alliance/backend-lead-pipeline/audit"
	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/storage"
)

/*
It's standard to have the query used to fetch by
the primary key be called {tableName}GetByID
*/
const (
	LeadsGetByID           = "LeadsGetByID"
	LeadsListTest          = "LeadsListTest"
	LeadsSetContact        = "LeadsSetContact"
	LeadsSetEnrichment     = "LeadsSetEnrichment"
	LeadsSetPDFPath        = "LeadsSetPDFPath"
	LeadsMarkEmailSent     = "LeadsMarkEmailSent"
	LeadsSetDeliveryStatus = "LeadsSetDeliveryStatus"
	LeadsMarkSold          = "LeadsMarkSold"
	LeadsDeleteTest        = "LeadsDeleteTest"

	AuditEventsGetByID     = "AuditEventsGetByID"
	AuditEventsByLeadID    = "AuditEventsByLeadID"
	AuditEventsDeleteTest  = "AuditEventsDeleteTest"
	UnsubscribesGetByEmail = "UnsubscribesGetByEmail"
)

const (
	DefaultTTL = (3600 * 24) // 1 day
)

func leadsTable() *storage.Table {
	queries := []*storage.Query{
		leadsGetByID(),
		leadsListTest(),
		leadsSetContact(),
		leadsSetEnrichment(),
		leadsSetPDFPath(),
		leadsMarkEmailSent(),
		leadsSetDeliveryStatus(),
		leadsMarkSold(),
		leadsDeleteTest(),
	}
	for _, day := range lead.FollowupDays {
		queries = append(queries, followupQueries(day)...)
	}

	return &storage.Table{
		Struct:           lead.Lead{},
		PrimaryQueryName: LeadsGetByID,
		PrimaryKeyField:  "id",
		InsertQuery:      leadsInsert,
		Queries:          queries,
	}
}

func auditEventsTable() *storage.Table {
	return &storage.Table{
		Struct:           audit.Event{},
		PrimaryQueryName: AuditEventsGetByID,
		PrimaryKeyField:  "id",
		InsertQuery:      auditEventsInsert,
		Queries: []*storage.Query{
			auditEventsGetByID(),
			auditEventsByLeadID(),
			auditEventsDeleteTest(),
		},
	}
}

func unsubscribesTable() *storage.Table {
	return &storage.Table{
		Struct:           Unsubscribe{},
		PrimaryQueryName: UnsubscribesGetByEmail,
		PrimaryKeyField:  "email",
		InsertQuery:      unsubscribesInsert,
		Queries: []*storage.Query{
			unsubscribesGetByEmail(),
		},
	}
}

// tables builds fresh table definitions; storage.New annotates them in place.
func tables() []*storage.Table {
	return []*storage.Table{
		leadsTable(),
		auditEventsTable(),
		unsubscribesTable(),
	}
}
