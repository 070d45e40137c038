package store

import (
	"fmt"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/storage"
)

const leadsInsert = `INSERT INTO leads (
	id, lead_type, company_name, industry, num_employees, data_types, soc2_requirers,
	audit_date, role, email, consent, utm_source, utm_medium, utm_campaign, variation, is_test,
	readiness_score, estimated_cost_low, estimated_cost_high, lead_score, keep_or_sell,
	company_domain, company_size_band, enriched_at, is_partial, status, pdf_path,
	email_sent, email_delivery_status, followup_day3_sent, followup_day7_sent,
	followup_day3_claimed_at, followup_day7_claimed_at, sold, buyer_email, sale_amount,
	created_at, updated_at
) VALUES (
	:id, :lead_type, :company_name, :industry, :num_employees, :data_types, :soc2_requirers,
	:audit_date, :role, :email, :consent, :utm_source, :utm_medium, :utm_campaign, :variation, :is_test,
	:readiness_score, :estimated_cost_low, :estimated_cost_high, :lead_score, :keep_or_sell,
	:company_domain, :company_size_band, :enriched_at, :is_partial, :status, :pdf_path,
	:email_sent, :email_delivery_status, :followup_day3_sent, :followup_day7_sent,
	:followup_day3_claimed_at, :followup_day7_claimed_at, :sold, :buyer_email, :sale_amount,
	:created_at, :updated_at
) RETURNING *` // note: make sure it's RETURNING *

func leadsGetByID() *storage.Query {
	return &storage.Query{
		Name:     LeadsGetByID,
		CacheKey: "id=%v",

		Query: "SELECT * FROM leads WHERE id = :id",

		CacheTTL: DefaultTTL,

		InsertAction: storage.CacheSet,
		UpdateAction: storage.CacheSet,
		SelectAction: storage.CacheSet,
	}
}

func leadsListTest() *storage.Query {
	return &storage.Query{
		Name:  LeadsListTest,
		Query: "SELECT * FROM leads WHERE is_test = TRUE",
	}
}

// set-email never moves a lead backwards: only partial leads become new.
func leadsSetContact() *storage.Query {
	return &storage.Query{
		Name: LeadsSetContact,
		Kind: storage.QueryUpdate,
		Query: `UPDATE leads SET
	email = :email,
	consent = :consent,
	is_partial = FALSE,
	status = CASE WHEN status = 'partial' THEN 'new' ELSE status END,
	updated_at = :now
WHERE id = :id RETURNING *`,
	}
}

func leadsSetEnrichment() *storage.Query {
	return &storage.Query{
		Name: LeadsSetEnrichment,
		Kind: storage.QueryUpdate,
		Query: `UPDATE leads SET
	company_domain = :company_domain,
	company_size_band = :company_size_band,
	enriched_at = :enriched_at,
	updated_at = :now
WHERE id = :id RETURNING *`,
	}
}

// pdf_path is written at most once.
func leadsSetPDFPath() *storage.Query {
	return &storage.Query{
		Name: LeadsSetPDFPath,
		Kind: storage.QueryUpdate,
		Query: `UPDATE leads SET
	pdf_path = :pdf_path,
	status = CASE WHEN status IN ('partial', 'new') THEN 'pdf_ready' ELSE status END,
	updated_at = :now
WHERE id = :id AND pdf_path IS NULL RETURNING *`,
	}
}

// email_sent implies pdf_path.
func leadsMarkEmailSent() *storage.Query {
	return &storage.Query{
		Name: LeadsMarkEmailSent,
		Kind: storage.QueryUpdate,
		Query: `UPDATE leads SET
	email_sent = TRUE,
	email_delivery_status = :email_delivery_status,
	status = CASE WHEN sold THEN status ELSE 'emailed' END,
	updated_at = :now
WHERE id = :id AND pdf_path IS NOT NULL RETURNING *`,
	}
}

func leadsSetDeliveryStatus() *storage.Query {
	return &storage.Query{
		Name: LeadsSetDeliveryStatus,
		Kind: storage.QueryUpdate,
		Query: `UPDATE leads SET
	email_delivery_status = :email_delivery_status,
	updated_at = :now
WHERE id = :id RETURNING *`,
	}
}

// first sale wins; sold, buyer_email and sale_amount are set together.
func leadsMarkSold() *storage.Query {
	return &storage.Query{
		Name: LeadsMarkSold,
		Kind: storage.QueryUpdate,
		Query: `UPDATE leads SET
	sold = TRUE,
	buyer_email = :buyer_email,
	sale_amount = :sale_amount,
	status = 'sold',
	updated_at = :now
WHERE id = :id AND sold = FALSE RETURNING *`,
	}
}

func leadsDeleteTest() *storage.Query {
	return &storage.Query{
		Name:  LeadsDeleteTest,
		Kind:  storage.QueryExec,
		Query: "DELETE FROM leads WHERE is_test = TRUE",
	}
}

// Per-day follow-up queries. The claim is a lease: it is taken only while the
// latch is unset and no live claim exists; the latch is never cleared.

func listEligibleName(day lead.FollowupDay) string {
	return fmt.Sprintf("LeadsListEligibleFollowup%s", day)
}

func claimFollowupName(day lead.FollowupDay) string {
	return fmt.Sprintf("LeadsClaimFollowup%s", day)
}

func releaseFollowupName(day lead.FollowupDay) string {
	return fmt.Sprintf("LeadsReleaseFollowup%s", day)
}

func markFollowupSentName(day lead.FollowupDay) string {
	return fmt.Sprintf("LeadsMarkFollowupSent%s", day)
}

func followupQueries(day lead.FollowupDay) []*storage.Query {
	sent := fmt.Sprintf("followup_day%d_sent", int(day))
	claimed := fmt.Sprintf("followup_day%d_claimed_at", int(day))

	return []*storage.Query{
		{
			Name: listEligibleName(day),
			Query: fmt.Sprintf(`SELECT * FROM leads
WHERE email_sent = TRUE AND %s = FALSE AND created_at >= :start AND created_at <= :end
ORDER BY created_at, id`, sent),
		},
		{
			Name: claimFollowupName(day),
			Kind: storage.QueryUpdate,
			Query: fmt.Sprintf(`UPDATE leads SET
	%[2]s = :now,
	updated_at = :now
WHERE id = :id AND %[1]s = FALSE AND (%[2]s IS NULL OR %[2]s < :stale_before) RETURNING *`, sent, claimed),
		},
		{
			Name: releaseFollowupName(day),
			Kind: storage.QueryUpdate,
			Query: fmt.Sprintf(`UPDATE leads SET
	%[2]s = NULL,
	updated_at = :now
WHERE id = :id AND %[1]s = FALSE RETURNING *`, sent, claimed),
		},
		{
			Name: markFollowupSentName(day),
			Kind: storage.QueryUpdate,
			Query: fmt.Sprintf(`UPDATE leads SET
	%[1]s = TRUE,
	%[2]s = NULL,
	updated_at = :now
WHERE id = :id RETURNING *`, sent, claimed),
		},
	}
}
