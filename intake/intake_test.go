package intake

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/scoring"
)

const readinessBody = `{
	"company_name": " Acme ",
	"industry": "SaaS",
	"num_employees": 8,
	"data_types": ["pii"],
	"audit_date": "2026-05-31",
	"role": "founder",
	"utm_source": "newsletter"
}`

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok, "expected *ValidationError, got %T", err)
	return ve.Fields
}

func TestDecodeDefaultsToReadinessAssessment(t *testing.T) {
	sub, err := Decode(strings.NewReader(readinessBody))
	require.NoError(t, err)
	require.IsType(t, &ReadinessAssessmentSubmission{}, sub)
	assert.Equal(t, ReadinessAssessment, sub.Type())

	ra := sub.(*ReadinessAssessmentSubmission)
	assert.Equal(t, "newsletter", ra.UTMSource)
	assert.Equal(t, 8, *ra.NumEmployees)
}

func TestDecodeCustomerRequestNeedsRequirers(t *testing.T) {
	body := `{"lead_type":"customer_request","company_name":"Acme","industry":"fintech","num_employees":40,
		"data_types":["financial"],"audit_date":"2026-04-01","role":"cto"}`
	fields := fieldsOf(t, decode(body))
	assert.Equal(t, "is required", fields["soc2_requirers"])

	body = strings.Replace(body, `"role":"cto"`, `"role":"cto","soc2_requirers":["Big Bank"]`, 1)
	sub, err := Decode(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, CustomerRequest, sub.Type())
	assert.Equal(t, []string{"Big Bank"}, sub.(*CustomerRequestSubmission).SOC2Requirers)
}

func decode(body string) error {
	_, err := Decode(strings.NewReader(body))
	return err
}

func TestDecodeReportsMissingFields(t *testing.T) {
	fields := fieldsOf(t, decode(`{"company_name":"Acme"}`))
	for _, f := range []string{"industry", "num_employees", "data_types", "audit_date", "role"} {
		assert.Equal(t, "is required", fields[f], f)
	}
	assert.NotContains(t, fields, "company_name")
}

func TestDecodeRejectsBadInput(t *testing.T) {
	fields := fieldsOf(t, decode(`{"lead_type":"partnership"}`))
	assert.Contains(t, fields["lead_type"], "unknown lead type")

	fields = fieldsOf(t, decode(strings.Replace(readinessBody, `"role"`, `"favorite_color":"red","role"`, 1)))
	assert.Equal(t, "is not allowed", fields["favorite_color"])

	fields = fieldsOf(t, decode(strings.Replace(readinessBody, `"num_employees": 8`, `"num_employees": "eight"`, 1)))
	assert.Equal(t, "has the wrong type", fields["num_employees"])

	fields = fieldsOf(t, decode(strings.Replace(readinessBody, "2026-05-31", "31/05/2026", 1)))
	assert.Equal(t, "must be a date formatted YYYY-MM-DD", fields["audit_date"])

	fields = fieldsOf(t, decode(`[1,2]`))
	assert.Contains(t, fields, "body")
}

func TestDecodeEmailNeedsConsent(t *testing.T) {
	body := strings.Replace(readinessBody, `"role": "founder"`, `"role": "founder", "email": "a@acme.io"`, 1)
	fields := fieldsOf(t, decode(body))
	assert.Contains(t, fields, "consent")

	body = strings.Replace(readinessBody, `"role": "founder"`, `"role": "founder", "email": "not-an-email", "consent": true`, 1)
	fields = fieldsOf(t, decode(body))
	assert.Equal(t, "must be a valid email address", fields["email"])
}

func TestLeadBuildsPartialLead(t *testing.T) {
	sub, err := Decode(strings.NewReader(readinessBody))
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)
	l, res := Lead(sub, scoring.New(scoring.DefaultWeights), "id-1", now)

	assert.Equal(t, "id-1", l.ID)
	assert.Equal(t, "Acme", l.CompanyName)
	assert.Equal(t, "saas", l.Industry)
	assert.True(t, l.IsPartial)
	assert.Equal(t, lead.StatusPartial, l.Status)
	assert.Nil(t, l.Email)
	assert.Equal(t, res.ReadinessScore, l.ReadinessScore)
	assert.Equal(t, res.KeepOrSell, l.KeepOrSell)
	assert.Equal(t, "1-10", l.CompanySizeBand)
	assert.Equal(t, now, l.CreatedAt)
	assert.Equal(t, time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC), l.AuditDate)
}

func TestLeadWithConsentedEmailIsComplete(t *testing.T) {
	body := strings.Replace(readinessBody, `"role": "founder"`, `"role": "founder", "email": " CEO@Acme.io ", "consent": true`, 1)
	sub, err := Decode(strings.NewReader(body))
	require.NoError(t, err)

	l, _ := Lead(sub, scoring.New(scoring.DefaultWeights), "id-2", time.Now())
	assert.False(t, l.IsPartial)
	assert.Equal(t, lead.StatusNew, l.Status)
	assert.Equal(t, "ceo@acme.io", l.EmailAddress())
	assert.True(t, l.Consent)
}

func TestDecodeContact(t *testing.T) {
	req, err := DecodeContact(strings.NewReader(`{"lead_id":"6f1c2a3e-4b5d-4c7e-8f90-1a2b3c4d5e6f","email":"Me@Acme.io","consent":true}`))
	require.NoError(t, err)
	assert.Equal(t, "me@acme.io", req.Email)

	_, err = DecodeContact(strings.NewReader(`{"lead_id":"6f1c2a3e-4b5d-4c7e-8f90-1a2b3c4d5e6f","email":"me@acme.io","consent":false}`))
	assert.Equal(t, "must be true", fieldsOf(t, err)["consent"])

	_, err = DecodeContact(strings.NewReader(`{"lead_id":"nope","email":"me@acme.io","consent":true}`))
	assert.Equal(t, "must be a UUID", fieldsOf(t, err)["lead_id"])
}

func TestDecodeLeadRef(t *testing.T) {
	ref, err := DecodeLeadRef(strings.NewReader(`{"lead_id":"6f1c2a3e-4b5d-4c7e-8f90-1a2b3c4d5e6f"}`))
	require.NoError(t, err)
	assert.Equal(t, "6f1c2a3e-4b5d-4c7e-8f90-1a2b3c4d5e6f", ref.LeadID)

	_, err = DecodeLeadRef(strings.NewReader(`{}`))
	assert.True(t, IsValidation(err))
}
