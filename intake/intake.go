// Package intake decodes and validates lead submissions.
//
// A submission is a tagged variant keyed by lead_type. Each variant has its
// own explicit schema; there is no catch-all payload merged with defaults.
package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/scoring"
)

// LeadType tags a submission variant.
type LeadType string

const (
	// ReadinessAssessment is the self-serve readiness calculator.
	ReadinessAssessment LeadType = "readiness_assessment"
	// CustomerRequest is a submission made because named customers asked
	// for a report.
	CustomerRequest LeadType = "customer_request"
)

const dateLayout = "2006-01-02"

// Attribution carries UTM and experiment fields.
type Attribution struct {
	UTMSource   string `json:"utm_source" validate:"max=200"`
	UTMMedium   string `json:"utm_medium" validate:"max=200"`
	UTMCampaign string `json:"utm_campaign" validate:"max=200"`
	Variation   string `json:"variation" validate:"max=100"`
}

// Company is the schema shared by every variant.
type Company struct {
	CompanyName  string   `json:"company_name" validate:"required,max=200"`
	Industry     string   `json:"industry" validate:"required,max=100"`
	NumEmployees *int     `json:"num_employees" validate:"required,min=0,max=10000000"`
	DataTypes    []string `json:"data_types" validate:"required,max=20,dive,required,max=50"`
	AuditDate    string   `json:"audit_date" validate:"required,datetime=2006-01-02"`
	Role         string   `json:"role" validate:"required,max=100"`
	Email        string   `json:"email" validate:"omitempty,email,max=254"`
	Consent      bool     `json:"consent"`
	IsTest       bool     `json:"is_test"`
	Attribution
}

// ReadinessAssessmentSubmission is the readiness_assessment variant.
type ReadinessAssessmentSubmission struct {
	Company
}

// CustomerRequestSubmission is the customer_request variant. At least one
// requirer must be named.
type CustomerRequestSubmission struct {
	Company
	SOC2Requirers []string `json:"soc2_requirers" validate:"required,min=1,max=20,dive,required,max=200"`
}

// Submission is implemented by every variant.
type Submission interface {
	Type() LeadType
	company() *Company
	requirers() []string
}

func (s *ReadinessAssessmentSubmission) Type() LeadType      { return ReadinessAssessment }
func (s *ReadinessAssessmentSubmission) company() *Company   { return &s.Company }
func (s *ReadinessAssessmentSubmission) requirers() []string { return nil }
func (s *CustomerRequestSubmission) Type() LeadType          { return CustomerRequest }
func (s *CustomerRequestSubmission) company() *Company       { return &s.Company }
func (s *CustomerRequestSubmission) requirers() []string     { return s.SOC2Requirers }

// ValidationError carries field-level messages keyed by json field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode reads one submission. A missing lead_type means
// readiness_assessment. Unknown fields are rejected.
func Decode(r io.Reader) (Submission, error) {
	body, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("intake: read body: %w", err)
	}

	var tag struct {
		LeadType LeadType `json:"lead_type"`
	}
	if err := json.Unmarshal(body, &tag); err != nil {
		return nil, &ValidationError{Fields: map[string]string{"body": "must be a JSON object"}}
	}

	var sub Submission
	switch tag.LeadType {
	case "", ReadinessAssessment:
		sub = &ReadinessAssessmentSubmission{}
	case CustomerRequest:
		sub = &CustomerRequestSubmission{}
	default:
		return nil, &ValidationError{Fields: map[string]string{"lead_type": fmt.Sprintf("unknown lead type %q", tag.LeadType)}}
	}

	// lead_type is consumed above; strip it so DisallowUnknownFields only
	// sees schema fields.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ValidationError{Fields: map[string]string{"body": "must be a JSON object"}}
	}
	delete(raw, "lead_type")
	stripped, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("intake: re-encode body: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(stripped))
	dec.DisallowUnknownFields()
	if err := dec.Decode(sub); err != nil {
		return nil, decodeError(err)
	}
	if err := Validate(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Validate checks a submission against its schema.
func Validate(sub Submission) error {
	if err := validate.Struct(sub); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("intake: validate: %w", err)
		}
		fields := map[string]string{}
		for _, fe := range verrs {
			fields[fieldPath(fe)] = message(fe)
		}
		return &ValidationError{Fields: fields}
	}
	c := sub.company()
	if c.Email != "" && !c.Consent {
		return &ValidationError{Fields: map[string]string{"consent": "required when email is provided"}}
	}
	return nil
}

// Lead builds the lead row for a validated submission, scored by engine at
// instant now.
func Lead(sub Submission, engine *scoring.Engine, id string, now time.Time) (*lead.Lead, scoring.Result) {
	c := sub.company()
	auditDate, _ := time.Parse(dateLayout, c.AuditDate) // validated
	now = now.UTC()

	result := engine.Score(scoring.Input{
		NumEmployees: *c.NumEmployees,
		AuditDate:    auditDate,
		AsOf:         now,
		DataTypes:    c.DataTypes,
		Role:         c.Role,
		Industry:     c.Industry,
		Requirers:    sub.requirers(),
	})

	l := &lead.Lead{
		ID:                id,
		LeadType:          string(sub.Type()),
		CompanyName:       strings.TrimSpace(c.CompanyName),
		Industry:          strings.ToLower(strings.TrimSpace(c.Industry)),
		NumEmployees:      *c.NumEmployees,
		DataTypes:         lead.NewStringSet(c.DataTypes...),
		SOC2Requirers:     lead.NewStringSet(sub.requirers()...),
		AuditDate:         auditDate,
		Role:              strings.TrimSpace(c.Role),
		Consent:           c.Consent,
		UTMSource:         c.UTMSource,
		UTMMedium:         c.UTMMedium,
		UTMCampaign:       c.UTMCampaign,
		Variation:         c.Variation,
		IsTest:            c.IsTest,
		ReadinessScore:    result.ReadinessScore,
		EstimatedCostLow:  result.EstimatedCostLow,
		EstimatedCostHigh: result.EstimatedCostHigh,
		LeadScore:         result.LeadScore,
		KeepOrSell:        result.KeepOrSell,
		CompanySizeBand:   result.SizeBand,
		IsPartial:         true,
		Status:            lead.StatusPartial,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if c.Email != "" && c.Consent {
		email := NormalizeEmail(c.Email)
		l.Email = &email
		l.IsPartial = false
		l.Status = lead.StatusNew
	}
	return l, result
}

// ContactRequest is the body of POST /lead/set-email.
type ContactRequest struct {
	LeadID  string `json:"lead_id" validate:"required,uuid"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Consent bool   `json:"consent"`
}

// DecodeContact reads and validates a ContactRequest. Consent must be true.
func DecodeContact(r io.Reader) (*ContactRequest, error) {
	req := &ContactRequest{}
	dec := json.NewDecoder(io.LimitReader(r, 16<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, decodeError(err)
	}
	if err := ValidateStruct(req); err != nil {
		return nil, err
	}
	if !req.Consent {
		return nil, &ValidationError{Fields: map[string]string{"consent": "must be true"}}
	}
	req.Email = NormalizeEmail(req.Email)
	return req, nil
}

// LeadRef is the body of every endpoint that only names a lead.
type LeadRef struct {
	LeadID string `json:"lead_id" validate:"required,uuid"`
}

// DecodeLeadRef reads and validates a LeadRef.
func DecodeLeadRef(r io.Reader) (*LeadRef, error) {
	req := &LeadRef{}
	if err := json.NewDecoder(io.LimitReader(r, 4<<10)).Decode(req); err != nil {
		return nil, decodeError(err)
	}
	if err := ValidateStruct(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ValidateStruct validates any struct carrying validate tags.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("intake: validate: %w", err)
		}
		fields := map[string]string{}
		for _, fe := range verrs {
			fields[fieldPath(fe)] = message(fe)
		}
		return &ValidationError{Fields: fields}
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{Fields: map[string]string{typeErr.Field: "has the wrong type"}}
	}
	if strings.HasPrefix(err.Error(), "json: unknown field ") {
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &ValidationError{Fields: map[string]string{field: "is not allowed"}}
	}
	return &ValidationError{Fields: map[string]string{"body": "must be valid JSON"}}
}

// fieldPath keeps only json field names from the validator namespace, e.g.
// "CustomerRequestSubmission.Company.company_name" -> "company_name".
func fieldPath(fe validator.FieldError) string {
	parts := []string{}
	for _, seg := range strings.Split(fe.Namespace(), ".") {
		if seg == "" {
			continue
		}
		if r := seg[0]; r >= 'A' && r <= 'Z' {
			continue
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return fe.Field()
	}
	return strings.Join(parts, ".")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	case "uuid":
		return "must be a UUID"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}
