package monetize

import (
	"strings"
	"time"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
	"github.com/osr-alliance/backend-lead-pipeline/scoring"
)

// freeMail domains never identify a company.
var freeMail = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"yahoo.com":      {},
	"hotmail.com":    {},
	"outlook.com":    {},
	"live.com":       {},
	"msn.com":        {},
	"aol.com":        {},
	"icloud.com":     {},
	"me.com":         {},
	"proton.me":      {},
	"protonmail.com": {},
	"gmx.com":        {},
	"yandex.com":     {},
	"zoho.com":       {},
}

// CompanyDomain returns the domain of a work address, or "" for free-mail
// and malformed addresses.
func CompanyDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return ""
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if !strings.Contains(domain, ".") {
		return ""
	}
	if _, ok := freeMail[domain]; ok {
		return ""
	}
	return domain
}

// Enrich infers company attributes for l.
func Enrich(engine *scoring.Engine, l *lead.Lead, now time.Time) lead.Enrichment {
	return lead.Enrichment{
		CompanyDomain:   CompanyDomain(l.EmailAddress()),
		CompanySizeBand: engine.SizeBand(l.NumEmployees),
		EnrichedAt:      now.UTC(),
	}
}

// needsEnrichment is false when a previous run already stored the same
// attributes.
func needsEnrichment(l *lead.Lead, e lead.Enrichment) bool {
	if l.EnrichedAt == nil {
		return true
	}
	domain := ""
	if l.CompanyDomain != nil {
		domain = *l.CompanyDomain
	}
	return domain != e.CompanyDomain || l.CompanySizeBand != e.CompanySizeBand
}
