// Package scoring turns intake attributes into a readiness score, a cost
// estimate, a commercial lead score and a keep/sell classification.
//
// Score is a pure function of its Input and the Weights table: it reads no
// clock, no randomness and no external state. Leads are priced off its
// output, so identical input must always give identical output.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/osr-alliance/backend-lead-pipeline/lead"
)

// Input is everything the engine looks at.
type Input struct {
	NumEmployees int
	AuditDate    time.Time
	// AsOf is the reference instant for urgency; intake passes the lead's
	// creation time.
	AsOf      time.Time
	DataTypes []string
	Role      string
	Industry  string
	Requirers []string
}

// Result is written once onto the lead at creation.
type Result struct {
	ReadinessScore    int
	EstimatedCostLow  int
	EstimatedCostHigh int
	LeadScore         int
	KeepOrSell        lead.KeepOrSell
	SizeBand          string
	Recommendations   []string
}

// Engine scores leads against a weights table.
type Engine struct {
	w Weights
}

// New returns an engine using w.
func New(w Weights) *Engine {
	return &Engine{w: w}
}

// Score scores in against DefaultWeights.
func Score(in Input) Result {
	return New(DefaultWeights).Score(in)
}

func (e *Engine) Score(in Input) Result {
	size := e.sizeBracket(in.NumEmployees)
	days := DaysUntil(in.AsOf, in.AuditDate)
	urgency, hasUrgency := e.urgencyTier(days)
	dataTypes := lead.NewStringSet(in.DataTypes...)
	requirers := lead.NewStringSet(in.Requirers...)

	readiness := float64(size.BaselineReadiness)
	surcharge := 0.0
	for _, dt := range dataTypes {
		w, ok := e.w.DataTypes[dt]
		if !ok {
			continue
		}
		readiness *= w.ReadinessMultiplier
		surcharge += w.CostSurcharge
	}

	low := float64(size.CostLow) * (1 + surcharge)
	high := float64(size.CostHigh) * (1 + surcharge)
	if hasUrgency {
		high *= urgency.CostHighFactor
	}
	costLow := e.roundCost(low)
	costHigh := e.roundCost(high)
	if costHigh < costLow {
		costHigh = costLow
	}

	leadScore := size.LeadPoints
	if hasUrgency {
		leadScore += urgency.LeadPoints
	}
	leadScore += e.rolePoints(in.Role)
	leadScore += e.w.IndustryPoints[normalize(in.Industry)]
	reqPoints := len(requirers) * e.w.RequirerPoints
	if reqPoints > e.w.RequirerPointsCap {
		reqPoints = e.w.RequirerPointsCap
	}
	leadScore += reqPoints

	r := Result{
		ReadinessScore:    clamp(int(math.Round(readiness)), 0, 100),
		EstimatedCostLow:  costLow,
		EstimatedCostHigh: costHigh,
		LeadScore:         leadScore,
		KeepOrSell:        lead.Sell,
		SizeBand:          size.Band,
	}
	if leadScore >= e.w.KeepThreshold || (len(requirers) > 0 && days <= e.w.HighIntentDays) {
		r.KeepOrSell = lead.Keep
	}
	r.Recommendations = e.recommendations(r.ReadinessScore, dataTypes, urgency, hasUrgency)
	return r
}

// DaysUntil is the whole number of calendar days from asOf to date, both
// taken in UTC. Past dates are negative.
func DaysUntil(asOf, date time.Time) int {
	a := truncateDay(asOf)
	d := truncateDay(date)
	return int(d.Sub(a).Hours() / 24)
}

// SizeBand returns the size band label for a headcount.
func (e *Engine) SizeBand(numEmployees int) string {
	return e.sizeBracket(numEmployees).Band
}

func (e *Engine) sizeBracket(n int) SizeBracket {
	for _, b := range e.w.Sizes {
		if b.MaxEmployees <= 0 || n <= b.MaxEmployees {
			return b
		}
	}
	return e.w.Sizes[len(e.w.Sizes)-1]
}

// urgencyTier treats overdue audits as the most urgent tier.
func (e *Engine) urgencyTier(days int) (UrgencyTier, bool) {
	for _, t := range e.w.Urgency {
		if days <= t.MaxDays {
			return t, true
		}
	}
	return UrgencyTier{}, false
}

// rolePoints takes the best match of any keyword in the free-text role.
func (e *Engine) rolePoints(role string) int {
	best := 0
	for _, word := range strings.FieldsFunc(normalize(role), func(r rune) bool {
		return r == ' ' || r == '-' || r == '/' || r == ',' || r == '&'
	}) {
		if p := e.w.RolePoints[word]; p > best {
			best = p
		}
	}
	return best
}

func (e *Engine) roundCost(v float64) int {
	step := float64(e.w.CostRounding)
	if step <= 0 {
		return int(math.Round(v))
	}
	return int(math.Round(v/step) * step)
}

func (e *Engine) recommendations(readiness int, dataTypes lead.StringSet, urgency UrgencyTier, hasUrgency bool) []string {
	recs := []string{}
	switch {
	case readiness < 40:
		recs = append(recs, "Start with a formal risk assessment and written security policies before scoping the audit.")
	case readiness < 70:
		recs = append(recs, "Run a gap assessment against the Trust Services Criteria to size the remediation work.")
	default:
		recs = append(recs, "Your baseline is strong: focus on evidence collection and auditor selection.")
	}
	// dataTypes is sorted, so the order is stable.
	for _, dt := range dataTypes {
		if w, ok := e.w.DataTypes[dt]; ok && w.Recommendation != "" {
			recs = append(recs, w.Recommendation)
		}
	}
	if hasUrgency && urgency.Recommendation != "" {
		recs = append(recs, urgency.Recommendation)
	}
	return recs
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
