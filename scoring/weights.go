package scoring

// SizeBracket maps a headcount ceiling to the values used for companies of
// that size. Brackets are matched in order; the first with MaxEmployees >=
// headcount wins, and MaxEmployees <= 0 matches everything.
type SizeBracket struct {
	MaxEmployees int
	Band         string

	BaselineReadiness int
	CostLow           int
	CostHigh          int
	LeadPoints        int
}

// UrgencyTier applies to audits at most MaxDays away.
type UrgencyTier struct {
	MaxDays        int
	CostHighFactor float64
	LeadPoints     int
	Recommendation string
}

// DataTypeWeight describes one sensitive data category.
type DataTypeWeight struct {
	// ReadinessMultiplier lowers readiness until controls are confirmed.
	ReadinessMultiplier float64
	// CostSurcharge is added to the cost multiplier (0.1 = +10%).
	CostSurcharge  float64
	Recommendation string
}

// Weights is the tunable configuration table behind Score. DefaultWeights is
// the production table.
type Weights struct {
	Sizes     []SizeBracket
	Urgency   []UrgencyTier
	DataTypes map[string]DataTypeWeight

	// RolePoints is keyed by normalized role keyword.
	RolePoints map[string]int
	// IndustryPoints is keyed by normalized industry.
	IndustryPoints map[string]int

	RequirerPoints    int
	RequirerPointsCap int

	KeepThreshold  int
	HighIntentDays int

	CostRounding int
}

// DefaultWeights are planning estimates, not verified control assessments.
var DefaultWeights = Weights{
	Sizes: []SizeBracket{
		{MaxEmployees: 10, Band: "1-10", BaselineReadiness: 50, CostLow: 20000, CostHigh: 35000, LeadPoints: 5},
		{MaxEmployees: 50, Band: "11-50", BaselineReadiness: 58, CostLow: 30000, CostHigh: 50000, LeadPoints: 15},
		{MaxEmployees: 200, Band: "51-200", BaselineReadiness: 66, CostLow: 45000, CostHigh: 75000, LeadPoints: 25},
		{MaxEmployees: 1000, Band: "201-1000", BaselineReadiness: 72, CostLow: 70000, CostHigh: 120000, LeadPoints: 35},
		{MaxEmployees: 0, Band: "1000+", BaselineReadiness: 78, CostLow: 100000, CostHigh: 180000, LeadPoints: 40},
	},
	Urgency: []UrgencyTier{
		{MaxDays: 30, CostHighFactor: 1.5, LeadPoints: 25, Recommendation: "Your audit is less than a month away: engage an auditor and a readiness partner this week."},
		{MaxDays: 60, CostHighFactor: 1.3, LeadPoints: 20, Recommendation: "With two months to go, prioritize a gap assessment and evidence collection now."},
		{MaxDays: 90, CostHighFactor: 1.15, LeadPoints: 10, Recommendation: "A 90-day runway fits a Type I report; plan the Type II observation window afterwards."},
		{MaxDays: 180, CostHighFactor: 1.0, LeadPoints: 5, Recommendation: "You have time to automate evidence collection before the audit window opens."},
	},
	DataTypes: map[string]DataTypeWeight{
		"pii": {
			ReadinessMultiplier: 0.90,
			CostSurcharge:       0.10,
			Recommendation:      "Document how personal data is classified, retained and deleted.",
		},
		"financial": {
			ReadinessMultiplier: 0.85,
			CostSurcharge:       0.15,
			Recommendation:      "Add change management and segregation of duties controls around financial data.",
		},
		"payment_card": {
			ReadinessMultiplier: 0.85,
			CostSurcharge:       0.15,
			Recommendation:      "Confirm PCI DSS scope so cardholder data controls are not audited twice.",
		},
		"phi": {
			ReadinessMultiplier: 0.80,
			CostSurcharge:       0.20,
			Recommendation:      "Map HIPAA safeguards to SOC 2 criteria and sign BAAs with subprocessors.",
		},
	},
	RolePoints: map[string]int{
		"founder":    15,
		"owner":      15,
		"ceo":        15,
		"cto":        15,
		"ciso":       15,
		"coo":        15,
		"cfo":        15,
		"vp":         10,
		"director":   10,
		"head":       10,
		"manager":    5,
		"lead":       5,
		"engineer":   2,
		"analyst":    2,
		"consultant": 0,
	},
	IndustryPoints: map[string]int{
		"fintech":    5,
		"healthcare": 5,
		"healthtech": 5,
		"saas":       3,
		"insurance":  3,
	},
	RequirerPoints:    10,
	RequirerPointsCap: 20,
	KeepThreshold:     60,
	HighIntentDays:    30,
	CostRounding:      500,
}
