package domain

import (
	"time"

	"github.com/google/uuid"
)

// Provider represents the mailbox provider behind a domain, as inferred from its MX records
type Provider string

const (
	ProviderNone       Provider = "none"
	ProviderGoogle     Provider = "google"
	ProviderMicrosoft  Provider = "microsoft"
	ProviderYahoo      Provider = "yahoo"
	ProviderZoho       Provider = "zoho"
	ProviderProton     Provider = "proton"
	ProviderICloud     Provider = "icloud"
	ProviderFastmail   Provider = "fastmail"
	ProviderYandex     Provider = "yandex"
	ProviderMailRu     Provider = "mailru"
	ProviderSelfHosted Provider = "self_hosted"
	ProviderOther      Provider = "other"
)

// KnownProviders lists every provider classification, used for one-hot feature encoding
var KnownProviders = []Provider{
	ProviderGoogle,
	ProviderMicrosoft,
	ProviderYahoo,
	ProviderZoho,
	ProviderProton,
	ProviderICloud,
	ProviderFastmail,
	ProviderYandex,
	ProviderMailRu,
	ProviderSelfHosted,
	ProviderOther,
}

// Decision is the action recommended for an email address
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionWarn  Decision = "warn"
	DecisionBlock Decision = "block"
)

// Severity orders decisions so they can be compared (allow < warn < block)
func (d Decision) Severity() int {
	switch d {
	case DecisionBlock:
		return 2
	case DecisionWarn:
		return 1
	default:
		return 0
	}
}

// Valid reports whether d is one of the known decisions
func (d Decision) Valid() bool {
	return d == DecisionAllow || d == DecisionWarn || d == DecisionBlock
}

// MaxDecision returns the more severe of two decisions
func MaxDecision(a, b Decision) Decision {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Detection represents a single risk signal that contributed to an assessment
type Detection struct {
	Type       string  `json:"type"`       // e.g., "FOREST_MODEL", "HEURISTIC_TLD_RISK"
	Confidence float64 `json:"confidence"` // risk contribution, 0.0 to 1.0
	Evidence   string  `json:"evidence"`   // Human-readable explanation
}

// RiskAssessment is the explainable outcome of scoring one email address
//
// Reasons is the ordered reason path: every branch taken and every rule that
// moved the score appears here, so a decision can be audited after the fact.
type RiskAssessment struct {
	ID            uuid.UUID          `json:"id"`
	Email         string             `json:"email"`
	Domain        string             `json:"domain"`
	RiskScore     float64            `json:"risk_score"` // 0.0 to 1.0
	RiskLevel     string             `json:"risk_level"` // "none", "low", "medium", "high", "critical"
	Decision      Decision           `json:"decision"`
	Reasons       []string           `json:"reasons"`
	Detections    []Detection        `json:"detections"`
	ModelVersions map[string]string  `json:"model_versions"`
	Features      map[string]float64 `json:"features,omitempty"`
	AssessedAt    time.Time          `json:"assessed_at"`
}

// RiskLevel converts a risk score to a categorical level
func RiskLevel(score float64) string {
	switch {
	case score >= 0.85:
		return "critical"
	case score >= 0.70:
		return "high"
	case score >= 0.50:
		return "medium"
	case score >= 0.30:
		return "low"
	default:
		return "none"
	}
}
