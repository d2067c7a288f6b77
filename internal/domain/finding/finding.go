package finding

import (
	"fmt"
	"strings"
)

// Severity ranks the impact of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank orders severities: 0 is most severe. Unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

// Penalty is the score deduction applied for one finding of this severity.
func (s Severity) Penalty() int {
	switch s {
	case SeverityCritical:
		return 25
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 8
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

func (s Severity) IsValid() bool {
	return s.Rank() < 5
}

func (s Severity) String() string {
	return string(s)
}

// ParseSeverity accepts a severity name in any case.
func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown severity %q", value)
	}
	return s, nil
}

// Category groups findings by the kind of weakness observed.
type Category string

const (
	CategorySecurityHeaders          Category = "security_headers"
	CategorySSL                      Category = "ssl"
	CategorySQLInjection             Category = "sql_injection"
	CategoryXSS                      Category = "xss"
	CategorySensitiveDataExposure    Category = "sensitive_data_exposure"
	CategorySecurityMisconfiguration Category = "security_misconfiguration"
	CategoryCORS                     Category = "cors"
	CategoryJWT                      Category = "jwt"
	CategoryInformationDisclosure    Category = "information_disclosure"
	CategoryConnection               Category = "connection"
)

// Finding is the normalized unit of scan output. Findings are values: they are
// built once by a module and never modified afterwards.
type Finding struct {
	Category       Category `json:"category" yaml:"category"`
	Severity       Severity `json:"severity" yaml:"severity"`
	Title          string   `json:"title" yaml:"title"`
	Description    string   `json:"description" yaml:"description"`
	Evidence       string   `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Recommendation string   `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
	OWASPCategory  string   `json:"owasp_category,omitempty" yaml:"owasp_category,omitempty"`
	CWEID          string   `json:"cwe_id,omitempty" yaml:"cwe_id,omitempty"`
}
