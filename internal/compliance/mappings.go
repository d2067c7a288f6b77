package compliance

import (
	"sort"
	"strings"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
)

// owaspTop10 is the OWASP Top 10 (2021) taxonomy.
var owaspTop10 = map[string]string{
	"A01": "Broken Access Control",
	"A02": "Cryptographic Failures",
	"A03": "Injection",
	"A04": "Insecure Design",
	"A05": "Security Misconfiguration",
	"A06": "Vulnerable and Outdated Components",
	"A07": "Identification and Authentication Failures",
	"A08": "Software and Data Integrity Failures",
	"A09": "Security Logging and Monitoring Failures",
	"A10": "Server-Side Request Forgery",
}

var cweNames = map[string]string{
	"CWE-16":   "Configuration",
	"CWE-79":   "Cross-site Scripting",
	"CWE-89":   "SQL Injection",
	"CWE-200":  "Exposure of Sensitive Information",
	"CWE-295":  "Improper Certificate Validation",
	"CWE-319":  "Cleartext Transmission of Sensitive Information",
	"CWE-326":  "Inadequate Encryption Strength",
	"CWE-327":  "Use of a Broken or Risky Cryptographic Algorithm",
	"CWE-346":  "Origin Validation Error",
	"CWE-347":  "Improper Verification of Cryptographic Signature",
	"CWE-613":  "Insufficient Session Expiration",
	"CWE-614":  "Sensitive Cookie Without Secure Attribute",
	"CWE-693":  "Protection Mechanism Failure",
	"CWE-942":  "Permissive Cross-domain Policy with Untrusted Domains",
	"CWE-1004": "Sensitive Cookie Without HttpOnly Flag",
	"CWE-1021": "Improper Restriction of Rendered UI Layers",
	"CWE-1275": "Sensitive Cookie with Improper SameSite Attribute",
}

// ComplianceMapping maps a finding category to framework requirements
type ComplianceMapping struct {
	Category   finding.Category
	Frameworks map[string][]string // Framework ID -> Requirement IDs
}

var categoryMappings = map[finding.Category]ComplianceMapping{
	finding.CategorySecurityHeaders: {
		Frameworks: map[string][]string{
			"iso27001":  {"A.8.9", "A.8.26"},
			"pcidss":    {"6.4.1", "2.2.1"},
			"nist80053": {"CM-6", "SC-8"},
		},
	},
	finding.CategorySSL: {
		Frameworks: map[string][]string{
			"iso27001":  {"A.8.24", "A.8.20"},
			"pcidss":    {"4.2.1"},
			"nist80053": {"SC-8", "SC-13", "SC-17"},
		},
	},
	finding.CategorySQLInjection: {
		Frameworks: map[string][]string{
			"iso27001":  {"A.8.28", "A.8.26"},
			"pcidss":    {"6.2.4"},
			"nist80053": {"SI-10"},
		},
	},
	finding.CategoryXSS: {
		Frameworks: map[string][]string{
			"iso27001":  {"A.8.28", "A.8.26"},
			"pcidss":    {"6.2.4"},
			"nist80053": {"SI-10", "SI-15"},
		},
	},
	finding.CategorySensitiveDataExposure: {
		Frameworks: map[string][]string{
			"iso27001":  {"A.8.12", "A.5.15"},
			"pcidss":    {"3.3.1", "6.2.4"},
			"nist80053": {"AC-3", "SC-28"},
		},
	},
	finding.CategorySecurityMisconfiguration: {
		Frameworks: map[string][]string{
			"iso27001":  {"A.8.9"},
			"pcidss":    {"2.2.1"},
			"nist80053": {"CM-6", "CM-7"},
		},
	},
	finding.CategoryCORS: {
		Frameworks: map[string][]string{
			"iso27001":  {"A.8.26", "A.5.15"},
			"pcidss":    {"6.2.4"},
			"nist80053": {"AC-4", "SC-7"},
		},
	},
	finding.CategoryJWT: {
		Frameworks: map[string][]string{
			"iso27001":  {"A.8.5", "A.8.24"},
			"pcidss":    {"8.3.1", "8.6.3"},
			"nist80053": {"IA-5", "SC-23"},
		},
	},
	finding.CategoryInformationDisclosure: {
		Frameworks: map[string][]string{
			"iso27001":  {"A.8.9", "A.8.12"},
			"pcidss":    {"2.2.1"},
			"nist80053": {"CM-7", "SI-11"},
		},
	},
}

// OWASPName returns the OWASP Top 10 (2021) title for a code such as "A05".
func OWASPName(code string) string {
	return owaspTop10[strings.ToUpper(strings.TrimSpace(code))]
}

// OWASPLabel renders "A05 Security Misconfiguration", or the bare code when
// it is not part of the taxonomy.
func OWASPLabel(code string) string {
	if name := OWASPName(code); name != "" {
		return strings.ToUpper(strings.TrimSpace(code)) + " " + name
	}
	return code
}

// CWEName returns the short title of a CWE identifier like "CWE-89".
func CWEName(id string) string {
	return cweNames[strings.ToUpper(strings.TrimSpace(id))]
}

// OWASPCodes returns the taxonomy codes in order.
func OWASPCodes() []string {
	codes := make([]string, 0, len(owaspTop10))
	for code := range owaspTop10 {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetMappingForCategory returns the compliance mapping for a finding category
func GetMappingForCategory(category finding.Category) *ComplianceMapping {
	mapping, ok := categoryMappings[category]
	if !ok {
		return nil
	}
	mapping.Category = category
	return &mapping
}

// RequirementsFor returns the requirement IDs of one framework touched by
// the given findings, deduplicated and sorted.
func RequirementsFor(frameworkID string, findings []finding.Finding) []string {
	seen := make(map[string]struct{})
	for _, f := range findings {
		mapping, ok := categoryMappings[f.Category]
		if !ok {
			continue
		}
		for _, req := range mapping.Frameworks[frameworkID] {
			seen[req] = struct{}{}
		}
	}
	reqs := make([]string, 0, len(seen))
	for req := range seen {
		reqs = append(reqs, req)
	}
	sort.Strings(reqs)
	return reqs
}

// GetCategoriesForFramework returns all finding categories a framework covers
func GetCategoriesForFramework(frameworkID string) []finding.Category {
	var categories []finding.Category
	for category, mapping := range categoryMappings {
		if _, ok := mapping.Frameworks[frameworkID]; ok {
			categories = append(categories, category)
		}
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories
}
