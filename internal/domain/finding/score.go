package finding

import "sort"

// MaxScore is the score of a target with no findings.
const MaxScore = 100

// Summary counts findings per severity.
type Summary struct {
	Total    int `json:"total" yaml:"total"`
	Critical int `json:"critical" yaml:"critical"`
	High     int `json:"high" yaml:"high"`
	Medium   int `json:"medium" yaml:"medium"`
	Low      int `json:"low" yaml:"low"`
	Info     int `json:"info" yaml:"info"`
}

// Recommendation is a remediation action derived from a finding.
type Recommendation struct {
	Priority Severity `json:"priority" yaml:"priority"`
	Title    string   `json:"title" yaml:"title"`
	Action   string   `json:"action" yaml:"action"`
}

// Score deducts a fixed penalty per finding from MaxScore and clamps at zero.
func Score(findings []Finding) int {
	score := MaxScore
	for _, f := range findings {
		score -= f.Severity.Penalty()
	}
	if score < 0 {
		return 0
	}
	return score
}

// Recommendations returns the findings that carry a recommendation, ordered by
// severity with discovery order preserved inside a severity, capped at limit.
// A limit of zero or less returns every recommendation.
func Recommendations(findings []Finding, limit int) []Recommendation {
	recs := make([]Recommendation, 0, len(findings))
	for _, f := range findings {
		if f.Recommendation == "" {
			continue
		}
		recs = append(recs, Recommendation{
			Priority: f.Severity,
			Title:    f.Title,
			Action:   f.Recommendation,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.Rank() < recs[j].Priority.Rank()
	})

	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// Summarize counts findings per severity.
func Summarize(findings []Finding) Summary {
	s := Summary{Total: len(findings)}
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		case SeverityInfo:
			s.Info++
		}
	}
	return s
}

// CountByOWASP groups findings by their OWASP Top 10 tag. Untagged findings are skipped.
func CountByOWASP(findings []Finding) map[string]int {
	counts := make(map[string]int)
	for _, f := range findings {
		if f.OWASPCategory == "" {
			continue
		}
		counts[f.OWASPCategory]++
	}
	return counts
}
