package finding

import "testing"

func TestScore_EmptyIsMax(t *testing.T) {
	if got := Score(nil); got != MaxScore {
		t.Fatalf("expected %d for no findings, got %d", MaxScore, got)
	}
}

func TestScore_Penalties(t *testing.T) {
	tests := []struct {
		name     string
		findings []Finding
		want     int
	}{
		{name: "one critical", findings: []Finding{{Severity: SeverityCritical}}, want: 75},
		{name: "one high", findings: []Finding{{Severity: SeverityHigh}}, want: 85},
		{name: "one medium", findings: []Finding{{Severity: SeverityMedium}}, want: 92},
		{name: "one low", findings: []Finding{{Severity: SeverityLow}}, want: 97},
		{name: "one info", findings: []Finding{{Severity: SeverityInfo}}, want: 99},
		{
			name: "mixed",
			findings: []Finding{
				{Severity: SeverityHigh}, {Severity: SeverityHigh},
				{Severity: SeverityMedium}, {Severity: SeverityLow}, {Severity: SeverityInfo},
			},
			want: 100 - 15 - 15 - 8 - 3 - 1,
		},
		{name: "unknown severity ignored", findings: []Finding{{Severity: "bogus"}}, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.findings); got != tt.want {
				t.Fatalf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScore_ClampsAtZero(t *testing.T) {
	findings := make([]Finding, 5)
	for i := range findings {
		findings[i] = Finding{Severity: SeverityCritical}
	}
	if got := Score(findings); got != 0 {
		t.Fatalf("expected score clamped to 0, got %d", got)
	}
}

func TestScore_MonotonicAndBounded(t *testing.T) {
	var findings []Finding
	prev := Score(findings)
	for i := 0; i < 40; i++ {
		findings = append(findings, Finding{Severity: Severities[i%len(Severities)]})
		got := Score(findings)
		if got < 0 || got > MaxScore {
			t.Fatalf("score %d out of range after %d findings", got, len(findings))
		}
		if got > prev {
			t.Fatalf("score increased from %d to %d after adding a finding", prev, got)
		}
		prev = got
	}
}

func TestRecommendations_SortedStableAndCapped(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityLow, Title: "low-1", Recommendation: "fix low-1"},
		{Severity: SeverityCritical, Title: "crit-1", Recommendation: "fix crit-1"},
		{Severity: SeverityInfo, Title: "no-rec"},
		{Severity: SeverityHigh, Title: "high-1", Recommendation: "fix high-1"},
		{Severity: SeverityCritical, Title: "crit-2", Recommendation: "fix crit-2"},
	}

	recs := Recommendations(findings, 10)
	wantTitles := []string{"crit-1", "crit-2", "high-1", "low-1"}
	if len(recs) != len(wantTitles) {
		t.Fatalf("expected %d recommendations, got %d", len(wantTitles), len(recs))
	}
	for i, title := range wantTitles {
		if recs[i].Title != title {
			t.Errorf("recs[%d].Title = %s, want %s", i, recs[i].Title, title)
		}
	}
	if recs[0].Action != "fix crit-1" || recs[0].Priority != SeverityCritical {
		t.Errorf("unexpected first recommendation: %+v", recs[0])
	}

	capped := Recommendations(findings, 2)
	if len(capped) != 2 || capped[1].Title != "crit-2" {
		t.Fatalf("expected cap of 2 ending with crit-2, got %+v", capped)
	}
}

func TestSummarize(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityCritical}, {Severity: SeverityHigh}, {Severity: SeverityHigh},
		{Severity: SeverityMedium}, {Severity: SeverityInfo},
	}
	got := Summarize(findings)
	want := Summary{Total: 5, Critical: 1, High: 2, Medium: 1, Low: 0, Info: 1}
	if got != want {
		t.Fatalf("Summarize() = %+v, want %+v", got, want)
	}
}

func TestParseSeverity(t *testing.T) {
	if s, err := ParseSeverity(" HIGH "); err != nil || s != SeverityHigh {
		t.Fatalf("expected high, got %q err=%v", s, err)
	}
	if _, err := ParseSeverity("severe"); err == nil {
		t.Fatal("expected error for unknown severity")
	}
}

func TestCountByOWASP(t *testing.T) {
	counts := CountByOWASP([]Finding{
		{OWASPCategory: "A05"}, {OWASPCategory: "A05"}, {OWASPCategory: "A03"}, {},
	})
	if counts["A05"] != 2 || counts["A03"] != 1 || len(counts) != 2 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
