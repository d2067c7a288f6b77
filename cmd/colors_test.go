package cmd

import (
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
)

func disableColor(t *testing.T) {
	t.Helper()
	original := color.NoColor
	color.NoColor = true
	t.Cleanup(func() {
		color.NoColor = original
	})
}

func TestFormatStatusWithColor(t *testing.T) {
	disableColor(t)

	tests := []struct {
		name   string
		status string
		want   string
	}{
		{name: "success", status: "OK", want: "OK"},
		{name: "completed", status: "completed", want: "completed"},
		{name: "failure", status: "FAILED", want: "FAILED"},
		{name: "unknown", status: "pending", want: "pending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatStatusWithColor(tt.status); got != tt.want {
				t.Fatalf("formatStatusWithColor(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestFormatSeverityWithColor(t *testing.T) {
	disableColor(t)

	for _, sev := range []finding.Severity{finding.SeverityCritical, finding.SeverityHigh, finding.SeverityMedium, finding.SeverityLow, finding.SeverityInfo} {
		got := formatSeverityWithColor(sev)
		if got == "" || got != strings.ToUpper(string(sev)) {
			t.Errorf("formatSeverityWithColor(%s) = %q", sev, got)
		}
	}
}

func TestFormatScoreWithColor(t *testing.T) {
	disableColor(t)

	if got := formatScoreWithColor(85); got != "85/100" {
		t.Fatalf("unexpected score label %q", got)
	}
	if got := formatScoreWithColor(0); got != "0/100" {
		t.Fatalf("unexpected score label %q", got)
	}
}
