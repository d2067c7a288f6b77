package cmd

import (
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/khanhnv2901/secscan/internal/domain/finding"
)

var (
	colorSuccess  = color.New(color.FgGreen).SprintFunc()
	colorInfo     = color.New(color.FgCyan).SprintFunc()
	colorWarn     = color.New(color.FgYellow).SprintFunc()
	colorError    = color.New(color.FgRed).SprintFunc()
	colorCritical = color.New(color.FgHiRed, color.Bold).SprintFunc()
	colorMuted    = color.New(color.FgHiBlack).SprintFunc()
)

func formatStatusWithColor(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success", "pass", "completed":
		return colorSuccess(status)
	case "error", "fail", "failed":
		return colorError(status)
	default:
		return status
	}
}

// formatSeverityWithColor renders a severity label padded for column output.
func formatSeverityWithColor(s finding.Severity) string {
	label := strings.ToUpper(string(s))
	switch s {
	case finding.SeverityCritical:
		return colorCritical(label)
	case finding.SeverityHigh:
		return colorError(label)
	case finding.SeverityMedium:
		return colorWarn(label)
	case finding.SeverityLow:
		return colorInfo(label)
	default:
		return colorMuted(label)
	}
}

// formatScoreWithColor colors a 0-100 score by band.
func formatScoreWithColor(score int) string {
	label := strconv.Itoa(score) + "/100"
	switch {
	case score >= 80:
		return colorSuccess(label)
	case score >= 50:
		return colorWarn(label)
	default:
		return colorError(label)
	}
}
