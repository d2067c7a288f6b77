package cmd

import (
	"errors"
	"fmt"
	"testing"

	sharedErrors "github.com/khanhnv2901/secscan/internal/shared/errors"
)

func TestInvalidTargetError(t *testing.T) {
	err := &InvalidTargetError{Target: "ftp://x", Err: sharedErrors.ErrUnsupportedScheme}
	want := fmt.Sprintf("invalid target %q: %v", "ftp://x", sharedErrors.ErrUnsupportedScheme)
	if err.Error() != want {
		t.Fatalf("expected %s, got %s", want, err.Error())
	}
	if !errors.Is(err, sharedErrors.ErrUnsupportedScheme) {
		t.Fatal("expected InvalidTargetError to unwrap to its cause")
	}

	bare := &InvalidTargetError{Target: "x"}
	if bare.Error() != `invalid target "x"` {
		t.Fatalf("unexpected error string: %s", bare.Error())
	}
}

func TestScoreThresholdError(t *testing.T) {
	err := &ScoreThresholdError{Score: 42, Threshold: 70}
	want := "security score 42 is below the required 70"
	if err.Error() != want {
		t.Fatalf("expected %s, got %s", want, err.Error())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "threshold", err: &ScoreThresholdError{Score: 1, Threshold: 2}, want: exitScoreThreshold},
		{name: "wrapped threshold", err: fmt.Errorf("scan: %w", &ScoreThresholdError{}), want: exitScoreThreshold},
		{name: "scan failure", err: sharedErrors.ErrScanFailed, want: exitFailure},
		{name: "invalid target", err: &InvalidTargetError{Target: "x"}, want: exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Fatalf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
