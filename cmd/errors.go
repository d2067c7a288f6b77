package cmd

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	exitFailure        = 1
	exitScoreThreshold = 2
)

// InvalidTargetError indicates a target rejected before any network I/O.
type InvalidTargetError struct {
	Target string
	Err    error
}

func (e *InvalidTargetError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid target %q", e.Target)
	}
	return fmt.Sprintf("invalid target %q: %v", e.Target, e.Err)
}

func (e *InvalidTargetError) Unwrap() error {
	return e.Err
}

// ScoreThresholdError signals that a scan completed below --fail-under.
type ScoreThresholdError struct {
	Score     int
	Threshold int
}

func (e *ScoreThresholdError) Error() string {
	return fmt.Sprintf("security score %d is below the required %d", e.Score, e.Threshold)
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var threshold *ScoreThresholdError
	if errors.As(err, &threshold) {
		return exitScoreThreshold
	}
	return exitFailure
}
