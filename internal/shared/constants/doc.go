// Package constants centralizes scanner defaults shared across the CLI and API.
//
// Module timeouts, redirect and body caps, and certificate/token thresholds live
// here so cmd/ and internal/ reference the same values without import cycles.
// Runtime configuration (viper) overrides the timeouts; thresholds are fixed.
package constants
