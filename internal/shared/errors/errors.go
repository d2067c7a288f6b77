package errors

import (
	"errors"
	"strings"
)

// Domain errors
var (
	// Target errors
	ErrEmptyTarget         = errors.New("target cannot be empty")
	ErrInvalidURL          = errors.New("invalid URL")
	ErrUnsupportedScheme   = errors.New("URL scheme must be http or https")
	ErrPrivateTarget       = errors.New("target resolves to a private or loopback address")
	ErrInvalidPort         = errors.New("port must be between 1 and 65535")
	ErrUnsupportedScanType = errors.New("unsupported scan type")
	ErrEmptyToken          = errors.New("token cannot be empty")

	// Scan errors
	ErrScanNotFound         = errors.New("scan not found")
	ErrScanFailed           = errors.New("scan failed")
	ErrScanAlreadyStarted   = errors.New("scan already started")
	ErrScanNotStarted       = errors.New("scan not started")
	ErrScanAlreadyCompleted = errors.New("scan already completed")
	ErrInvalidScanStatus    = errors.New("invalid scan status")

	// Repository errors
	ErrRepositoryOperation   = errors.New("repository operation failed")
	ErrStoreNotConfigured    = errors.New("scan store not configured")
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrMissingRequired = errors.New("missing required field")
)

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects field errors so a caller can report all of them at once.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match any ValidationErrors value.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Add appends a field error.
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field errors were collected.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
