package bulkemail

import (
	"fmt"
	"strings"
)

// SendFailedCode marks errors that were already classified and reported by
// Send.
const SendFailedCode = "BULK_EMAIL_SEND_FAILED"

// NotFoundError means the referenced email or batch has no backing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provided %s id %q does not match a known %s record", e.Kind, e.ID, e.Kind)
}

// InvalidStateError means the record exists but is not in a status the
// operation may start from.
type InvalidStateError struct {
	Kind    string
	ID      string
	Status  string
	Allowed []string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %q has state %q, can only be processed when in %s",
		e.Kind, e.ID, e.Status, strings.Join(e.Allowed, " or "))
}

// ProviderError is a delivery failure that has been classified and reported.
type ProviderError struct {
	Code       string
	Classified ClassifiedError
	Err        error
}

func (e *ProviderError) Error() string {
	return "bulk email send failed: " + e.Classified.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// InternalError wraps any unexpected batch failure that is not a
// ProviderError.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
