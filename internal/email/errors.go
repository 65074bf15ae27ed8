package email

import "fmt"

// Error is the failure shape every provider client returns.
type Error struct {
	StatusCode int
	Message    string
	Details    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
