package bulkemail

import (
	"errors"
	"fmt"
	"strings"

	"PulseBatch/internal/email"
)

const invalidAddressPhrase = `'to' parameter is not a valid address`

// ClassifiedError is the user-facing form of a batch failure. The raw
// provider text is kept in OriginalMessage.
type ClassifiedError struct {
	Message         string `json:"message"`
	OriginalMessage string `json:"originalMessage"`
	StatusCode      int    `json:"statusCode"`
}

// Classify maps a raw failure onto a user-facing category. The first
// matching rule wins.
func Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	original, status := rawDetails(err)
	out := ClassifiedError{
		OriginalMessage: original,
		StatusCode:      status,
	}

	switch {
	case status >= 500:
		out.Message = "Email service is currently unavailable - please try again"
	case status == 401:
		out.Message = "Email failed to send - please verify your credentials"
	case strings.Contains(strings.ToLower(original), "dmarc"):
		out.Message = "Unable to send email from domains implementing strict DMARC policies"
	case strings.Contains(original, invalidAddressPhrase):
		out.Message = "Recipient is not a valid address"
	default:
		out.Message = fmt.Sprintf(`Email failed to send "%s" - please verify your email settings`, original)
	}

	return out
}

func rawDetails(err error) (string, int) {
	var perr *email.Error
	if errors.As(err, &perr) {
		return perr.Message, perr.StatusCode
	}

	var ierr *InternalError
	if errors.As(err, &ierr) {
		return ierr.Err.Error(), 500
	}

	return err.Error(), 0
}
