package bulkemail

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"PulseBatch/internal/email"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
		status  int
	}{
		{
			name:    "server error",
			err:     &email.Error{StatusCode: 500, Message: "internal"},
			message: "Email service is currently unavailable - please try again",
			status:  500,
		},
		{
			name:    "server error wins over dmarc text",
			err:     &email.Error{StatusCode: 503, Message: "DMARC something"},
			message: "Email service is currently unavailable - please try again",
			status:  503,
		},
		{
			name:    "unauthorized",
			err:     &email.Error{StatusCode: 401, Message: "Forbidden"},
			message: "Email failed to send - please verify your credentials",
			status:  401,
		},
		{
			name:    "dmarc any case",
			err:     &email.Error{StatusCode: 400, Message: "Sender domain has a strict DmArC policy"},
			message: "Unable to send email from domains implementing strict DMARC policies",
			status:  400,
		},
		{
			name:    "invalid address",
			err:     &email.Error{StatusCode: 400, Message: "'to' parameter is not a valid address. please check documentation"},
			message: "Recipient is not a valid address",
			status:  400,
		},
		{
			name:    "generic fallback echoes the original",
			err:     &email.Error{StatusCode: 400, Message: "domain not found"},
			message: `Email failed to send "domain not found" - please verify your email settings`,
			status:  400,
		},
		{
			name:    "wrapped provider error",
			err:     fmt.Errorf("send: %w", &email.Error{StatusCode: 401, Message: "nope"}),
			message: "Email failed to send - please verify your credentials",
			status:  401,
		},
		{
			name:    "internal error counts as server error",
			err:     &InternalError{Err: errors.New("connection reset")},
			message: "Email service is currently unavailable - please try again",
			status:  500,
		},
		{
			name:    "plain error",
			err:     errors.New("timeout"),
			message: `Email failed to send "timeout" - please verify your email settings`,
			status:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.message, got.Message)
			assert.Equal(t, tt.status, got.StatusCode)
		})
	}
}

func TestClassifyKeepsOriginalMessage(t *testing.T) {
	got := Classify(&email.Error{StatusCode: 502, Message: "bad gateway from upstream"})
	assert.Equal(t, "bad gateway from upstream", got.OriginalMessage)

	got = Classify(&InternalError{Err: errors.New("connection reset")})
	assert.Equal(t, "connection reset", got.OriginalMessage)
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, ClassifiedError{}, Classify(nil))
}
