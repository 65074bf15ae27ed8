package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmailRecipientProperty(t *testing.T) {
	r := EmailRecipient{
		MemberUUID:  "uuid-1",
		MemberEmail: "jamie@example.com",
		MemberName:  "Jamie Lee Curtis",
		Fields:      map[string]string{"company": "Acme"},
	}

	assert.Equal(t, "Jamie", r.FirstName())
	assert.Equal(t, "Jamie", r.Property("member_first_name"))
	assert.Equal(t, "uuid-1", r.Property("member_uuid"))
	assert.Equal(t, "jamie@example.com", r.Property("member_email"))
	assert.Equal(t, "Jamie Lee Curtis", r.Property("member_name"))
	assert.Equal(t, "Acme", r.Property("company"))
	assert.Equal(t, "Acme", r.Property("member_company"))
	assert.Equal(t, "", r.Property("missing"))
}

func TestEmailRecipientFirstNameEmpty(t *testing.T) {
	assert.Equal(t, "", EmailRecipient{}.FirstName())
}

func TestBatchStatusRetryable(t *testing.T) {
	assert.True(t, BatchPending.Retryable())
	assert.True(t, BatchFailed.Retryable())
	assert.False(t, BatchSubmitting.Retryable())
	assert.False(t, BatchSubmitted.Retryable())
}

func TestEmailContentNewsletterUUID(t *testing.T) {
	assert.Equal(t, "", EmailContent{}.NewsletterUUID())
	assert.Equal(t, "n-1", EmailContent{Newsletter: &Newsletter{UUID: "n-1"}}.NewsletterUUID())
}
