package models

import (
	"encoding/json"
	"strings"
	"time"
)

type EmailStatus string

const (
	StatusPending    EmailStatus = "pending"
	StatusSubmitting EmailStatus = "submitting"
	StatusSubmitted  EmailStatus = "submitted"
	StatusFailed     EmailStatus = "failed"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchFailed     BatchStatus = "failed"
	BatchSubmitting BatchStatus = "submitting"
	BatchSubmitted  BatchStatus = "submitted"
)

// Retryable reports whether a batch in this status may be (re)sent.
func (s BatchStatus) Retryable() bool {
	return s == BatchPending || s == BatchFailed
}

type Newsletter struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

type Post struct {
	UUID  string `json:"uuid"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// EmailContent is everything needed to render one send, independent of
// recipients.
type EmailContent struct {
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	Plaintext string `json:"plaintext"`
	From      string `json:"from"`
	ReplyTo   string `json:"reply_to,omitempty"`

	Newsletter *Newsletter `json:"newsletter,omitempty"`
	Post       *Post       `json:"post,omitempty"`
}

// NewsletterUUID returns the newsletter uuid or "" when the content has no
// newsletter.
func (c EmailContent) NewsletterUUID() string {
	if c.Newsletter == nil {
		return ""
	}
	return c.Newsletter.UUID
}

// EmailJob is one outbound campaign.
type EmailJob struct {
	ID      string       `json:"id"`
	Status  EmailStatus  `json:"status"`
	Content EmailContent `json:"content"`

	Results   json.RawMessage `json:"results,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorData json.RawMessage `json:"error_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type EmailBatch struct {
	ID            string      `json:"id"`
	EmailID       string      `json:"email_id"`
	MemberSegment *string     `json:"member_segment,omitempty"`
	Status        BatchStatus `json:"status"`
	ProviderID    string      `json:"provider_id,omitempty"`

	// Job is populated by loads that request the parent relation.
	Job *EmailJob `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Segment returns the batch audience segment or "".
func (b *EmailBatch) Segment() string {
	if b.MemberSegment == nil {
		return ""
	}
	return *b.MemberSegment
}

// BatchRef is the lightweight projection used to fan out a job.
type BatchRef struct {
	ID            string
	MemberSegment string
}

type EmailRecipient struct {
	ID          string            `json:"id"`
	EmailID     string            `json:"email_id"`
	BatchID     string            `json:"batch_id"`
	MemberUUID  string            `json:"member_uuid"`
	MemberEmail string            `json:"member_email"`
	MemberName  string            `json:"member_name"`
	Fields      map[string]string `json:"member_fields,omitempty"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
}

// FirstName is the first space-separated word of the member name.
func (r EmailRecipient) FirstName() string {
	first, _, _ := strings.Cut(r.MemberName, " ")
	return first
}

// Property resolves a recipient property by column name, falling back to
// the free-form profile fields.
func (r EmailRecipient) Property(name string) string {
	switch name {
	case "member_uuid":
		return r.MemberUUID
	case "member_email":
		return r.MemberEmail
	case "member_name":
		return r.MemberName
	case "member_first_name":
		return r.FirstName()
	}
	if v, ok := r.Fields[name]; ok {
		return v
	}
	return r.Fields[strings.TrimPrefix(name, "member_")]
}

// NewRecipient is an imported recipient before it is assigned to a batch.
type NewRecipient struct {
	Email   string
	Name    string
	UUID    string
	Segment string
	Fields  map[string]string
}

// ReplacementToken is one per-recipient placeholder found in content.
type ReplacementToken struct {
	ID                string `json:"id"`
	Match             string `json:"match"`
	RecipientProperty string `json:"recipientProperty"`
	Fallback          string `json:"fallback,omitempty"`
}

// RecipientData is the per-recipient substitution map handed to a provider.
type RecipientData map[string]string

type SendResponse struct {
	ID string
}

// QueryOptions carries the caller's lock context down to every store call
// made on its behalf.
type QueryOptions struct {
	ForUpdate bool
}

// JobUpdate always writes Status. Results, Error and ErrorData are written
// together, and only when Results is non-nil; a nil Error then clears the
// column.
type JobUpdate struct {
	Status    EmailStatus
	Results   json.RawMessage
	Error     *string
	ErrorData json.RawMessage
}

type BatchUpdate struct {
	Status     BatchStatus
	ProviderID *string
}
