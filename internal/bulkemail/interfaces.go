package bulkemail

import (
	"context"
	"time"

	"PulseBatch/internal/models"
)

// JobStore returns a nil job, not an error, when the id is unknown.
type JobStore interface {
	FindJob(ctx context.Context, id string, opts models.QueryOptions) (*models.EmailJob, error)
	UpdateJob(ctx context.Context, id string, upd models.JobUpdate, opts models.QueryOptions) error
}

// BatchStore returns a nil batch, not an error, when the id is unknown.
// FindBatch populates the parent job.
type BatchStore interface {
	FindBatch(ctx context.Context, id string, opts models.QueryOptions) (*models.EmailBatch, error)
	ListBatchRefs(ctx context.Context, jobID string, statuses []models.BatchStatus, opts models.QueryOptions) ([]models.BatchRef, error)
	UpdateBatch(ctx context.Context, id string, upd models.BatchUpdate, opts models.QueryOptions) (*models.EmailBatch, error)
}

type RecipientStore interface {
	ListRecipients(ctx context.Context, batchID string, opts models.QueryOptions) ([]models.EmailRecipient, error)
	MarkProcessed(ctx context.Context, batchID string, at time.Time, opts models.QueryOptions) error
}

// Provider transmits one batch. Failures should carry an *email.Error.
type Provider interface {
	IsConfigured() bool
	Send(ctx context.Context, content models.EmailContent, recipients map[string]models.RecipientData, tokens []models.ReplacementToken) (*models.SendResponse, error)
}

type Renderer interface {
	ParseReplacements(c models.EmailContent) []models.ReplacementToken
	RenderForSegment(c models.EmailContent, segment string) (models.EmailContent, error)
	UnsubscribeURL(memberUUID, newsletterUUID string) string
}

// Reporter is a fire-and-forget exception sink.
type Reporter interface {
	ReportException(ctx context.Context, err error)
}
