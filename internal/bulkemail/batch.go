package bulkemail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"PulseBatch/internal/metrics"
	"PulseBatch/internal/models"
)

// ProcessBatch sends one pending or failed batch and records its status.
// Once the recipients are loaded, they are stamped processed_at on every
// exit path, after the batch status has been written.
//
// Cancelling ctx does not stop a batch that has started: the send and every
// status write run to completion so the batch never stays submitting.
func (p *Processor) ProcessBatch(ctx context.Context, batchID string, opts models.QueryOptions, segment string) (*models.EmailBatch, error) {
	ctx = context.WithoutCancel(ctx)

	batch, err := p.Batches.FindBatch(ctx, batchID, opts)
	if err != nil {
		return nil, fmt.Errorf("load email batch %s: %w", batchID, err)
	}
	if batch == nil {
		return nil, &NotFoundError{Kind: "email_batch", ID: batchID}
	}
	if !batch.Status.Retryable() {
		return nil, &InvalidStateError{
			Kind:    "email_batch",
			ID:      batchID,
			Status:  string(batch.Status),
			Allowed: []string{string(models.BatchPending), string(models.BatchFailed)},
		}
	}
	if batch.Job == nil {
		return nil, &NotFoundError{Kind: "email", ID: batch.EmailID}
	}

	recipients, err := p.Recipients.ListRecipients(ctx, batchID, opts)
	if err != nil {
		return nil, fmt.Errorf("load recipients of email batch %s: %w", batchID, err)
	}

	defer p.markProcessed(ctx, batchID, opts)

	metrics.BatchesInFlight.Inc()
	defer metrics.BatchesInFlight.Dec()

	saved, err := p.attempt(ctx, batch, recipients, opts, segment)
	if err != nil {
		metrics.BatchesProcessed.WithLabelValues(string(models.BatchFailed)).Inc()
		metrics.EmailFailures.Add(float64(len(recipients)))
		return nil, p.failBatch(ctx, batchID, opts, err)
	}

	metrics.BatchesProcessed.WithLabelValues(string(models.BatchSubmitted)).Inc()
	metrics.EmailsSent.Add(float64(len(recipients)))

	return saved, nil
}

func (p *Processor) attempt(
	ctx context.Context,
	batch *models.EmailBatch,
	recipients []models.EmailRecipient,
	opts models.QueryOptions,
	segment string,
) (*models.EmailBatch, error) {

	if _, err := p.Batches.UpdateBatch(ctx, batch.ID, models.BatchUpdate{Status: models.BatchSubmitting}, opts); err != nil {
		return nil, fmt.Errorf("mark email batch submitting: %w", err)
	}

	resp, err := p.Send(ctx, batch.Job.Content, recipients, segment)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("no response from delivery provider")
	}

	providerID := trimEnvelope(resp.ID)
	saved, err := p.Batches.UpdateBatch(ctx, batch.ID, models.BatchUpdate{
		Status:     models.BatchSubmitted,
		ProviderID: &providerID,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("mark email batch submitted: %w", err)
	}

	return saved, nil
}

// failBatch marks the batch failed and returns the error to propagate.
// ProviderErrors pass through unchanged since Send already reported them.
func (p *Processor) failBatch(ctx context.Context, batchID string, opts models.QueryOptions, cause error) error {
	if _, err := p.Batches.UpdateBatch(ctx, batchID, models.BatchUpdate{Status: models.BatchFailed}, opts); err != nil {
		p.logger().Error("failed to update batch failure status",
			zap.String("batch_id", batchID),
			zap.Error(err),
		)
	}

	if _, ok := asProviderError(cause); ok {
		return cause
	}

	ierr := &InternalError{Err: cause}
	p.report(ctx, ierr)
	p.logger().Error("email batch failed",
		zap.String("batch_id", batchID),
		zap.Error(ierr),
	)
	return ierr
}

func (p *Processor) markProcessed(ctx context.Context, batchID string, opts models.QueryOptions) {
	if err := p.Recipients.MarkProcessed(ctx, batchID, p.now(), opts); err != nil {
		p.report(ctx, fmt.Errorf("mark recipients of email batch %s processed: %w", batchID, err))
	}
}

func asProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Code == SendFailedCode {
		return perr, true
	}
	return nil, false
}

// trimEnvelope strips the angle brackets providers wrap message ids in.
func trimEnvelope(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	return strings.TrimSuffix(id, ">")
}
