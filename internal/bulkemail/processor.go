// Package bulkemail sends an email job's recipient batches to the delivery
// provider and folds the per-batch outcomes into the job's result.
//
// ProcessJob and ProcessBatch take identifiers rather than loaded records so
// they can be driven from a queue. Neither takes a lock: callers must not run
// ProcessJob for the same job concurrently. The submitting status written at
// the start of a run is a marker, not a mutex.
package bulkemail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"PulseBatch/internal/metrics"
	"PulseBatch/internal/models"
)

// MaxConcurrentBatches caps in-flight batch sends per job.
const MaxConcurrentBatches = 10

var eligibleBatchStatuses = []models.BatchStatus{models.BatchPending, models.BatchFailed}

type Processor struct {
	Jobs       JobStore
	Batches    BatchStore
	Recipients RecipientStore
	Provider   Provider
	Renderer   Renderer
	Reporter   Reporter
	Log        *zap.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// ProcessJob sends every pending or failed batch of a pending job and
// records the job result. Batches submitted by an earlier run are skipped,
// so a failed job can be retried by resetting it to pending.
//
// The returned outcomes are in dispatch order. Like ProcessBatch, a started
// job ignores cancellation of ctx so that its result is always written.
func (p *Processor) ProcessJob(ctx context.Context, jobID string, opts models.QueryOptions) ([]Outcome, error) {
	ctx = context.WithoutCancel(ctx)

	job, err := p.Jobs.FindJob(ctx, jobID, opts)
	if err != nil {
		return nil, fmt.Errorf("load email %s: %w", jobID, err)
	}
	if job == nil {
		return nil, &NotFoundError{Kind: "email", ID: jobID}
	}
	if job.Status != models.StatusPending {
		return nil, &InvalidStateError{
			Kind:    "email",
			ID:      jobID,
			Status:  string(job.Status),
			Allowed: []string{string(models.StatusPending)},
		}
	}

	if err := p.Jobs.UpdateJob(ctx, jobID, models.JobUpdate{Status: models.StatusSubmitting}, opts); err != nil {
		return nil, fmt.Errorf("mark email %s submitting: %w", jobID, err)
	}

	refs, err := p.Batches.ListBatchRefs(ctx, jobID, eligibleBatchStatuses, opts)
	if err != nil {
		return nil, fmt.Errorf("list batches of email %s: %w", jobID, err)
	}

	p.logger().Info("processing email",
		zap.String("email_id", jobID),
		zap.Int("batches", len(refs)),
	)

	// Each unit writes only its own slot and never returns an error, so the
	// group neither cancels siblings nor depends on completion order.
	outcomes := make([]Outcome, len(refs))

	var g errgroup.Group
	g.SetLimit(MaxConcurrentBatches)

	for i, ref := range refs {
		g.Go(func() error {
			outcomes[i] = p.dispatch(ctx, ref, opts)
			return nil
		})
	}
	_ = g.Wait()

	result := Aggregate(outcomes)
	p.saveResult(ctx, jobID, result, opts)

	metrics.JobsProcessed.WithLabelValues(string(result.Status)).Inc()

	p.logger().Info("email processed",
		zap.String("email_id", jobID),
		zap.String("status", string(result.Status)),
		zap.Int("submitted", len(result.Successes)),
		zap.Int("failed", len(result.Failures)),
	)

	return outcomes, nil
}

func (p *Processor) dispatch(ctx context.Context, ref models.BatchRef, opts models.QueryOptions) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = NewFailure(ref.ID, &InternalError{Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	if _, err := p.ProcessBatch(ctx, ref.ID, opts, ref.MemberSegment); err != nil {
		return NewFailure(ref.ID, err)
	}
	return Success{ID: ref.ID}
}

// saveResult is best effort: a failed write is reported, never returned.
func (p *Processor) saveResult(ctx context.Context, jobID string, result JobResult, opts models.QueryOptions) {
	results, rerr := result.MarshalResults()
	errorData, eerr := result.MarshalErrorData()
	if err := errors.Join(rerr, eerr); err != nil {
		p.report(ctx, fmt.Errorf("encode result of email %s: %w", jobID, err))
		return
	}

	upd := models.JobUpdate{
		Status:    result.Status,
		Results:   results,
		ErrorData: errorData,
	}
	if result.Error != "" {
		upd.Error = &result.Error
	}

	if err := p.Jobs.UpdateJob(ctx, jobID, upd, opts); err != nil {
		p.report(ctx, fmt.Errorf("save result of email %s: %w", jobID, err))
	}
}

func (p *Processor) report(ctx context.Context, err error) {
	if p.Reporter != nil {
		p.Reporter.ReportException(ctx, err)
	}
}

func (p *Processor) logger() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
