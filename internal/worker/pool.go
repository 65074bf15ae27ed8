package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"PulseBatch/internal/bulkemail"
	"PulseBatch/internal/lock"
	"PulseBatch/internal/metrics"
	"PulseBatch/internal/models"
)

type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string, opts models.QueryOptions) ([]bulkemail.Outcome, error)
}

type Locker interface {
	For(key string) lock.Lock
}

// StartPool starts workers that process queued email job ids until ctx is
// cancelled or jobs is closed. A job that has started runs to completion
// even after ctx is cancelled, so its result is always written back.
func StartPool(
	ctx context.Context,
	wg *sync.WaitGroup,
	workers int,
	jobs <-chan string,
	processor JobProcessor,
	locker Locker,
	logger *zap.Logger,
) {

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			logger.Info("worker started", zap.Int("worker_id", id))

			for {
				select {

				case <-ctx.Done():
					logger.Info("worker shutting down", zap.Int("worker_id", id))
					return

				case jobID, ok := <-jobs:
					if !ok {
						logger.Info("job channel closed", zap.Int("worker_id", id))
						return
					}

					run(context.WithoutCancel(ctx), id, jobID, processor, locker, logger)
				}
			}
		}(i)
	}
}

func run(ctx context.Context, workerID int, jobID string, processor JobProcessor, locker Locker, logger *zap.Logger) {
	log := logger.With(zap.Int("worker_id", workerID), zap.String("email_id", jobID))

	// ----------------------------
	// Single Flight
	// ----------------------------
	l := locker.For(lock.JobKey(jobID))

	acquired, err := l.Acquire(ctx)
	if err != nil {
		log.Error("failed to acquire job lock", zap.Error(err))
		return
	}
	if !acquired {
		log.Info("email already being processed, skipping")
		metrics.JobsSkipped.Inc()
		return
	}
	defer func() {
		if err := l.Release(ctx); err != nil {
			log.Warn("failed to release job lock", zap.Error(err))
		}
	}()

	// ----------------------------
	// Process
	// ----------------------------
	outcomes, err := processor.ProcessJob(ctx, jobID, models.QueryOptions{})
	if err != nil {
		var notFound *bulkemail.NotFoundError
		var invalid *bulkemail.InvalidStateError

		switch {
		case errors.As(err, &notFound), errors.As(err, &invalid):
			log.Warn("email not processed", zap.Error(err))
		default:
			log.Error("email processing failed", zap.Error(err))
		}
		return
	}

	log.Info("email job finished", zap.Int("batches", len(outcomes)))
}
