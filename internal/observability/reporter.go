// Package observability is the exception sink for errors that are handled
// locally but must not go unnoticed.
package observability

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"PulseBatch/internal/bulkemail"
	"PulseBatch/internal/email"
	"PulseBatch/internal/metrics"
)

// Reporter logs exceptions and counts them by kind. It never fails.
type Reporter struct {
	Log *zap.Logger
}

func NewReporter(logger *zap.Logger) *Reporter {
	return &Reporter{Log: logger}
}

func (r *Reporter) ReportException(ctx context.Context, err error) {
	if err == nil {
		return
	}

	kind := Kind(err)
	metrics.ReportedErrors.WithLabelValues(kind).Inc()

	fields := []zap.Field{
		zap.String("kind", kind),
		zap.Error(err),
	}

	var perr *bulkemail.ProviderError
	if errors.As(err, &perr) {
		fields = append(fields,
			zap.String("code", perr.Code),
			zap.Int("status_code", perr.Classified.StatusCode),
			zap.String("original_message", perr.Classified.OriginalMessage),
		)
		var raw *email.Error
		if errors.As(err, &raw) && raw.Details != "" {
			fields = append(fields, zap.String("details", raw.Details))
		}
	}

	r.Log.Error("exception reported", fields...)
}

// Kind is the metric label for an error.
func Kind(err error) string {
	var (
		perr *bulkemail.ProviderError
		ierr *bulkemail.InternalError
		nerr *bulkemail.NotFoundError
		serr *bulkemail.InvalidStateError
	)
	switch {
	case errors.As(err, &perr):
		return "provider"
	case errors.As(err, &ierr):
		return "internal"
	case errors.As(err, &nerr):
		return "not_found"
	case errors.As(err, &serr):
		return "invalid_state"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "other"
	}
}
