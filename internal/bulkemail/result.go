package bulkemail

import (
	"encoding/json"

	"PulseBatch/internal/models"
)

// MaxErrorLength bounds the error text stored on a job.
const MaxErrorLength = 2000

// Outcome is the result of one dispatched batch: Success or Failure.
type Outcome interface {
	BatchID() string
	outcome()
}

type Success struct {
	ID string `json:"id"`
}

func (s Success) BatchID() string { return s.ID }
func (Success) outcome()          {}

type Failure struct {
	ID    string          `json:"id"`
	Error ClassifiedError `json:"error"`
}

func (f Failure) BatchID() string { return f.ID }
func (Failure) outcome()          {}

// NewFailure keeps the classification of an already classified
// ProviderError and classifies anything else.
func NewFailure(batchID string, err error) Failure {
	if perr, ok := asProviderError(err); ok {
		return Failure{ID: batchID, Error: perr.Classified}
	}
	return Failure{ID: batchID, Error: Classify(err)}
}

type JobResult struct {
	Status    models.EmailStatus
	Successes []Success
	Failures  []Failure
	// Error is the first failure's message in dispatch order, truncated to
	// MaxErrorLength. Empty when nothing failed.
	Error string
}

// Aggregate reduces batch outcomes, given in dispatch order, to the job
// result.
func Aggregate(outcomes []Outcome) JobResult {
	res := JobResult{
		Successes: make([]Success, 0, len(outcomes)),
		Failures:  make([]Failure, 0),
	}

	for _, o := range outcomes {
		switch o := o.(type) {
		case Success:
			res.Successes = append(res.Successes, o)
		case Failure:
			res.Failures = append(res.Failures, o)
		}
	}

	res.Status = models.StatusSubmitted
	if len(res.Failures) > 0 {
		res.Status = models.StatusFailed
		res.Error = truncate(res.Failures[0].Error.Message, MaxErrorLength)
	}

	return res
}

func (r JobResult) MarshalResults() (json.RawMessage, error) {
	return json.Marshal(r.Successes)
}

func (r JobResult) MarshalErrorData() (json.RawMessage, error) {
	return json.Marshal(r.Failures)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
