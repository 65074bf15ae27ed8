package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"PulseBatch/internal/bulkemail"
	"PulseBatch/internal/lock"
	"PulseBatch/internal/models"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
	block chan struct{}
}

func (f *fakeProcessor) ProcessJob(ctx context.Context, jobID string, opts models.QueryOptions) ([]bulkemail.Outcome, error) {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	f.calls = append(f.calls, jobID)
	f.mu.Unlock()

	if err := f.errs[jobID]; err != nil {
		return nil, err
	}
	return []bulkemail.Outcome{bulkemail.Success{ID: jobID + "-b1"}}, nil
}

func (f *fakeProcessor) processed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestStartPoolProcessesQueuedJobs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	processor := &fakeProcessor{errs: map[string]error{
		"missing": &bulkemail.NotFoundError{Kind: "email", ID: "missing"},
		"broken":  errors.New("db down"),
	}}

	jobs := make(chan string, 4)
	jobs <- "job-1"
	jobs <- "missing"
	jobs <- "broken"
	jobs <- "job-2"
	close(jobs)

	var wg sync.WaitGroup
	StartPool(context.Background(), &wg, 2, jobs, processor, lock.New(nil, time.Minute), zap.New(core))
	wg.Wait()

	assert.ElementsMatch(t, []string{"job-1", "missing", "broken", "job-2"}, processor.processed())
	assert.Equal(t, 2, logs.FilterMessage("email job finished").Len())
	assert.Equal(t, 1, logs.FilterMessage("email not processed").Len())
	assert.Equal(t, 1, logs.FilterMessage("email processing failed").Len())
}

func TestStartPoolSkipsLockedJob(t *testing.T) {
	locker := lock.New(nil, time.Minute)
	held := locker.For(lock.JobKey("job-1"))
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	core, logs := observer.New(zapcore.InfoLevel)
	processor := &fakeProcessor{}

	jobs := make(chan string, 1)
	jobs <- "job-1"
	close(jobs)

	var wg sync.WaitGroup
	StartPool(context.Background(), &wg, 1, jobs, processor, locker, zap.New(core))
	wg.Wait()

	assert.Empty(t, processor.processed())
	assert.Equal(t, 1, logs.FilterMessage("email already being processed, skipping").Len())
}

func TestStartPoolReleasesLock(t *testing.T) {
	locker := lock.New(nil, time.Minute)
	processor := &fakeProcessor{}

	jobs := make(chan string, 2)
	jobs <- "job-1"
	jobs <- "job-1"
	close(jobs)

	var wg sync.WaitGroup
	StartPool(context.Background(), &wg, 1, jobs, processor, locker, zap.NewNop())
	wg.Wait()

	assert.Equal(t, []string{"job-1", "job-1"}, processor.processed())
}

func TestStartPoolFinishesRunningJobOnShutdown(t *testing.T) {
	processor := &fakeProcessor{block: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	jobs := make(chan string)

	var wg sync.WaitGroup
	StartPool(ctx, &wg, 1, jobs, processor, lock.New(nil, time.Minute), zap.NewNop())

	jobs <- "job-1"
	cancel()
	close(processor.block)
	wg.Wait()

	assert.Equal(t, []string{"job-1"}, processor.processed())
}

func TestStartPoolLogsBatchCount(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	jobs := make(chan string, 1)
	jobs <- "job-1"
	close(jobs)

	var wg sync.WaitGroup
	StartPool(context.Background(), &wg, 1, jobs, &fakeProcessor{}, lock.New(nil, time.Minute), zap.New(core))
	wg.Wait()

	finished := logs.FilterMessage("email job finished").All()
	require.Len(t, finished, 1)

	fields := finished[0].ContextMap()
	assert.EqualValues(t, 1, fields["batches"])
	assert.Equal(t, "job-1", fields["email_id"])
	assert.NotContains(t, fields, "status")
}
