package bulkemail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"PulseBatch/internal/content"
	"PulseBatch/internal/models"
)

var errStoreDown = errors.New("store unavailable")

// memStore is an in-memory JobStore, BatchStore and RecipientStore.
type memStore struct {
	mu         sync.Mutex
	jobs       map[string]*models.EmailJob
	batches    map[string]*models.EmailBatch
	batchOrder []string
	recipients map[string][]models.EmailRecipient

	jobUpdates   []models.JobUpdate
	batchUpdates map[string][]models.BatchStatus
	listRefCalls int

	// events records writes in order, e.g. "batch B1 failed".
	events []string

	failFinalJobUpdate bool
	failRecipientMark  bool
	// rejectDoneCtx makes writes fail once the caller's context is done,
	// as a database driver would.
	rejectDoneCtx bool
}

func newMemStore() *memStore {
	return &memStore{
		jobs:         make(map[string]*models.EmailJob),
		batches:      make(map[string]*models.EmailBatch),
		recipients:   make(map[string][]models.EmailRecipient),
		batchUpdates: make(map[string][]models.BatchStatus),
	}
}

func (s *memStore) FindJob(ctx context.Context, id string, opts models.QueryOptions) (*models.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) UpdateJob(ctx context.Context, id string, upd models.JobUpdate, opts models.QueryOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctxErr(ctx); err != nil {
		return err
	}
	if upd.Results != nil && s.failFinalJobUpdate {
		return errStoreDown
	}
	s.jobUpdates = append(s.jobUpdates, upd)
	s.events = append(s.events, fmt.Sprintf("job %s %s", id, upd.Status))
	j := s.jobs[id]
	j.Status = upd.Status
	if upd.Results != nil {
		j.Results = upd.Results
		j.ErrorData = upd.ErrorData
		j.Error = ""
		if upd.Error != nil {
			j.Error = *upd.Error
		}
	}
	return nil
}

func (s *memStore) FindBatch(ctx context.Context, id string, opts models.QueryOptions) (*models.EmailBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	if j, ok := s.jobs[b.EmailID]; ok {
		jc := *j
		cp.Job = &jc
	}
	return &cp, nil
}

func (s *memStore) ListBatchRefs(ctx context.Context, jobID string, statuses []models.BatchStatus, opts models.QueryOptions) ([]models.BatchRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listRefCalls++
	var out []models.BatchRef
	for _, id := range s.batchOrder {
		b := s.batches[id]
		if b.EmailID != jobID {
			continue
		}
		for _, st := range statuses {
			if b.Status == st {
				out = append(out, models.BatchRef{ID: b.ID, MemberSegment: b.Segment()})
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) UpdateBatch(ctx context.Context, id string, upd models.BatchUpdate, opts models.QueryOptions) (*models.EmailBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctxErr(ctx); err != nil {
		return nil, err
	}
	s.events = append(s.events, fmt.Sprintf("batch %s %s", id, upd.Status))
	b := s.batches[id]
	b.Status = upd.Status
	if upd.ProviderID != nil {
		b.ProviderID = *upd.ProviderID
	}
	s.batchUpdates[id] = append(s.batchUpdates[id], upd.Status)
	cp := *b
	return &cp, nil
}

func (s *memStore) ListRecipients(ctx context.Context, batchID string, opts models.QueryOptions) ([]models.EmailRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EmailRecipient(nil), s.recipients[batchID]...), nil
}

func (s *memStore) MarkProcessed(ctx context.Context, batchID string, at time.Time, opts models.QueryOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctxErr(ctx); err != nil {
		return err
	}
	if s.failRecipientMark {
		return errStoreDown
	}
	s.events = append(s.events, "processed "+batchID)
	for i := range s.recipients[batchID] {
		ts := at
		s.recipients[batchID][i].ProcessedAt = &ts
	}
	return nil
}

func (s *memStore) ctxErr(ctx context.Context) error {
	if s.rejectDoneCtx {
		return ctx.Err()
	}
	return nil
}

func (s *memStore) writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *memStore) job(id string) models.EmailJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) batch(id string) models.EmailBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.batches[id]
}

func (s *memStore) allProcessed(batchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recipients[batchID]) == 0 {
		return false
	}
	for _, r := range s.recipients[batchID] {
		if r.ProcessedAt == nil {
			return false
		}
	}
	return true
}

// fakeProvider identifies the batch of a call from the recipients'
// unique_id, which the fixture sets to "<batch>/<n>".
type fakeProvider struct {
	unconfigured bool
	delay        map[string]time.Duration
	fail         map[string]error
	panicOn      string
	// onSend runs inside Send before the response is produced.
	onSend func(batch string)

	mu       sync.Mutex
	calls    []string
	payloads map[string]map[string]models.RecipientData
	contents map[string]models.EmailContent
	tokens   map[string][]models.ReplacementToken

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		delay:    make(map[string]time.Duration),
		fail:     make(map[string]error),
		payloads: make(map[string]map[string]models.RecipientData),
		contents: make(map[string]models.EmailContent),
		tokens:   make(map[string][]models.ReplacementToken),
	}
}

func (f *fakeProvider) IsConfigured() bool { return !f.unconfigured }

func (f *fakeProvider) Send(ctx context.Context, c models.EmailContent, recipients map[string]models.RecipientData, tokens []models.ReplacementToken) (*models.SendResponse, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	batch := batchOf(recipients)

	f.mu.Lock()
	f.calls = append(f.calls, batch)
	f.payloads[batch] = recipients
	f.contents[batch] = c
	f.tokens[batch] = tokens
	f.mu.Unlock()

	if f.onSend != nil {
		f.onSend(batch)
	}
	if batch == f.panicOn {
		panic("provider exploded")
	}
	if d := f.delay[batch]; d > 0 {
		time.Sleep(d)
	}
	if err := f.fail[batch]; err != nil {
		return nil, err
	}
	return &models.SendResponse{ID: "<" + batch + "@mg.example.com>"}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func batchOf(recipients map[string]models.RecipientData) string {
	for _, data := range recipients {
		batch, _, _ := strings.Cut(data["unique_id"], "/")
		return batch
	}
	return ""
}

type fakeReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *fakeReporter) ReportException(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *fakeReporter) reported() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type fixture struct {
	store     *memStore
	provider  *fakeProvider
	reporter  *fakeReporter
	processor *Processor
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    newMemStore(),
		provider: newFakeProvider(),
		reporter: &fakeReporter{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.processor = &Processor{
		Jobs:       f.store,
		Batches:    f.store,
		Recipients: f.store,
		Provider:   f.provider,
		Renderer:   content.NewRenderer("https://example.com"),
		Reporter:   f.reporter,
		Log:        zap.NewNop(),
		Now:        func() time.Time { return f.now },
	}
	return f
}

func (f *fixture) addJob(id string, status models.EmailStatus) {
	f.store.jobs[id] = &models.EmailJob{
		ID:     id,
		Status: status,
		Content: models.EmailContent{
			Subject: "Weekly digest",
			HTML:    `<p>Hi {first_name, "there"}</p>`,
			From:    "news@example.com",
		},
	}
}

func (f *fixture) addBatch(jobID, batchID string, status models.BatchStatus, recipients int) {
	f.store.batches[batchID] = &models.EmailBatch{ID: batchID, EmailID: jobID, Status: status}
	f.store.batchOrder = append(f.store.batchOrder, batchID)
	for n := 0; n < recipients; n++ {
		f.store.recipients[batchID] = append(f.store.recipients[batchID], models.EmailRecipient{
			ID:          fmt.Sprintf("%s-r%d", batchID, n),
			EmailID:     jobID,
			BatchID:     batchID,
			MemberUUID:  fmt.Sprintf("%s/%d", batchID, n),
			MemberEmail: fmt.Sprintf("member%d@%s.example.com", n, strings.ToLower(batchID)),
			MemberName:  fmt.Sprintf("Member %d", n),
		})
	}
}
