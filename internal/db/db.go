package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"PulseBatch/internal/models"
)

var ErrNotFound = errors.New("record not found")

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Store implements the job, batch and recipient stores on Postgres.
type Store struct {
	Pool *pgxpool.Pool

	q querier
	// mu serializes statements of a tx-bound store; a pgx.Tx allows one
	// statement at a time and batches are processed concurrently.
	mu *sync.Mutex
}

// New connects and pings the database, retrying with exponential backoff
// until connectTimeout elapses.
func New(ctx context.Context, conn string, connectTimeout time.Duration, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = connectTimeout

	ping := func() error {
		return pool.Ping(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not ready, retrying",
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{Pool: pool, q: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// WithTx returns a store whose statements run inside tx.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{Pool: s.Pool, q: tx, mu: &sync.Mutex{}}
}

// InTx runs fn with a tx-bound store, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(*Store) error) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		return fn(s.WithTx(tx))
	})
}

func (s *Store) acquire() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// ----------------------------
// Jobs
// ----------------------------

const jobColumns = `j.id, j.status, j.subject, j.html, j.plaintext, j.from_address, j.reply_to,
	j.newsletter_uuid, j.newsletter_name, j.post_uuid, j.post_title, j.post_url,
	j.results, j.error, j.error_data, j.created_at, j.updated_at`

type jobRow struct {
	job models.EmailJob

	replyTo        *string
	newsletterUUID *string
	newsletterName *string
	postUUID       *string
	postTitle      *string
	postURL        *string
	results        []byte
	errorText      *string
	errorData      []byte
}

func (r *jobRow) dest() []any {
	return []any{
		&r.job.ID, &r.job.Status, &r.job.Content.Subject, &r.job.Content.HTML,
		&r.job.Content.Plaintext, &r.job.Content.From, &r.replyTo,
		&r.newsletterUUID, &r.newsletterName, &r.postUUID, &r.postTitle, &r.postURL,
		&r.results, &r.errorText, &r.errorData, &r.job.CreatedAt, &r.job.UpdatedAt,
	}
}

func (r *jobRow) model() *models.EmailJob {
	j := r.job
	j.Content.ReplyTo = deref(r.replyTo)
	if r.newsletterUUID != nil {
		j.Content.Newsletter = &models.Newsletter{UUID: *r.newsletterUUID, Name: deref(r.newsletterName)}
	}
	if r.postUUID != nil {
		j.Content.Post = &models.Post{UUID: *r.postUUID, Title: deref(r.postTitle), URL: deref(r.postURL)}
	}
	j.Results = r.results
	j.Error = deref(r.errorText)
	j.ErrorData = r.errorData
	return &j
}

func (s *Store) FindJob(ctx context.Context, id string, opts models.QueryOptions) (*models.EmailJob, error) {
	defer s.acquire()()

	var row jobRow
	err := s.q.QueryRow(ctx,
		`SELECT `+jobColumns+`
		 FROM email_jobs j
		 WHERE j.id=$1`+forUpdate(opts, ""),
		id,
	).Scan(row.dest()...)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return row.model(), nil
}

func (s *Store) UpdateJob(ctx context.Context, id string, upd models.JobUpdate, opts models.QueryOptions) error {
	defer s.acquire()()

	var (
		tag pgconn.CommandTag
		err error
	)

	if upd.Results == nil {
		tag, err = s.q.Exec(ctx,
			`UPDATE email_jobs
			 SET status=$1,
			     updated_at=NOW()
			 WHERE id=$2`,
			upd.Status,
			id,
		)
	} else {
		tag, err = s.q.Exec(ctx,
			`UPDATE email_jobs
			 SET status=$1,
			     results=$2,
			     error=$3,
			     error_data=$4,
			     updated_at=NOW()
			 WHERE id=$5`,
			upd.Status,
			[]byte(upd.Results),
			upd.Error,
			[]byte(upd.ErrorData),
			id,
		)
	}

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("email %s: %w", id, ErrNotFound)
	}
	return nil
}

// ----------------------------
// Batches
// ----------------------------

const batchColumns = `b.id, b.email_id, b.member_segment, b.status, COALESCE(b.provider_id, ''), b.created_at, b.updated_at`

func batchDest(b *models.EmailBatch) []any {
	return []any{&b.ID, &b.EmailID, &b.MemberSegment, &b.Status, &b.ProviderID, &b.CreatedAt, &b.UpdatedAt}
}

// FindBatch loads a batch together with its parent email.
func (s *Store) FindBatch(ctx context.Context, id string, opts models.QueryOptions) (*models.EmailBatch, error) {
	defer s.acquire()()

	var (
		batch models.EmailBatch
		job   jobRow
	)

	err := s.q.QueryRow(ctx,
		`SELECT `+batchColumns+`, `+jobColumns+`
		 FROM email_batches b
		 JOIN email_jobs j ON j.id = b.email_id
		 WHERE b.id=$1`+forUpdate(opts, "b"),
		id,
	).Scan(append(batchDest(&batch), job.dest()...)...)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	batch.Job = job.model()
	return &batch, nil
}

// ListBatchRefs returns the id and segment of the email's batches in the
// given statuses, in creation order.
func (s *Store) ListBatchRefs(ctx context.Context, jobID string, statuses []models.BatchStatus, opts models.QueryOptions) ([]models.BatchRef, error) {
	defer s.acquire()()

	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.q.Query(ctx,
		`SELECT b.id, COALESCE(b.member_segment, '')
		 FROM email_batches b
		 WHERE b.email_id=$1 AND b.status = ANY($2)
		 ORDER BY b.seq`+forUpdate(opts, "b"),
		jobID,
		names,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.BatchRef, error) {
		var ref models.BatchRef
		err := row.Scan(&ref.ID, &ref.MemberSegment)
		return ref, err
	})
}

func (s *Store) UpdateBatch(ctx context.Context, id string, upd models.BatchUpdate, opts models.QueryOptions) (*models.EmailBatch, error) {
	defer s.acquire()()

	var batch models.EmailBatch
	err := s.q.QueryRow(ctx,
		`UPDATE email_batches b
		 SET status=$1,
		     provider_id=COALESCE($2, b.provider_id),
		     updated_at=NOW()
		 WHERE b.id=$3
		 RETURNING `+batchColumns,
		upd.Status,
		upd.ProviderID,
		id,
	).Scan(batchDest(&batch)...)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("email batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &batch, nil
}

// ----------------------------
// Recipients
// ----------------------------

func (s *Store) ListRecipients(ctx context.Context, batchID string, opts models.QueryOptions) ([]models.EmailRecipient, error) {
	defer s.acquire()()

	rows, err := s.q.Query(ctx,
		`SELECT id, email_id, batch_id, member_uuid, member_email,
		        COALESCE(member_name, ''), member_fields, processed_at
		 FROM email_recipients
		 WHERE batch_id=$1
		 ORDER BY member_email`,
		batchID,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.EmailRecipient, error) {
		var (
			r      models.EmailRecipient
			fields []byte
		)
		if err := row.Scan(&r.ID, &r.EmailID, &r.BatchID, &r.MemberUUID, &r.MemberEmail,
			&r.MemberName, &fields, &r.ProcessedAt); err != nil {
			return r, err
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &r.Fields); err != nil {
				return r, fmt.Errorf("decode member_fields of recipient %s: %w", r.ID, err)
			}
		}
		return r, nil
	})
}

// MarkProcessed stamps every recipient of the batch with processed_at.
func (s *Store) MarkProcessed(ctx context.Context, batchID string, at time.Time, opts models.QueryOptions) error {
	defer s.acquire()()

	_, err := s.q.Exec(ctx,
		`UPDATE email_recipients
		 SET processed_at=$1
		 WHERE batch_id=$2`,
		at,
		batchID,
	)

	return err
}

func forUpdate(opts models.QueryOptions, table string) string {
	if !opts.ForUpdate {
		return ""
	}
	if table == "" {
		return " FOR UPDATE"
	}
	return " FOR UPDATE OF " + table
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
