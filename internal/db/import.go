package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"PulseBatch/internal/models"
)

var ErrDuplicateRecipient = errors.New("recipient listed twice in one batch")

// ImportResult summarises a created job.
type ImportResult struct {
	ID         string `json:"id"`
	Batches    int    `json:"batches"`
	Recipients int    `json:"recipients"`
}

// Partition groups rows by segment, in order of first appearance, and splits
// every group into chunks of at most size rows.
func Partition(rows []models.NewRecipient, size int) [][]models.NewRecipient {
	if size <= 0 {
		size = len(rows)
	}

	var order []string
	groups := make(map[string][]models.NewRecipient)
	for _, r := range rows {
		if _, ok := groups[r.Segment]; !ok {
			order = append(order, r.Segment)
		}
		groups[r.Segment] = append(groups[r.Segment], r)
	}

	var chunks [][]models.NewRecipient
	for _, seg := range order {
		g := groups[seg]
		for len(g) > 0 {
			n := min(size, len(g))
			chunks = append(chunks, g[:n])
			g = g[n:]
		}
	}
	return chunks
}

// CreateJob inserts a pending email with its batches and recipients in one
// transaction.
func (s *Store) CreateJob(ctx context.Context, content models.EmailContent, rows []models.NewRecipient, batchSize int) (*ImportResult, error) {
	res := &ImportResult{ID: uuid.NewString(), Recipients: len(rows)}
	chunks := Partition(rows, batchSize)
	res.Batches = len(chunks)

	err := s.InTx(ctx, func(tx *Store) error {
		if err := tx.insertJob(ctx, res.ID, content); err != nil {
			return fmt.Errorf("insert email: %w", err)
		}

		for _, chunk := range chunks {
			batchID := uuid.NewString()

			var segment *string
			if seg := chunk[0].Segment; seg != "" {
				segment = &seg
			}

			if _, err := tx.q.Exec(ctx,
				`INSERT INTO email_batches (id, email_id, member_segment, status)
				 VALUES ($1,$2,$3,$4)`,
				batchID,
				res.ID,
				segment,
				models.BatchPending,
			); err != nil {
				return fmt.Errorf("insert email batch: %w", err)
			}

			if err := tx.copyRecipients(ctx, res.ID, batchID, chunk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (s *Store) insertJob(ctx context.Context, id string, c models.EmailContent) error {
	var (
		newsletterUUID, newsletterName *string
		postUUID, postTitle, postURL   *string
		replyTo                        *string
	)
	if c.ReplyTo != "" {
		replyTo = &c.ReplyTo
	}
	if c.Newsletter != nil {
		newsletterUUID, newsletterName = &c.Newsletter.UUID, &c.Newsletter.Name
	}
	if c.Post != nil {
		postUUID, postTitle, postURL = &c.Post.UUID, &c.Post.Title, &c.Post.URL
	}

	_, err := s.q.Exec(ctx,
		`INSERT INTO email_jobs
		 (id, status, subject, html, plaintext, from_address, reply_to,
		  newsletter_uuid, newsletter_name, post_uuid, post_title, post_url)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		id,
		models.StatusPending,
		c.Subject,
		c.HTML,
		c.Plaintext,
		c.From,
		replyTo,
		newsletterUUID,
		newsletterName,
		postUUID,
		postTitle,
		postURL,
	)
	return err
}

func (s *Store) copyRecipients(ctx context.Context, emailID, batchID string, chunk []models.NewRecipient) error {
	values := make([][]any, 0, len(chunk))
	for _, r := range chunk {
		var fields []byte
		if len(r.Fields) > 0 {
			b, err := json.Marshal(r.Fields)
			if err != nil {
				return fmt.Errorf("encode member_fields: %w", err)
			}
			fields = b
		}

		memberUUID := r.UUID
		if memberUUID == "" {
			memberUUID = uuid.NewString()
		}

		values = append(values, []any{
			uuid.NewString(), emailID, batchID, memberUUID, r.Email, r.Name, fields,
		})
	}

	_, err := s.q.CopyFrom(ctx,
		pgx.Identifier{"email_recipients"},
		[]string{"id", "email_id", "batch_id", "member_uuid", "member_email", "member_name", "member_fields"},
		pgx.CopyFromRows(values),
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("batch %s: %w", batchID, ErrDuplicateRecipient)
	}
	if err != nil {
		return fmt.Errorf("copy recipients: %w", err)
	}
	return nil
}
