package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"PulseBatch/internal/bulkemail"
	"PulseBatch/internal/csvparser"
	"PulseBatch/internal/db"
	"PulseBatch/internal/models"
)

const maxUploadMemory = 32 << 20

type Store interface {
	CreateJob(ctx context.Context, content models.EmailContent, rows []models.NewRecipient, batchSize int) (*db.ImportResult, error)
	FindJob(ctx context.Context, id string, opts models.QueryOptions) (*models.EmailJob, error)
	FindBatch(ctx context.Context, id string, opts models.QueryOptions) (*models.EmailBatch, error)
}

type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batchID string, opts models.QueryOptions, segment string) (*models.EmailBatch, error)
}

type Handler struct {
	Store     Store
	Batches   BatchProcessor
	Jobs      chan<- string
	BatchSize int
	Log       *zap.Logger
}

// CreateJob imports a job from a multipart form: content fields plus a
// "recipients" CSV file.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	content := contentFromForm(r)
	if content.Subject == "" {
		respondError(w, http.StatusBadRequest, "subject is required")
		return
	}
	if content.HTML == "" && content.Plaintext == "" {
		respondError(w, http.StatusBadRequest, "html or plaintext is required")
		return
	}

	file, _, err := r.FormFile("recipients")
	if err != nil {
		respondError(w, http.StatusBadRequest, "recipients file is required")
		return
	}
	defer file.Close()

	rows, err := csvparser.ParseRecipientRows(file, 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Store.CreateJob(r.Context(), content, rows, h.BatchSize)
	if errors.Is(err, db.ErrDuplicateRecipient) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.Log.Error("failed to create email", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create email")
		return
	}

	h.Log.Info("email created",
		zap.String("email_id", res.ID),
		zap.Int("batches", res.Batches),
		zap.Int("recipients", res.Recipients),
	)

	respondJSON(w, http.StatusCreated, res)
}

// EnqueueJob hands the job to the worker pool without blocking.
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	select {
	case h.Jobs <- jobID:
		respondJSON(w, http.StatusAccepted, map[string]string{"id": jobID})
	default:
		respondError(w, http.StatusServiceUnavailable, "job queue is full")
	}
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.Store.FindJob(r.Context(), jobID, models.QueryOptions{})
	if err != nil {
		h.Log.Error("failed to load email", zap.String("email_id", jobID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load email")
		return
	}
	if job == nil {
		respondError(w, http.StatusNotFound, "email not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// ProcessBatch sends one batch synchronously using the batch's own segment.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	batch, err := h.Store.FindBatch(r.Context(), batchID, models.QueryOptions{})
	if err != nil {
		h.Log.Error("failed to load email batch", zap.String("batch_id", batchID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load email batch")
		return
	}
	if batch == nil {
		respondError(w, http.StatusNotFound, "email batch not found")
		return
	}

	updated, err := h.Batches.ProcessBatch(r.Context(), batchID, models.QueryOptions{}, batch.Segment())
	if err != nil {
		status, message := errorStatus(err)
		h.Log.Warn("email batch not sent",
			zap.String("batch_id", batchID),
			zap.Int("status", status),
			zap.Error(err),
		)
		respondError(w, status, message)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func errorStatus(err error) (int, string) {
	var (
		notFound *bulkemail.NotFoundError
		invalid  *bulkemail.InvalidStateError
		provider *bulkemail.ProviderError
		internal *bulkemail.InternalError
	)

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &invalid):
		return http.StatusConflict, err.Error()
	case errors.As(err, &provider):
		return http.StatusBadGateway, provider.Classified.Message
	case errors.As(err, &internal):
		return http.StatusBadGateway, bulkemail.Classify(internal).Message
	default:
		return http.StatusInternalServerError, "failed to process email batch"
	}
}

func contentFromForm(r *http.Request) models.EmailContent {
	field := func(name string) string {
		return strings.TrimSpace(r.FormValue(name))
	}

	c := models.EmailContent{
		Subject:   field("subject"),
		HTML:      r.FormValue("html"),
		Plaintext: r.FormValue("plaintext"),
		From:      field("from"),
		ReplyTo:   field("reply_to"),
	}
	if uuid := field("newsletter_uuid"); uuid != "" {
		c.Newsletter = &models.Newsletter{UUID: uuid, Name: field("newsletter_name")}
	}
	if uuid := field("post_uuid"); uuid != "" {
		c.Post = &models.Post{UUID: uuid, Title: field("post_title"), URL: field("post_url")}
	}
	return c
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
