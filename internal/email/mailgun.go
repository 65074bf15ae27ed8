package email

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"PulseBatch/internal/models"
)

// MailgunBatchSize is the recipient limit of one Mailgun messages call.
const MailgunBatchSize = 1000

type MailgunConfig struct {
	APIKey  string
	Domain  string
	BaseURL string
	Timeout time.Duration
}

// Mailgun delivers a whole batch in one messages call using
// recipient-variables for per-recipient data.
type Mailgun struct {
	cfg     MailgunConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewMailgun(cfg MailgunConfig, limiter *rate.Limiter, logger *zap.Logger) *Mailgun {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mailgun.net/v3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Mailgun{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		log:     logger,
	}
}

func (m *Mailgun) IsConfigured() bool {
	return m.cfg.APIKey != "" && m.cfg.Domain != ""
}

func (m *Mailgun) BatchSize() int { return MailgunBatchSize }

func (m *Mailgun) Send(
	ctx context.Context,
	content models.EmailContent,
	recipients map[string]models.RecipientData,
	tokens []models.ReplacementToken,
) (*models.SendResponse, error) {

	if len(recipients) > MailgunBatchSize {
		return nil, &Error{
			Message: fmt.Sprintf("batch of %d recipients exceeds Mailgun limit of %d", len(recipients), MailgunBatchSize),
		}
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, &Error{Message: err.Error(), Err: err}
		}
	}

	vars, err := json.Marshal(recipients)
	if err != nil {
		return nil, fmt.Errorf("marshal recipient-variables: %w", err)
	}

	form := url.Values{}
	form.Set("from", content.From)
	for _, addr := range sortedAddresses(recipients) {
		form.Add("to", addr)
	}
	form.Set("subject", substitute(content.Subject, tokens, mailgunVariable))
	form.Set("html", substitute(content.HTML, tokens, mailgunVariable))
	if content.Plaintext != "" {
		form.Set("text", substitute(content.Plaintext, tokens, mailgunVariable))
	}
	if content.ReplyTo != "" {
		form.Set("h:Reply-To", content.ReplyTo)
	}
	form.Set("h:List-Unsubscribe", "<%recipient.unsubscribe_url%>")
	form.Set("recipient-variables", string(vars))
	form.Set("o:tracking-opens", "yes")

	endpoint := fmt.Sprintf("%s/%s/messages", strings.TrimRight(m.cfg.BaseURL, "/"), m.cfg.Domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}

	var parsed struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 400 {
		msg := parsed.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Details:    string(body),
		}
	}

	if parsed.ID == "" {
		// A 2xx without a message id is not a confirmed send.
		return nil, &Error{
			StatusCode: http.StatusBadGateway,
			Message:    "mailgun response did not include a message id",
			Details:    string(body),
		}
	}

	m.log.Debug("mailgun batch accepted",
		zap.Int("recipients", len(recipients)),
		zap.String("provider_id", parsed.ID),
	)

	return &models.SendResponse{ID: parsed.ID}, nil
}

func mailgunVariable(token models.ReplacementToken) string {
	return "%recipient." + token.ID + "%"
}

// substitute replaces every token match in s with the value produced by fn.
func substitute(s string, tokens []models.ReplacementToken, fn func(models.ReplacementToken) string) string {
	for _, t := range tokens {
		if t.Match == "" {
			continue
		}
		s = strings.ReplaceAll(s, t.Match, fn(t))
	}
	return s
}

func sortedAddresses(recipients map[string]models.RecipientData) []string {
	out := make([]string, 0, len(recipients))
	for addr := range recipients {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}
