package email

import (
	"context"
	"errors"
	"html"
	"net/textproto"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	"PulseBatch/internal/models"
)

// SMTPBatchSize bounds how many messages share one SMTP session.
const SMTPBatchSize = 100

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP delivers a batch as individually rendered messages over one session.
type SMTP struct {
	cfg     SMTPConfig
	dial    func() (gomail.SendCloser, error)
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewSMTP(cfg SMTPConfig, limiter *rate.Limiter, logger *zap.Logger) *SMTP {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTP{
		cfg:     cfg,
		dial:    d.Dial,
		limiter: limiter,
		log:     logger,
	}
}

func (s *SMTP) IsConfigured() bool {
	return s.cfg.Host != ""
}

func (s *SMTP) BatchSize() int { return SMTPBatchSize }

func (s *SMTP) Send(
	ctx context.Context,
	content models.EmailContent,
	recipients map[string]models.RecipientData,
	tokens []models.ReplacementToken,
) (*models.SendResponse, error) {

	sc, err := s.dial()
	if err != nil {
		return nil, smtpError(err, 503)
	}
	defer sc.Close()

	from := content.From
	if from == "" {
		from = s.cfg.From
	}

	for _, addr := range sortedAddresses(recipients) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, &Error{Message: err.Error(), Err: err}
			}
		}

		data := recipients[addr]
		value := func(t models.ReplacementToken) string { return data[t.ID] }
		escaped := func(t models.ReplacementToken) string { return html.EscapeString(data[t.ID]) }

		m := gomail.NewMessage()
		m.SetHeader("From", from)
		m.SetHeader("To", addr)
		m.SetHeader("Subject", substitute(content.Subject, tokens, value))
		if content.ReplyTo != "" {
			m.SetHeader("Reply-To", content.ReplyTo)
		}
		if u := data["unsubscribe_url"]; u != "" {
			m.SetHeader("List-Unsubscribe", "<"+u+">")
		}
		if content.Plaintext != "" {
			m.SetBody("text/plain", substitute(content.Plaintext, tokens, value))
			m.AddAlternative("text/html", substitute(content.HTML, tokens, escaped))
		} else {
			m.SetBody("text/html", substitute(content.HTML, tokens, escaped))
		}

		if err := sc.Send(from, []string{addr}, m); err != nil {
			return nil, smtpError(err, 0)
		}
	}

	id := "<" + uuid.NewString() + "@" + s.cfg.Host + ">"

	s.log.Debug("smtp batch delivered",
		zap.Int("recipients", len(recipients)),
		zap.String("provider_id", id),
	)

	return &models.SendResponse{ID: id}, nil
}

// smtpError maps SMTP reply codes onto the HTTP-like status codes used by
// error classification. fallback applies to non-protocol errors.
func smtpError(err error, fallback int) *Error {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return &Error{StatusCode: fallback, Message: err.Error(), Err: err}
	}

	status := 0
	switch {
	case tpErr.Code == 530 || tpErr.Code == 535:
		status = 401
	case tpErr.Code == 421:
		status = 503
	}

	return &Error{
		StatusCode: status,
		Message:    strings.TrimSpace(tpErr.Msg),
		Details:    tpErr.Error(),
		Err:        err,
	}
}
