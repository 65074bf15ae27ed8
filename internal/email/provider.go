package email

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"PulseBatch/internal/config"
	"PulseBatch/internal/models"
)

// Provider is a delivery client together with its per-call recipient limit.
type Provider interface {
	IsConfigured() bool
	BatchSize() int
	Send(ctx context.Context, content models.EmailContent, recipients map[string]models.RecipientData, tokens []models.ReplacementToken) (*models.SendResponse, error)
}

// FromConfig builds the provider selected by PROVIDER.
func FromConfig(cfg *config.Config, limiter *rate.Limiter, logger *zap.Logger) Provider {
	if cfg.Provider == config.ProviderSMTP {
		return NewSMTP(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, limiter, logger)
	}
	return NewMailgun(MailgunConfig{
		APIKey:  cfg.MailgunAPIKey,
		Domain:  cfg.MailgunDomain,
		BaseURL: cfg.MailgunBaseURL,
		Timeout: cfg.MailgunTimeout,
	}, limiter, logger)
}
