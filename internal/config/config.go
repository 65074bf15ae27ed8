package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderMailgun = "mailgun"
	ProviderSMTP    = "smtp"
)

type Config struct {
	// ----------------------------
	// Delivery Provider
	// ----------------------------
	Provider string `envconfig:"PROVIDER" default:"mailgun"`

	MailgunAPIKey  string        `envconfig:"MAILGUN_API_KEY" default:""`
	MailgunDomain  string        `envconfig:"MAILGUN_DOMAIN" default:""`
	MailgunBaseURL string        `envconfig:"MAILGUN_BASE_URL" default:"https://api.mailgun.net/v3"`
	MailgunTimeout time.Duration `envconfig:"MAILGUN_TIMEOUT" default:"30s"`

	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"noreply@pulsebatch.local"`

	// ----------------------------
	// Workers
	// ----------------------------
	WorkerCount int           `envconfig:"WORKER_COUNT" default:"2"`
	QueueSize   int           `envconfig:"QUEUE_SIZE" default:"100"`
	RateLimit   int           `envconfig:"RATE_LIMIT" default:"10"`
	JobLockTTL  time.Duration `envconfig:"JOB_LOCK_TTL" default:"30m"`

	// ----------------------------
	// Links
	// ----------------------------
	SiteURL string `envconfig:"SITE_URL" default:"http://localhost:8080"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Logging
	// ----------------------------
	LogDevelopment bool `envconfig:"LOG_DEVELOPMENT" default:"false"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL      string        `envconfig:"DATABASE_URL" required:"true"`
	DBConnectTimeout time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"30s"`

	// ----------------------------
	// Redis (optional, job locks)
	// ----------------------------
	RedisURL string `envconfig:"REDIS_URL" default:""`
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderMailgun, ProviderSMTP:
	default:
		return fmt.Errorf("unknown PROVIDER %q (want %s or %s)", c.Provider, ProviderMailgun, ProviderSMTP)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QUEUE_SIZE must be at least 1, got %d", c.QueueSize)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("RATE_LIMIT must be at least 1, got %d", c.RateLimit)
	}
	return nil
}
