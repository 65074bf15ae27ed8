// Command import creates a pending email job from a recipient CSV file and
// optionally sends it right away.
//
//	import -recipients members.csv -subject "Weekly" -html body.html [-process]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"PulseBatch/internal/bulkemail"
	"PulseBatch/internal/config"
	"PulseBatch/internal/content"
	"PulseBatch/internal/csvparser"
	"PulseBatch/internal/db"
	"PulseBatch/internal/email"
	"PulseBatch/internal/models"
	"PulseBatch/internal/observability"
)

type options struct {
	recipients string
	htmlFile   string
	textFile   string
	process    bool
	content    models.EmailContent
	newsletter models.Newsletter
}

type jobCreator interface {
	CreateJob(ctx context.Context, content models.EmailContent, rows []models.NewRecipient, batchSize int) (*db.ImportResult, error)
}

func main() {
	var opts options
	flag.StringVar(&opts.recipients, "recipients", "", "recipient CSV file (required)")
	flag.StringVar(&opts.htmlFile, "html", "", "HTML body file")
	flag.StringVar(&opts.textFile, "text", "", "plain text body file")
	flag.StringVar(&opts.content.Subject, "subject", "", "subject line (required)")
	flag.StringVar(&opts.content.From, "from", "", "from address")
	flag.StringVar(&opts.content.ReplyTo, "reply-to", "", "reply-to address")
	flag.StringVar(&opts.newsletter.UUID, "newsletter-uuid", "", "newsletter uuid for unsubscribe links")
	flag.StringVar(&opts.newsletter.Name, "newsletter-name", "", "newsletter name")
	flag.BoolVar(&opts.process, "process", false, "send the job after importing it")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	store, err := db.New(ctx, cfg.DatabaseURL, cfg.DBConnectTimeout, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	sender := email.FromConfig(cfg, rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit), logger)

	res, err := importJob(ctx, store, opts, sender.BatchSize())
	if err != nil {
		logger.Fatal("import failed", zap.Error(err))
	}

	logger.Info("email created",
		zap.String("email_id", res.ID),
		zap.Int("batches", res.Batches),
		zap.Int("recipients", res.Recipients),
	)

	if opts.process {
		processor := &bulkemail.Processor{
			Jobs:       store,
			Batches:    store,
			Recipients: store,
			Provider:   sender,
			Renderer:   content.NewRenderer(cfg.SiteURL),
			Reporter:   observability.NewReporter(logger),
			Log:        logger,
		}
		if _, err := processor.ProcessJob(ctx, res.ID, models.QueryOptions{}); err != nil {
			logger.Fatal("email processing failed", zap.String("email_id", res.ID), zap.Error(err))
		}
	}

	json.NewEncoder(os.Stdout).Encode(res)
}

// importJob reads the body files and recipient CSV named in opts and creates
// the job.
func importJob(ctx context.Context, store jobCreator, opts options, batchSize int) (*db.ImportResult, error) {
	c := opts.content
	if c.Subject == "" {
		return nil, errors.New("-subject is required")
	}
	if opts.recipients == "" {
		return nil, errors.New("-recipients is required")
	}

	if opts.htmlFile != "" {
		b, err := os.ReadFile(opts.htmlFile)
		if err != nil {
			return nil, fmt.Errorf("read html: %w", err)
		}
		c.HTML = string(b)
	}
	if opts.textFile != "" {
		b, err := os.ReadFile(opts.textFile)
		if err != nil {
			return nil, fmt.Errorf("read text: %w", err)
		}
		c.Plaintext = string(b)
	}
	if c.HTML == "" && c.Plaintext == "" {
		return nil, errors.New("-html or -text is required")
	}
	if opts.newsletter.UUID != "" {
		nl := opts.newsletter
		c.Newsletter = &nl
	}

	rows, err := csvparser.Parse(opts.recipients)
	if err != nil {
		return nil, fmt.Errorf("parse recipients: %w", err)
	}

	return store.CreateJob(ctx, c, rows, batchSize)
}
