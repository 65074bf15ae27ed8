package bulkemail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"PulseBatch/internal/metrics"
	"PulseBatch/internal/models"
)

// Send delivers content to one batch of recipients in a single provider
// call. It returns a nil response and no error when the provider is not
// configured.
func (p *Processor) Send(
	ctx context.Context,
	content models.EmailContent,
	recipients []models.EmailRecipient,
	segment string,
) (*models.SendResponse, error) {

	if !p.Provider.IsConfigured() {
		p.logger().Warn("bulk email has not been configured")
		return nil, nil
	}

	start := time.Now()
	p.logger().Debug("sending message", zap.Int("recipients", len(recipients)))

	tokens := p.Renderer.ParseReplacements(content)
	payloads := p.recipientData(content, recipients, tokens)

	rendered, err := p.Renderer.RenderForSegment(content, segment)
	if err != nil {
		return nil, fmt.Errorf("render email for segment %q: %w", segment, err)
	}

	resp, err := p.Provider.Send(ctx, rendered, payloads, tokens)
	elapsed := time.Since(start)
	metrics.ProviderSendDuration.Observe(elapsed.Seconds())

	if err != nil {
		perr := &ProviderError{
			Code:       SendFailedCode,
			Classified: Classify(err),
			Err:        err,
		}
		p.report(ctx, perr)
		p.logger().Warn("failed to send message",
			zap.Duration("elapsed", elapsed),
			zap.Int("status_code", perr.Classified.StatusCode),
			zap.String("original_message", perr.Classified.OriginalMessage),
			zap.Error(perr),
		)
		return nil, perr
	}

	p.logger().Debug("sent message", zap.Duration("elapsed", elapsed))
	return resp, nil
}

// recipientData builds the per-recipient payload keyed by email address.
// Token values come from the recipient property, then the token fallback,
// then "".
func (p *Processor) recipientData(
	content models.EmailContent,
	recipients []models.EmailRecipient,
	tokens []models.ReplacementToken,
) map[string]models.RecipientData {

	newsletterUUID := content.NewsletterUUID()
	out := make(map[string]models.RecipientData, len(recipients))

	for _, r := range recipients {
		data := models.RecipientData{
			"unique_id":       r.MemberUUID,
			"unsubscribe_url": p.Renderer.UnsubscribeURL(r.MemberUUID, newsletterUUID),
		}

		for _, t := range tokens {
			v := r.Property(t.RecipientProperty)
			if v == "" {
				v = t.Fallback
			}
			data[t.ID] = v
		}

		out[r.MemberEmail] = data
	}

	return out
}
