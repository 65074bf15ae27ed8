// Package content prepares email content for a batch send: it finds the
// per-recipient replacement tokens, renders segment-specific variants and
// builds unsubscribe links.
package content

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/osteele/liquid"

	"PulseBatch/internal/models"
)

// replacementPattern matches {first_name} and {first_name, "fallback"}. Quotes
// may be HTML-escaped when the token sits inside rendered markup.
var replacementPattern = regexp.MustCompile(`\{(\w+?)(?:,? *(?:"|&quot;)(.*?)(?:"|&quot;))?\}`)

type Renderer struct {
	engine  *liquid.Engine
	siteURL string
}

func NewRenderer(siteURL string) *Renderer {
	return &Renderer{
		engine:  liquid.NewEngine(),
		siteURL: strings.TrimRight(siteURL, "/"),
	}
}

// ParseReplacements returns one token per distinct placeholder found in the
// subject, html and plaintext, in order of first appearance.
func (r *Renderer) ParseReplacements(c models.EmailContent) []models.ReplacementToken {
	var tokens []models.ReplacementToken
	seen := make(map[string]bool)

	for _, src := range []string{c.Subject, c.HTML, c.Plaintext} {
		for _, m := range replacementPattern.FindAllStringSubmatch(src, -1) {
			if seen[m[0]] {
				continue
			}
			seen[m[0]] = true

			property := m[1]
			tokens = append(tokens, models.ReplacementToken{
				ID:                fmt.Sprintf("%s_%d", property, len(tokens)),
				Match:             m[0],
				RecipientProperty: "member_" + property,
				Fallback:          m[2],
			})
		}
	}

	return tokens
}

// RenderForSegment renders subject, html and plaintext as liquid templates
// with the segment, newsletter and post bound, so content can branch with
// {% if segment == "status:free" %}.
func (r *Renderer) RenderForSegment(c models.EmailContent, segment string) (models.EmailContent, error) {
	bindings := map[string]any{
		"segment": segment,
	}
	if c.Newsletter != nil {
		bindings["newsletter"] = map[string]any{
			"uuid": c.Newsletter.UUID,
			"name": c.Newsletter.Name,
		}
	}
	if c.Post != nil {
		bindings["post"] = map[string]any{
			"uuid":  c.Post.UUID,
			"title": c.Post.Title,
			"url":   c.Post.URL,
		}
	}

	out := c
	for _, field := range []*string{&out.Subject, &out.HTML, &out.Plaintext} {
		if *field == "" {
			continue
		}
		rendered, err := r.engine.ParseAndRenderString(*field, bindings)
		if err != nil {
			return models.EmailContent{}, fmt.Errorf("render content for segment %q: %w", segment, err)
		}
		*field = rendered
	}

	return out, nil
}

// UnsubscribeURL links a member to the unsubscribe page, scoped to a
// newsletter when one is given.
func (r *Renderer) UnsubscribeURL(memberUUID, newsletterUUID string) string {
	q := url.Values{}
	q.Set("uuid", memberUUID)
	if newsletterUUID != "" {
		q.Set("newsletter", newsletterUUID)
	}
	return r.siteURL + "/unsubscribe/?" + q.Encode()
}
