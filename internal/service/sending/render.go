package sending

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/campaign-sender/internal/domain"
)

// dataImageRe matches the src of <img> tags that embed a data URI.
// Group 1 is everything up to the URI, group 2 the URI itself.
var dataImageRe = regexp.MustCompile(`(?i)(<img\b[^>]* src\s*=[\s"']*)(data:[^"'>\s]+)`)

// render resolves and personalizes the message body. inline extracts data
// URI images into attachments and is only enabled for real sends.
func (s *CampaignSender) render(ctx context.Context, mc *domain.MessageContext, inline bool) (*domain.RenderedMessage, error) {
	raw, err := s.resolveContent(ctx, mc)
	if err != nil {
		return nil, err
	}

	var formatTarget func(string) (string, error)
	if raw.renderTags {
		formatTarget = func(target string) (string, error) {
			return s.deps.Formatter.Format(mc, target, false)
		}
	}
	html, err := s.deps.Links.UpdateLinks(mc, raw.html, formatTarget)
	if err != nil {
		return nil, fmt.Errorf("update links: %w", err)
	}

	attachments := s.attachments.Builder()
	if inline {
		html = s.inlineDataImages(html, attachments)
	}

	text := raw.text
	if raw.renderTags {
		html, err = s.deps.Formatter.Format(mc, html, true)
		if err != nil {
			return nil, fmt.Errorf("format html: %w", err)
		}
		if strings.TrimSpace(text) != "" {
			text, err = s.deps.Formatter.Format(mc, text, false)
			if err != nil {
				return nil, fmt.Errorf("format text: %w", err)
			}
		}
	}

	if strings.TrimSpace(text) == "" {
		text, err = s.deps.Text.FromHTML(html, s.opts.TextWrapWidth)
		if err != nil {
			return nil, fmt.Errorf("derive plain text: %w", err)
		}
	}

	return &domain.RenderedMessage{
		HTML:        html,
		Text:        text,
		Attachments: attachments.Build(),
	}, nil
}

// inlineDataImages replaces every data URI image source with a cid:
// reference and records the URI as an inline attachment. Ids are random so
// mail clients never share a cached image between recipients.
func (s *CampaignSender) inlineDataImages(html string, b *domain.AttachmentBuilder) string {
	matches := dataImageRe.FindAllStringSubmatchIndex(html, -1)
	if len(matches) == 0 {
		return html
	}

	host := s.contentIDHost()
	var out strings.Builder
	out.Grow(len(html))
	last := 0
	for _, m := range matches {
		uriStart, uriEnd := m[4], m[5]
		cid := s.deps.NewContentID() + "-attachments@" + host
		b.AddInline(html[uriStart:uriEnd], cid)

		out.WriteString(html[last:uriStart])
		out.WriteString("cid:")
		out.WriteString(cid)
		last = uriEnd
	}
	out.WriteString(html[last:])
	return out.String()
}

func (s *CampaignSender) contentIDHost() string {
	if i := strings.LastIndex(s.sendConfiguration.FromEmail, "@"); i >= 0 && i < len(s.sendConfiguration.FromEmail)-1 {
		return s.sendConfiguration.FromEmail[i+1:]
	}
	return s.deps.URLs.PublicHost()
}
