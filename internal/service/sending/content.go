package sending

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ignite/campaign-sender/internal/domain"
)

// maxContentBytes caps the body read from a URL-sourced campaign.
const maxContentBytes = 10 << 20

type rawContent struct {
	html       string
	text       string
	renderTags bool
}

// resolveContent produces the unrendered body for a recipient according to
// the campaign's content source.
func (s *CampaignSender) resolveContent(ctx context.Context, mc *domain.MessageContext) (rawContent, error) {
	switch src := s.campaign.Source.(type) {
	case domain.URLSource:
		html, err := s.fetchContent(ctx, src.URL, mc)
		if err != nil {
			return rawContent{}, err
		}
		// The remote endpoint personalizes the content itself.
		return rawContent{html: html}, nil

	case domain.CustomSource:
		return rawContent{html: src.HTML, text: src.Text, renderTags: true}, nil

	case domain.TemplateSource:
		if s.template == nil {
			return rawContent{}, fmt.Errorf("%w: template %d", ErrNotFound, src.TemplateID)
		}
		return rawContent{html: s.template.HTML, text: s.template.Text, renderTags: true}, nil
	}
	return rawContent{}, fmt.Errorf("%w: %T", ErrUnknownSource, s.campaign.Source)
}

// fetchContent posts the message links and merge tags to the source URL
// and returns the response body. Anything but 200 is an error; retries are
// left to the caller.
func (s *CampaignSender) fetchContent(ctx context.Context, sourceURL string, mc *domain.MessageContext) (string, error) {
	form := url.Values{}
	for k, v := range s.deps.Links.MessageLinks(mc) {
		form.Set(k, v)
	}
	for k, v := range mc.MergeTags {
		form.Set(k, fmt.Sprint(v))
	}

	if s.opts.ContentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ContentTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sourceURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrContentFetch, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.deps.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrContentFetch, sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: received status code %d from %s", ErrContentFetch, resp.StatusCode, sourceURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body from %s: %w", ErrContentFetch, sourceURL, err)
	}
	return string(body), nil
}
