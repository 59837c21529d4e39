package mailing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/ignite/campaign-sender/internal/domain"
)

// LinkService builds public URLs and rewrites message links into signed
// click-tracking redirects.
type LinkService struct {
	base       *url.URL
	signingKey []byte
}

// NewLinkService creates a link service rooted at publicURL.
func NewLinkService(publicURL, signingKey string) (*LinkService, error) {
	u, err := url.Parse(strings.TrimRight(publicURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse public url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("public url %q must be absolute", publicURL)
	}
	return &LinkService{base: u, signingKey: []byte(signingKey)}, nil
}

// PublicURL returns the absolute URL of path.
func (ls *LinkService) PublicURL(path string) string {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return ls.base.String() + path
}

// PublicHost returns the hostname of the installation, without port.
func (ls *LinkService) PublicHost() string {
	return ls.base.Hostname()
}

// MessageLinks returns the link tags available to every message.
func (ls *LinkService) MessageLinks(mc *domain.MessageContext) map[string]string {
	c, l, s := mc.Campaign.CID, mc.List.CID, mc.Subscriber.CID
	return map[string]string{
		"LINK_UNSUBSCRIBE": ls.PublicURL("/subscription/" + l + "/unsubscribe/" + s),
		"LINK_PREFERENCES": ls.PublicURL("/subscription/" + l + "/manage/" + s),
		"LINK_BROWSER":     ls.PublicURL("/archive/" + c + "/" + l + "/" + s),
		"CAMPAIGN_ID":      c,
		"LIST_ID":          l,
		"SUBSCRIPTION_ID":  s,
	}
}

// hrefRe matches absolute http(s) link targets of anchors. Targets may
// contain Liquid tags, so spaces are allowed inside the quotes.
var hrefRe = regexp.MustCompile(`(?i)(<a\b[^>]*?\shref\s*=\s*["'])(https?://[^"'<>]+)(["'])`)

// UpdateLinks replaces anchor targets with tracked redirects and appends
// the open pixel. Links pointing at the installation itself are kept so
// unsubscribe and preference pages stay direct. formatTarget, when not nil,
// personalizes each target before it is sealed into the click token; the
// redirect serves the token verbatim. The output only depends on its inputs.
func (ls *LinkService) UpdateLinks(mc *domain.MessageContext, body string, formatTarget func(string) (string, error)) (string, error) {
	if !mc.Campaign.ClickTrackingDisabled {
		var ferr error
		body = hrefRe.ReplaceAllStringFunc(body, func(m string) string {
			parts := hrefRe.FindStringSubmatch(m)
			target := html.UnescapeString(parts[2])
			if ls.isOwnLink(target) || ferr != nil {
				return m
			}
			if formatTarget != nil {
				formatted, err := formatTarget(target)
				if err != nil {
					ferr = err
					return m
				}
				target = strings.TrimSpace(formatted)
			}
			return parts[1] + ls.ClickURL(mc, target) + parts[3]
		})
		if ferr != nil {
			return "", fmt.Errorf("format link target: %w", ferr)
		}
	}

	if !mc.Campaign.OpenTrackingDisabled {
		pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none" />`, ls.OpenURL(mc))
		if i := strings.LastIndex(strings.ToLower(body), "</body>"); i >= 0 {
			body = body[:i] + pixel + body[i:]
		} else if strings.TrimSpace(body) != "" {
			body += pixel
		}
	}
	return body, nil
}

func (ls *LinkService) isOwnLink(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return true
	}
	return strings.EqualFold(u.Host, ls.base.Host)
}

// ClickURL returns the signed redirect for target.
func (ls *LinkService) ClickURL(mc *domain.MessageContext, target string) string {
	data := strings.Join([]string{mc.Campaign.CID, mc.List.CID, mc.Subscriber.CID, target}, "|")
	encoded := base64.RawURLEncoding.EncodeToString([]byte(data))
	return ls.PublicURL("/links/click/" + encoded + "/" + ls.sign(data))
}

// OpenURL returns the signed open pixel URL.
func (ls *LinkService) OpenURL(mc *domain.MessageContext) string {
	data := strings.Join([]string{mc.Campaign.CID, mc.List.CID, mc.Subscriber.CID}, "|")
	encoded := base64.RawURLEncoding.EncodeToString([]byte(data))
	return ls.PublicURL("/links/open/" + encoded + "/" + ls.sign(data))
}

// VerifyClick decodes a click token and returns the campaign, list and
// subscriber ids plus the original target.
func (ls *LinkService) VerifyClick(encoded, signature string) (campaign, list, subscriber, target string, err error) {
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", "", "", fmt.Errorf("invalid encoding")
	}
	data := string(decoded)
	if !hmac.Equal([]byte(ls.sign(data)), []byte(signature)) {
		return "", "", "", "", fmt.Errorf("invalid signature")
	}
	parts := strings.SplitN(data, "|", 4)
	if len(parts) != 4 {
		return "", "", "", "", fmt.Errorf("invalid data format")
	}
	return parts[0], parts[1], parts[2], parts[3], nil
}

// VerifyOpen decodes an open pixel token and returns the campaign, list and
// subscriber ids.
func (ls *LinkService) VerifyOpen(encoded, signature string) (campaign, list, subscriber string, err error) {
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid encoding")
	}
	data := string(decoded)
	if !hmac.Equal([]byte(ls.sign(data)), []byte(signature)) {
		return "", "", "", fmt.Errorf("invalid signature")
	}
	parts := strings.Split(data, "|")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("invalid data format")
	}
	return parts[0], parts[1], parts[2], nil
}

// sign creates an HMAC signature
func (ls *LinkService) sign(data string) string {
	h := hmac.New(sha256.New, ls.signingKey)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
