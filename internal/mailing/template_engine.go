// Package mailing personalizes message content: merge-tag substitution with
// the Liquid template language, link rewriting for click and open tracking,
// and plain-text derivation from HTML bodies.
package mailing

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"html"
	"log"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/ignite/campaign-sender/internal/domain"
	"github.com/osteele/liquid"
)

// bracketTagRe matches legacy merge tags such as [FIRST_NAME] or
// [first_name/Friend]. Group 2 is the fallback.
var bracketTagRe = regexp.MustCompile(`(?i)\[([A-Z][A-Z0-9_]*)(?:/([^\]\[]*))?\]`)

// TemplateService renders merge tags with Liquid. Parsed templates are
// cached by content hash, so one campaign body is parsed once per process.
type TemplateService struct {
	engine *liquid.Engine
	links  *LinkService
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateService creates a template service. links may be nil, in
// which case LINK_* tags are not bound.
func NewTemplateService(links *LinkService) *TemplateService {
	ts := &TemplateService{
		engine: liquid.NewEngine(),
		links:  links,
	}
	ts.registerCustomFilters()
	return ts
}

func (ts *TemplateService) registerCustomFilters() {
	// {{ FIRST_NAME | default: "Friend" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if strings.TrimSpace(s) == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	ts.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	ts.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	ts.engine.RegisterFilter("email_domain", func(email string) string {
		if i := strings.LastIndex(email, "@"); i >= 0 {
			return email[i+1:]
		}
		return ""
	})
}

// Format substitutes the merge tags and message links of mc into text.
// With escapeHTML every substituted string value is HTML-escaped; literal
// template text is left untouched.
func (ts *TemplateService) Format(mc *domain.MessageContext, text string, escapeHTML bool) (string, error) {
	if !strings.Contains(text, "{{") && !strings.Contains(text, "{%") && !bracketTagRe.MatchString(text) {
		return text, nil
	}

	bindings := ts.bindings(mc, escapeHTML)
	tpl, err := ts.parse(translateBracketTags(text, bindings))
	if err != nil {
		return "", err
	}

	out, rerr := tpl.RenderString(bindings)
	if rerr != nil {
		log.Printf("[TemplateService] render error for campaign %s: %v", mc.Campaign.CID, rerr)
		return "", fmt.Errorf("render merge tags: %w", rerr)
	}
	return out, nil
}

func (ts *TemplateService) parse(text string) (*liquid.Template, error) {
	sum := md5.Sum([]byte(text))
	key := hex.EncodeToString(sum[:])
	if cached, ok := ts.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}

	tpl, err := ts.engine.ParseString(text)
	if err != nil {
		return nil, fmt.Errorf("parse merge tags: %w", err)
	}
	actual, _ := ts.cache.LoadOrStore(key, tpl)
	return actual.(*liquid.Template), nil
}

func (ts *TemplateService) bindings(mc *domain.MessageContext, escapeHTML bool) map[string]interface{} {
	b := make(map[string]interface{}, len(mc.MergeTags)+8)
	put := func(k string, v interface{}) {
		if s, ok := v.(string); ok && escapeHTML {
			v = html.EscapeString(s)
		}
		b[k] = v
	}

	if ts.links != nil {
		for k, v := range ts.links.MessageLinks(mc) {
			put(k, v)
		}
	}
	if mc.Campaign != nil {
		put("CAMPAIGN_NAME", mc.Campaign.Name)
	}
	if mc.List != nil {
		put("LIST_NAME", mc.List.Name)
	}
	for k, v := range mc.MergeTags {
		put(k, v)
	}
	return b
}

// ClearCache drops all parsed templates.
func (ts *TemplateService) ClearCache() {
	ts.cache.Range(func(k, _ interface{}) bool {
		ts.cache.Delete(k)
		return true
	})
}

// translateBracketTags rewrites [TAG] and [TAG/fallback] into Liquid
// output expressions. Tag names match case-insensitively; brackets naming
// no known tag are literal text and stay as written.
func translateBracketTags(text string, known map[string]interface{}) string {
	return bracketTagRe.ReplaceAllStringFunc(text, func(m string) string {
		parts := bracketTagRe.FindStringSubmatch(m)
		name := strings.ToUpper(parts[1])
		if _, ok := known[name]; !ok {
			return m
		}
		if parts[2] == "" && !strings.Contains(m, "/") {
			return "{{ " + name + " }}"
		}
		fallback := strings.ReplaceAll(parts[2], `"`, `'`)
		return "{{ " + name + ` | default: "` + fallback + `" }}`
	})
}
