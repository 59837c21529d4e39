package mailing

import (
	"fmt"
	"strings"

	"github.com/jaytaylor/html2text"
	"github.com/mitchellh/go-wordwrap"
)

// PlainText derives text bodies from HTML.
type PlainText struct{}

// FromHTML converts html to plain text and wraps lines at wrap columns.
// Links keep their targets in brackets. A wrap of zero or less disables
// wrapping.
func (PlainText) FromHTML(htmlBody string, wrap int) (string, error) {
	text, err := html2text.FromString(htmlBody, html2text.Options{OmitLinks: false})
	if err != nil {
		return "", fmt.Errorf("html to text: %w", err)
	}
	if wrap <= 0 {
		return text, nil
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if len(line) > wrap {
			lines[i] = wordwrap.WrapString(line, uint(wrap))
		}
	}
	return strings.Join(lines, "\n"), nil
}
