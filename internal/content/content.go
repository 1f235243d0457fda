package content

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	ugcPolicy    = bluemonday.UGCPolicy()
	markdown     = goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough))
	emailRegex   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Plain strips every tag from a message body for terminal output.
func Plain(input string) string {
	return html.UnescapeString(strictPolicy.Sanitize(input))
}

// Sanitize removes unsafe HTML while keeping user formatting.
func Sanitize(input string) string {
	return ugcPolicy.Sanitize(input)
}

// RenderMarkdown converts a message body to HTML. The output is sanitized,
// so raw HTML in the body never reaches the page.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return strings.TrimSpace(Sanitize(buf.String())), nil
}

// ValidateEmail does a shallow shape check before a login attempt.
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return errors.New("email is not valid")
	}
	return nil
}
