package templates

import (
	"errors"
	"strings"

	"github.com/dealerkit/mailer-backend/pkg/messaging/types"
)

var ErrTemplateNotFound = errors.New("template not found or inactive")

// Store is the template lookup backing SendWithTemplate.
type Store interface {
	GetEmailTemplateBySlug(slug string) (*types.EmailTemplate, error)
}

// Substitute replaces every literal {{key}} occurrence with its value.
// Placeholders without a matching key pass through untouched, so a
// half-filled template is visible in the delivered mail instead of
// silently collapsing to an empty string.
func Substitute(content string, vars map[string]string) string {
	for key, value := range vars {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return content
}

// Render loads an active template by slug and substitutes vars into
// subject, html and text.
func Render(store Store, slug string, vars map[string]string) (subject, html, text string, err error) {
	template, err := store.GetEmailTemplateBySlug(slug)
	if err != nil || template == nil {
		return "", "", "", ErrTemplateNotFound
	}
	return Substitute(template.Subject, vars),
		Substitute(template.HTMLContent, vars),
		Substitute(template.TextContent, vars),
		nil
}
