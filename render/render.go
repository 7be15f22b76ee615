// Package render turns message templates into per-recipient content.
// Rendering is pure substitution and cannot fail; enhancement is a
// best-effort enrichment pass layered on top.
package render

import (
	"regexp"
	"strings"

	"github.com/cadencehq/cadence/recipient"
)

// Rendered is the personalized output for one recipient.
type Rendered struct {
	Subject  string
	BodyHTML string
	BodyText string
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Fallbacks used when a recipient field is empty. Output must read
// naturally; an empty substitution or a leaked {{placeholder}} is a
// rendering bug.
const (
	fallbackBusinessName = "your business"
	fallbackFirstName    = "there"
	fallbackCity         = "your area"
	fallbackSegment      = "local business"
)

// Renderer substitutes {{variable}} placeholders with recipient fields.
type Renderer struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer { return &Renderer{} }

// Render personalizes a template for a recipient. Unknown placeholders
// are removed; known placeholders with empty values get their fallback.
func (r *Renderer) Render(tmpl *recipient.Template, rcpt *recipient.Recipient) *Rendered {
	vars := variables(rcpt)
	return &Rendered{
		Subject:  substitute(tmpl.Subject, vars),
		BodyHTML: substitute(tmpl.BodyHTML, vars),
		BodyText: substitute(tmpl.BodyText, vars),
	}
}

func variables(rcpt *recipient.Recipient) map[string]string {
	return map[string]string{
		"business_name": orFallback(rcpt.BusinessName, fallbackBusinessName),
		"first_name":    orFallback(rcpt.FirstName, fallbackFirstName),
		"city":          orFallback(rcpt.City, fallbackCity),
		"segment":       orFallback(rcpt.Segment, fallbackSegment),
		"email":         rcpt.Email,
	}
}

func orFallback(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func substitute(s string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		return vars[name]
	})
}
