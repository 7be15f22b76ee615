// Package recipient defines the read-only collaborators the engine
// depends on: the prospect directory and the message template store.
// Both live outside this subsystem; the interfaces here are the only
// contract. In-memory implementations are provided for tests and
// development.
package recipient

import (
	"context"

	"github.com/cadencehq/cadence/id"
)

// Recipient is one prospect record. Read-only from the engine's
// perspective.
type Recipient struct {
	ID           id.RecipientID `json:"id"`
	Email        string         `json:"email"`
	FirstName    string         `json:"first_name"`
	BusinessName string         `json:"business_name"`
	City         string         `json:"city"`

	// Segment tags the recipient for send-time heuristics and
	// personalization (e.g. "salon", "restaurant").
	Segment string `json:"segment"`

	// LeadScore in [0,1]; recipients above the configured threshold get
	// best-effort content enhancement.
	LeadScore float64 `json:"lead_score"`
}

// Directory is the external prospect record store.
type Directory interface {
	// GetRecipient fetches a recipient by ID. A missing record returns
	// cadence.ErrRecipientNotFound, which the queue treats as permanent.
	GetRecipient(ctx context.Context, recipientID id.RecipientID) (*Recipient, error)
}

// Template is one message template. Variables use {{name}} syntax.
type Template struct {
	ID       id.TemplateID `json:"id"`
	Name     string        `json:"name"`
	Subject  string        `json:"subject"`
	BodyHTML string        `json:"body_html"`
	BodyText string        `json:"body_text"`
}

// TemplateStore is the external message template store.
type TemplateStore interface {
	// GetTemplate fetches a template by ID. A missing record returns
	// cadence.ErrTemplateNotFound, which the queue treats as permanent.
	GetTemplate(ctx context.Context, templateID id.TemplateID) (*Template, error)
}
