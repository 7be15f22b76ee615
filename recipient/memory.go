package recipient

import (
	"context"
	"sync"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/id"
)

// MemoryDirectory is an in-memory Directory for tests and development.
// Safe for concurrent access.
type MemoryDirectory struct {
	mu         sync.RWMutex
	recipients map[string]*Recipient
}

// NewMemoryDirectory returns an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{recipients: make(map[string]*Recipient)}
}

// Put adds or replaces a recipient record.
func (d *MemoryDirectory) Put(r *Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *r
	d.recipients[r.ID.String()] = &cp
}

// GetRecipient fetches a recipient by ID.
func (d *MemoryDirectory) GetRecipient(_ context.Context, recipientID id.RecipientID) (*Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.recipients[recipientID.String()]
	if !ok {
		return nil, cadence.ErrRecipientNotFound
	}
	cp := *r
	return &cp, nil
}

// MemoryTemplateStore is an in-memory TemplateStore for tests and
// development. Safe for concurrent access.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewMemoryTemplateStore returns an empty MemoryTemplateStore.
func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]*Template)}
}

// Put adds or replaces a template.
func (s *MemoryTemplateStore) Put(t *Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[t.ID.String()] = &cp
}

// GetTemplate fetches a template by ID.
func (s *MemoryTemplateStore) GetTemplate(_ context.Context, templateID id.TemplateID) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[templateID.String()]
	if !ok {
		return nil, cadence.ErrTemplateNotFound
	}
	cp := *t
	return &cp, nil
}
