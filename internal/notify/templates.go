package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrTemplateNotFound indicates an unknown template ID.
var ErrTemplateNotFound = errors.New("template not found")

// TemplateRegistry is an in-memory keyed store of notification templates.
// Writes are serialized against the dispatcher reading templates for a send.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: make(map[string]*Template)}
}

func (r *TemplateRegistry) Add(tpl Template) (*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	if _, exists := r.templates[tpl.ID]; exists {
		return nil, fmt.Errorf("template %s already exists", tpl.ID)
	}
	if tpl.Channel == "" {
		return nil, errors.New("template requires a channel")
	}

	stored := tpl
	r.templates[tpl.ID] = &stored
	copied := stored
	return &copied, nil
}

func (r *TemplateRegistry) Update(id string, tpl Template) (*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("update template %s: %w", id, ErrTemplateNotFound)
	}

	existing.Name = tpl.Name
	if tpl.Channel != "" {
		existing.Channel = tpl.Channel
	}
	existing.Subject = tpl.Subject
	existing.Body = tpl.Body
	existing.Variables = tpl.Variables
	existing.IsActive = tpl.IsActive

	copied := *existing
	return &copied, nil
}

func (r *TemplateRegistry) Get(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("get template %s: %w", id, ErrTemplateNotFound)
	}
	copied := *tpl
	return &copied, nil
}

func (r *TemplateRegistry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		copied := *tpl
		out = append(out, &copied)
	}
	return out
}
