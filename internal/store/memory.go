package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"automation/internal/clock"
	"automation/internal/notify"
)

// Memory is an in-process implementation of every collaborator contract the
// engine consumes: the generic record store, the notification store, and
// the role resolver. It backs the library-embedded and test configurations.
type Memory struct {
	mu            sync.RWMutex
	records       map[string]map[string]map[string]any // model -> id -> record
	notifications map[string]*notify.SmartNotification
	order         []string
	roles         map[string][]string
	clock         clock.Clock
}

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Memory{
		records:       make(map[string]map[string]map[string]any),
		notifications: make(map[string]*notify.SmartNotification),
		roles:         make(map[string][]string),
		clock:         clk,
	}
}

// Create implements the engine's record store contract.
func (m *Memory) Create(_ context.Context, model string, data map[string]any) (map[string]any, error) {
	if model == "" {
		return nil, fmt.Errorf("record requires a model")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record := make(map[string]any, len(data)+1)
	for k, v := range data {
		record[k] = v
	}
	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.New().String()
		record["id"] = id
	}
	record["createdAt"] = m.clock.Now()

	if m.records[model] == nil {
		m.records[model] = make(map[string]map[string]any)
	}
	m.records[model][id] = record

	return copyRecord(record), nil
}

// Update merges data into an existing record.
func (m *Memory) Update(_ context.Context, model, id string, data map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[model][id]
	if !ok {
		return nil, fmt.Errorf("%s record %s not found", model, id)
	}
	for k, v := range data {
		record[k] = v
	}
	record["updatedAt"] = m.clock.Now()

	return copyRecord(record), nil
}

// GetRecord is a test and introspection helper.
func (m *Memory) GetRecord(model, id string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[model][id]
	if !ok {
		return nil, false
	}
	return copyRecord(record), true
}

// Save implements notify.Store.
func (m *Memory) Save(_ context.Context, n *notify.SmartNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *n
	m.notifications[n.ID] = &copied
	m.order = append(m.order, n.ID)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*notify.SmartNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s not found", id)
	}
	copied := *n
	return &copied, nil
}

func (m *Memory) MarkRead(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s not found", id)
	}
	n.IsRead = true
	n.ReadAt = &at
	return nil
}

func (m *Memory) ListSince(_ context.Context, since time.Time) ([]*notify.SmartNotification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*notify.SmartNotification, 0)
	for _, id := range m.order {
		n := m.notifications[id]
		if n.CreatedAt.Before(since) {
			continue
		}
		copied := *n
		out = append(out, &copied)
	}
	return out, nil
}

// SetRole assigns users to a role for the role resolver.
func (m *Memory) SetRole(role string, users ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role] = append([]string(nil), users...)
}

// UsersWithRole implements notify.RoleResolver.
func (m *Memory) UsersWithRole(_ context.Context, role string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.roles[role]...), nil
}

func copyRecord(record map[string]any) map[string]any {
	copied := make(map[string]any, len(record))
	for k, v := range record {
		copied[k] = v
	}
	return copied
}
