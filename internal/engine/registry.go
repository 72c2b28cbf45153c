package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"automation/internal/clock"
)

// ErrRuleNotFound indicates an unknown rule ID.
var ErrRuleNotFound = errors.New("rule not found")

// RuleRegistry is the process-wide store of automation rules. All reads and
// writes are serialized so registry CRUD is safe relative to the tick loops.
type RuleRegistry struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	clock clock.Clock
}

func NewRuleRegistry(clk clock.Clock) *RuleRegistry {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RuleRegistry{
		rules: make(map[string]*Rule),
		clock: clk,
	}
}

// Add registers a rule. A missing ID gets generated; a duplicate ID is an error.
func (r *RuleRegistry) Add(rule Rule) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if _, exists := r.rules[rule.ID]; exists {
		return nil, fmt.Errorf("rule %s already exists", rule.ID)
	}
	if rule.TriggerEvent == "" {
		return nil, errors.New("rule requires a trigger event")
	}

	now := r.clock.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.ExecutionCount = 0
	rule.LastExecutedAt = nil

	stored := rule
	r.rules[rule.ID] = &stored
	return snapshot(&stored), nil
}

// Update replaces the mutable fields of an existing rule. Execution counters
// and creation time are preserved.
func (r *RuleRegistry) Update(id string, rule Rule) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("update rule %s: %w", id, ErrRuleNotFound)
	}

	existing.Name = rule.Name
	existing.Description = rule.Description
	if rule.TriggerEvent != "" {
		existing.TriggerEvent = rule.TriggerEvent
	}
	existing.Conditions = rule.Conditions
	existing.Actions = rule.Actions
	existing.Priority = rule.Priority
	existing.IsActive = rule.IsActive
	existing.UpdatedAt = r.clock.Now()

	return snapshot(existing), nil
}

// Delete removes a rule. Deletion is always explicit; nothing in the engine
// deletes rules on its own.
func (r *RuleRegistry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return fmt.Errorf("delete rule %s: %w", id, ErrRuleNotFound)
	}
	delete(r.rules, id)
	return nil
}

func (r *RuleRegistry) Get(id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("get rule %s: %w", id, ErrRuleNotFound)
	}
	return snapshot(rule), nil
}

// List returns all rules ordered by priority, then ID for a stable listing.
func (r *RuleRegistry) List() []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, snapshot(rule))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Match returns active rules for an event whose conditions all pass,
// ascending by priority. Rules with equal priority keep insertion-stable
// order by ID.
func (r *RuleRegistry) Match(event string, payload map[string]any) []*Rule {
	matched := make([]*Rule, 0)
	for _, rule := range r.List() {
		if !rule.IsActive || rule.TriggerEvent != event {
			continue
		}
		if conditionsPass(rule.Conditions, payload) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// recordExecution bumps the firing counters for a rule that just ran.
func (r *RuleRegistry) recordExecution(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[id]
	if !ok {
		return
	}
	rule.ExecutionCount++
	now := r.clock.Now()
	rule.LastExecutedAt = &now
}

func conditionsPass(conditions []Condition, payload map[string]any) bool {
	for _, cond := range conditions {
		if !EvaluateCondition(cond, payload) {
			return false
		}
	}
	// An empty condition list always matches.
	return true
}

func snapshot(rule *Rule) *Rule {
	copied := *rule
	if rule.LastExecutedAt != nil {
		at := *rule.LastExecutedAt
		copied.LastExecutedAt = &at
	}
	copied.Conditions = append([]Condition(nil), rule.Conditions...)
	copied.Actions = append([]Action(nil), rule.Actions...)
	return &copied
}
