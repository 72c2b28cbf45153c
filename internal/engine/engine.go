package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation/internal/clock"
	"automation/internal/metrics"
)

// delayedAction is one action deferred by delaySeconds, waiting in the
// engine-owned delay queue until its due time.
type delayedAction struct {
	executionID  string
	ruleID       string
	triggerEvent string
	action       Action
	payload      map[string]any
	dueAt        time.Time
}

// Config controls the delayed-action drain loop.
type Config struct {
	TickInterval time.Duration
}

// Engine matches rules against business events and executes their action
// chains. Immediate actions run inline on the caller's goroutine; delayed
// actions go into a drain queue serviced by Start.
type Engine struct {
	rules    *RuleRegistry
	executor *Executor
	clock    clock.Clock
	logger   *zap.Logger
	config   Config

	mu         sync.Mutex
	executions map[string]*Execution
	order      []string
	delayed    []delayedAction
}

func New(rules *RuleRegistry, executor *Executor, clk clock.Clock, cfg Config, logger *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}

	return &Engine{
		rules:      rules,
		executor:   executor,
		clock:      clk,
		logger:     logger,
		config:     cfg,
		executions: make(map[string]*Execution),
	}
}

// Rules exposes the registry for CRUD through the host API.
func (e *Engine) Rules() *RuleRegistry {
	return e.rules
}

// Trigger evaluates one business event against every active rule. Rules fire
// in ascending priority order; within one rule, actions run in declared
// order. Returns the IDs of the executions it created.
//
// Nothing raised by an action escapes this call: each failure is captured as
// a failed ActionResult on its execution.
func (e *Engine) Trigger(ctx context.Context, event string, payload map[string]any) []string {
	matched := e.rules.Match(event, payload)
	if len(matched) == 0 {
		e.logger.Debug("no rules matched event",
			zap.String("event", event),
		)
		return nil
	}

	e.logger.Info("event triggered",
		zap.String("event", event),
		zap.Int("matched_rules", len(matched)),
	)

	executionIDs := make([]string, 0, len(matched))
	for _, rule := range matched {
		executionIDs = append(executionIDs, e.executeRule(ctx, rule, payload))
	}
	return executionIDs
}

// executeRule dispatches one rule's action chain and records the execution.
// A failing action does not abort later actions; the chain is best-effort,
// not transactional.
func (e *Engine) executeRule(ctx context.Context, rule *Rule, payload map[string]any) string {
	now := e.clock.Now()
	exec := &Execution{
		ID:             uuid.New().String(),
		RuleID:         rule.ID,
		TriggerPayload: payload,
		StartedAt:      now,
		Status:         ExecutionRunning,
	}

	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.order = append(e.order, exec.ID)
	e.mu.Unlock()

	attempted, failed := 0, 0
	for _, action := range rule.Actions {
		if action.DelaySeconds > 0 {
			e.enqueueDelayed(exec.ID, rule.ID, rule.TriggerEvent, action, payload)
			continue
		}

		attempted++
		if !e.runAction(ctx, exec.ID, action, rule.TriggerEvent, payload) {
			failed++
		}
	}

	// The execution is terminal once every immediate action has been
	// attempted. Delayed actions keep appending results afterwards.
	status := ExecutionCompleted
	if attempted > 0 && failed == attempted {
		status = ExecutionFailed
	}

	completedAt := e.clock.Now()
	e.mu.Lock()
	exec.Status = status
	exec.CompletedAt = &completedAt
	e.mu.Unlock()

	e.rules.recordExecution(rule.ID)
	metrics.RecordRuleExecution(rule.TriggerEvent, status)

	e.logger.Info("rule executed",
		zap.String("rule_id", rule.ID),
		zap.String("rule_name", rule.Name),
		zap.String("execution_id", exec.ID),
		zap.String("status", status),
		zap.Int("actions_failed", failed),
	)

	return exec.ID
}

// runAction executes one action and appends its result. Returns true on success.
func (e *Engine) runAction(ctx context.Context, executionID string, action Action, triggerEvent string, payload map[string]any) bool {
	result, err := e.executor.Execute(ctx, action, triggerEvent, payload)

	ar := ActionResult{
		ActionType: action.Type,
		ExecutedAt: e.clock.Now(),
	}
	if err != nil {
		ar.Status = ResultFailed
		ar.Error = err.Error()
		e.logger.Warn("action failed",
			zap.String("execution_id", executionID),
			zap.String("action_type", string(action.Type)),
			zap.Error(err),
		)
	} else {
		ar.Status = ResultSuccess
		ar.Result = result
	}

	e.mu.Lock()
	if exec, ok := e.executions[executionID]; ok {
		exec.Results = append(exec.Results, ar)
	}
	e.mu.Unlock()

	metrics.RecordAction(string(action.Type), ar.Status)
	return err == nil
}

func (e *Engine) enqueueDelayed(executionID, ruleID, triggerEvent string, action Action, payload map[string]any) {
	dueAt := e.clock.Now().Add(time.Duration(action.DelaySeconds) * time.Second)

	e.mu.Lock()
	e.delayed = append(e.delayed, delayedAction{
		executionID:  executionID,
		ruleID:       ruleID,
		triggerEvent: triggerEvent,
		action:       action,
		payload:      payload,
		dueAt:        dueAt,
	})
	e.mu.Unlock()

	e.logger.Info("action delayed",
		zap.String("execution_id", executionID),
		zap.String("action_type", string(action.Type)),
		zap.Int("delay_seconds", action.DelaySeconds),
		zap.Time("due_at", dueAt),
	)
}

// Start drains the delayed-action queue until ctx is cancelled. Delayed
// actions whose due time has passed run on this goroutine, in due order.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine delay queue stopping")
			return
		case <-ticker.C:
			e.ProcessDelayed(ctx)
		}
	}
}

// ProcessDelayed runs every delayed action that is due. Exposed so tests
// (and a draining shutdown) can pump the queue against a simulated clock.
func (e *Engine) ProcessDelayed(ctx context.Context) {
	now := e.clock.Now()

	e.mu.Lock()
	due := make([]delayedAction, 0)
	remaining := e.delayed[:0]
	for _, d := range e.delayed {
		if !d.dueAt.After(now) {
			due = append(due, d)
		} else {
			remaining = append(remaining, d)
		}
	}
	e.delayed = remaining
	e.mu.Unlock()

	if len(due) == 0 {
		return
	}

	sort.SliceStable(due, func(i, j int) bool { return due[i].dueAt.Before(due[j].dueAt) })
	for _, d := range due {
		e.runAction(ctx, d.executionID, d.action, d.triggerEvent, d.payload)
	}
}

// Executions lists executions in creation order.
func (e *Engine) Executions() []*Execution {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Execution, 0, len(e.order))
	for _, id := range e.order {
		exec := e.executions[id]
		copied := *exec
		copied.Results = append([]ActionResult(nil), exec.Results...)
		out = append(out, &copied)
	}
	return out
}

// Execution returns one execution by ID.
func (e *Engine) Execution(id string) (*Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.executions[id]
	if !ok {
		return nil, false
	}
	copied := *exec
	copied.Results = append([]ActionResult(nil), exec.Results...)
	return &copied, true
}

// Stats tallies rules, executions, and action outcomes.
func (e *Engine) Stats() Stats {
	stats := Stats{}
	for _, rule := range e.rules.List() {
		stats.TotalRules++
		if rule.IsActive {
			stats.ActiveRules++
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stats.TotalExecutions = len(e.executions)
	stats.PendingDelayed = len(e.delayed)
	for _, exec := range e.executions {
		for _, r := range exec.Results {
			if r.Status == ResultSuccess {
				stats.ActionsSucceeded++
			} else {
				stats.ActionsFailed++
			}
		}
	}
	return stats
}
