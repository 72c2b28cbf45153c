package engine

import (
	"time"
)

// Operator compares one payload field against a rule condition value.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorContains    Operator = "contains"
	OperatorBetween     Operator = "between"
)

// Condition is one comparison against a dotted-path field in an event payload.
// SecondValue is only consulted by the between operator.
type Condition struct {
	Field       string   `json:"field"`
	Operator    Operator `json:"operator"`
	Value       any      `json:"value"`
	SecondValue any      `json:"second_value,omitempty"`
}

// ActionType enumerates the closed set of work a rule can perform.
type ActionType string

const (
	ActionCreateRecord     ActionType = "create_record"
	ActionUpdateRecord     ActionType = "update_record"
	ActionSendNotification ActionType = "send_notification"
	ActionExecuteFunction  ActionType = "execute_function"
	ActionScheduleTask     ActionType = "schedule_task"
)

// Action is one unit of work in a rule's chain. Config is resolved through
// the template processor against the trigger payload before execution.
// DelaySeconds > 0 defers execution without blocking the rest of the chain.
type Action struct {
	Type         ActionType     `json:"type"`
	Config       map[string]any `json:"config"`
	DelaySeconds int            `json:"delay_seconds,omitempty"`
}

// Rule binds a trigger event and conditions to an ordered action chain.
// Lower Priority runs first. A rule with no conditions always matches.
type Rule struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	TriggerEvent   string      `json:"trigger_event"`
	Conditions     []Condition `json:"conditions"`
	Actions        []Action    `json:"actions"`
	Priority       int         `json:"priority"`
	IsActive       bool        `json:"is_active"`
	ExecutionCount int         `json:"execution_count"`
	LastExecutedAt *time.Time  `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Execution status constants.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionCancelled = "cancelled"
)

// ActionResult status constants.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// ActionResult records one attempted action inside an execution.
type ActionResult struct {
	ActionType ActionType `json:"action_type"`
	Status     string     `json:"status"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	ExecutedAt time.Time  `json:"executed_at"`
}

// Execution is one rule firing. Results stay append-only after the execution
// reaches a terminal status: delayed actions report into it when they run.
type Execution struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"rule_id"`
	TriggerPayload map[string]any `json:"trigger_payload"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Status         string         `json:"status"`
	Results        []ActionResult `json:"results"`
}

// Stats summarizes engine activity for the introspection API.
type Stats struct {
	TotalRules       int `json:"total_rules"`
	ActiveRules      int `json:"active_rules"`
	TotalExecutions  int `json:"total_executions"`
	ActionsSucceeded int `json:"actions_succeeded"`
	ActionsFailed    int `json:"actions_failed"`
	PendingDelayed   int `json:"pending_delayed"`
}
