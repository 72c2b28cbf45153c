package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"automation/internal/clock"
	"automation/internal/metrics"
)

// TaskType distinguishes recurring cron tasks from one-shot delays.
type TaskType string

const (
	TypeRecurring TaskType = "recurring"
	TypeOneTime   TaskType = "one_time"
)

// ErrTaskNotFound indicates an unknown task ID.
var ErrTaskNotFound = errors.New("scheduled task not found")

// Task is one time-driven unit of work. NextRun is always the earliest
// future firing consistent with Schedule as of the last computation.
type Task struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      TaskType       `json:"type"`
	Schedule  string         `json:"schedule,omitempty"` // 5-field cron, recurring only
	Action    map[string]any `json:"action"`
	IsActive  bool           `json:"is_active"`
	NextRun   time.Time      `json:"next_run"`
	LastRun   *time.Time     `json:"last_run,omitempty"`
	RunCount  int            `json:"run_count"`
	CreatedAt time.Time      `json:"created_at"`
}

// NamedAction is one entry in the fixed scheduled-action registry.
type NamedAction func(ctx context.Context, config map[string]any) error

// Config controls the scheduler tick.
type Config struct {
	TickInterval time.Duration
}

// Scheduler runs recurring and one-time tasks. On each tick, every active
// task whose NextRun has elapsed executes through the named-action registry;
// recurring tasks get their NextRun recomputed, one-time tasks deactivate.
type Scheduler struct {
	actions map[string]NamedAction
	config  Config
	clock   clock.Clock
	logger  *zap.Logger

	mu    sync.Mutex
	tasks map[string]*Task
}

func New(actions map[string]NamedAction, cfg Config, clk clock.Clock, logger *zap.Logger) *Scheduler {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}

	return &Scheduler{
		actions: actions,
		config:  cfg,
		clock:   clk,
		logger:  logger,
		tasks:   make(map[string]*Task),
	}
}

// Add registers a task. Recurring tasks must carry a valid cron expression;
// their NextRun is computed from it. One-time tasks keep whatever NextRun
// the caller set.
func (s *Scheduler) Add(task Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if _, exists := s.tasks[task.ID]; exists {
		return nil, fmt.Errorf("task %s already exists", task.ID)
	}
	if task.Name == "" {
		return nil, errors.New("task requires a name")
	}
	if task.Type == "" {
		task.Type = TypeRecurring
	}

	now := s.clock.Now()
	task.CreatedAt = now

	if task.Type == TypeRecurring {
		next, err := nextRun(task.Schedule, now)
		if err != nil {
			return nil, err
		}
		task.NextRun = next
	} else if task.NextRun.IsZero() {
		task.NextRun = now
	}

	stored := task
	s.tasks[task.ID] = &stored
	copied := stored
	return &copied, nil
}

// ScheduleTask registers a task from a schedule_task rule action.
// Implements the engine's TaskScheduler collaborator contract.
func (s *Scheduler) ScheduleTask(_ context.Context, name, taskType, schedule string, action map[string]any, delayMinutes int) (string, error) {
	task := Task{
		Name:     name,
		Type:     TaskType(taskType),
		Schedule: schedule,
		Action:   action,
		IsActive: true,
	}
	if task.Type == "" {
		task.Type = TypeOneTime
	}
	if task.Type == TypeOneTime {
		task.NextRun = s.clock.Now().Add(time.Duration(delayMinutes) * time.Minute)
	}

	added, err := s.Add(task)
	if err != nil {
		return "", err
	}
	return added.ID, nil
}

// Update replaces a task's mutable fields. Run counters are preserved;
// recomputation never decrements them.
func (s *Scheduler) Update(id string, task Task) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("update task %s: %w", id, ErrTaskNotFound)
	}

	newType := existing.Type
	if task.Type != "" {
		newType = task.Type
	}
	newSchedule := existing.Schedule
	if task.Schedule != "" {
		newSchedule = task.Schedule
	}

	// NextRun must be recomputed whenever the effective cron schedule
	// changes, including a type flip onto an inherited schedule. Validate
	// before touching the stored task so a bad expression rejects the
	// whole update.
	recompute := newType == TypeRecurring &&
		(newSchedule != existing.Schedule || existing.Type != newType)
	var next time.Time
	if recompute {
		n, err := nextRun(newSchedule, s.clock.Now())
		if err != nil {
			return nil, err
		}
		next = n
	}

	if task.Name != "" {
		existing.Name = task.Name
	}
	existing.Type = newType
	existing.Schedule = newSchedule
	if task.Action != nil {
		existing.Action = task.Action
	}
	existing.IsActive = task.IsActive
	if recompute {
		existing.NextRun = next
	}

	copied := *existing
	return &copied, nil
}

func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("delete task %s: %w", id, ErrTaskNotFound)
	}
	delete(s.tasks, id)
	return nil
}

func (s *Scheduler) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", id, ErrTaskNotFound)
	}
	copied := *task
	return &copied, nil
}

// List returns tasks ordered by next run time.
func (s *Scheduler) List() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRun.Equal(out[j].NextRun) {
			return out[i].NextRun.Before(out[j].NextRun)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Start ticks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue executes every active task whose NextRun has elapsed. Exposed for
// tests driving a fake clock. Task failures are logged; a recurring task
// stays active, a one-time task deactivates regardless of outcome.
func (s *Scheduler) RunDue(ctx context.Context) {
	now := s.clock.Now()

	// Snapshot due tasks under the lock. The action map runs unlocked, so
	// concurrent Update calls must never see it through a shared pointer;
	// Update replaces Action wholesale and never mutates in place.
	s.mu.Lock()
	due := make([]dueRun, 0)
	for _, task := range s.tasks {
		if task.IsActive && !task.NextRun.After(now) {
			due = append(due, dueRun{
				id:      task.ID,
				name:    task.Name,
				action:  task.Action,
				nextRun: task.NextRun,
			})
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].nextRun.Before(due[j].nextRun) })
	for _, run := range due {
		s.runTask(ctx, run, now)
	}
}

// dueRun is the per-tick snapshot of one due task, taken so execution can
// happen outside the scheduler lock.
type dueRun struct {
	id      string
	name    string
	action  map[string]any
	nextRun time.Time
}

func (s *Scheduler) runTask(ctx context.Context, run dueRun, now time.Time) {
	err := s.execute(ctx, run.action)

	status := "success"
	if err != nil {
		status = "failed"
		s.logger.Error("scheduled task failed",
			zap.Error(err),
			zap.String("task_id", run.id),
			zap.String("name", run.name),
		)
	} else {
		s.logger.Info("scheduled task ran",
			zap.String("task_id", run.id),
			zap.String("name", run.name),
		)
	}
	metrics.RecordScheduledRun(run.name, status)

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[run.id]
	if !ok {
		// Deleted while running; nothing left to bookkeep.
		return
	}

	ranAt := now
	task.LastRun = &ranAt
	task.RunCount++

	if task.Type == TypeOneTime {
		task.IsActive = false
		return
	}

	next, nerr := nextRun(task.Schedule, now)
	if nerr != nil {
		// An expression that stops parsing can only happen through a bad
		// update; deactivate instead of spinning every tick.
		s.logger.Error("invalid schedule, deactivating task",
			zap.Error(nerr),
			zap.String("task_id", task.ID),
		)
		task.IsActive = false
		return
	}
	task.NextRun = next
}

func (s *Scheduler) execute(ctx context.Context, action map[string]any) error {
	name, _ := action["type"].(string)
	if name == "" {
		return errors.New("task action has no type")
	}

	fn, ok := s.actions[name]
	if !ok {
		return fmt.Errorf("unknown scheduled action: %s", name)
	}

	config, _ := action["config"].(map[string]any)
	return fn(ctx, config)
}

// nextRun computes the earliest firing strictly after now for a 5-field
// cron expression (minute, hour, day-of-month, month, day-of-week).
func nextRun(schedule string, now time.Time) (time.Time, error) {
	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	return spec.Next(now), nil
}
