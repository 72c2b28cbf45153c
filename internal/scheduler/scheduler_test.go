package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fixedClock struct {
	now time.Time
}

func (f *fixedClock) Now() time.Time { return f.now }

func (f *fixedClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func testClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 6, 15, 12, 0, 30, 0, time.UTC)}
}

type actionLog struct {
	mu    sync.Mutex
	runs  []string
	errBy map[string]error
}

func (a *actionLog) record(name string) NamedAction {
	return func(_ context.Context, _ map[string]any) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.runs = append(a.runs, name)
		if a.errBy != nil {
			return a.errBy[name]
		}
		return nil
	}
}

func newScheduler(t *testing.T) (*Scheduler, *actionLog, *fixedClock) {
	t.Helper()
	log := &actionLog{errBy: map[string]error{}}
	clk := testClock()
	s := New(map[string]NamedAction{
		"check_overdue_invoices": log.record("check_overdue_invoices"),
		"backup_database":        log.record("backup_database"),
	}, Config{TickInterval: time.Minute}, clk, zap.NewNop())
	return s, log, clk
}

func TestScheduler_AddRecurringComputesNextRun(t *testing.T) {
	s, _, clk := newScheduler(t)

	added, err := s.Add(Task{
		Name:     "overdue check",
		Type:     TypeRecurring,
		Schedule: "0 * * * *",
		Action:   map[string]any{"type": "check_overdue_invoices"},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	want := time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC)
	if !added.NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", added.NextRun, want)
	}
	if !added.NextRun.After(clk.Now()) {
		t.Error("next run must be strictly in the future")
	}
}

func TestScheduler_AddValidation(t *testing.T) {
	s, _, _ := newScheduler(t)

	if _, err := s.Add(Task{Type: TypeRecurring, Schedule: "0 * * * *"}); err == nil {
		t.Error("expected missing name to be rejected")
	}
	if _, err := s.Add(Task{Name: "bad", Type: TypeRecurring, Schedule: "not a cron"}); err == nil {
		t.Error("expected invalid schedule to be rejected")
	}
	if _, err := s.Add(Task{ID: "t1", Name: "a", Type: TypeOneTime}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Add(Task{ID: "t1", Name: "b", Type: TypeOneTime}); err == nil {
		t.Error("expected duplicate ID to be rejected")
	}
}

func TestScheduler_RecurringTaskRunsAndRecomputes(t *testing.T) {
	s, log, clk := newScheduler(t)

	added, err := s.Add(Task{
		Name:     "overdue check",
		Type:     TypeRecurring,
		Schedule: "0 * * * *",
		Action:   map[string]any{"type": "check_overdue_invoices"},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx := context.Background()

	// Not yet due.
	s.RunDue(ctx)
	if len(log.runs) != 0 {
		t.Fatal("task ran before its next run time")
	}

	clk.Advance(time.Hour)
	s.RunDue(ctx)
	if len(log.runs) != 1 {
		t.Fatalf("runs = %v", log.runs)
	}

	got, err := s.Get(added.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RunCount != 1 || got.LastRun == nil {
		t.Errorf("counters = %+v", got)
	}
	if !got.IsActive {
		t.Error("recurring task deactivated")
	}
	if !got.NextRun.After(clk.Now()) {
		t.Errorf("next run %v not strictly after now %v", got.NextRun, clk.Now())
	}

	// An immediate second tick must not re-fire the same slot.
	s.RunDue(ctx)
	if len(log.runs) != 1 {
		t.Errorf("task re-fired inside the same slot: %v", log.runs)
	}
}

func TestScheduler_OneTimeTaskDeactivatesAfterRun(t *testing.T) {
	s, log, clk := newScheduler(t)

	added, err := s.Add(Task{
		Name:     "backup once",
		Type:     TypeOneTime,
		Action:   map[string]any{"type": "backup_database"},
		IsActive: true,
		NextRun:  clk.Now().Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx := context.Background()
	clk.Advance(11 * time.Minute)
	s.RunDue(ctx)

	if len(log.runs) != 1 {
		t.Fatalf("runs = %v", log.runs)
	}
	got, _ := s.Get(added.ID)
	if got.IsActive {
		t.Error("one-time task still active after running")
	}

	clk.Advance(time.Hour)
	s.RunDue(ctx)
	if len(log.runs) != 1 {
		t.Errorf("one-time task re-ran: %v", log.runs)
	}
}

func TestScheduler_OneTimeTaskDeactivatesEvenOnFailure(t *testing.T) {
	s, log, clk := newScheduler(t)
	log.errBy["backup_database"] = errors.New("disk full")

	added, err := s.Add(Task{
		Name:     "backup once",
		Type:     TypeOneTime,
		Action:   map[string]any{"type": "backup_database"},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	clk.Advance(time.Second)
	s.RunDue(context.Background())

	got, _ := s.Get(added.ID)
	if got.IsActive {
		t.Error("failed one-time task must still deactivate")
	}
	if got.RunCount != 1 {
		t.Errorf("run count = %d", got.RunCount)
	}
}

func TestScheduler_RecurringTaskStaysActiveOnFailure(t *testing.T) {
	s, log, clk := newScheduler(t)
	log.errBy["check_overdue_invoices"] = errors.New("db timeout")

	added, err := s.Add(Task{
		Name:     "overdue check",
		Type:     TypeRecurring,
		Schedule: "*/5 * * * *",
		Action:   map[string]any{"type": "check_overdue_invoices"},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	clk.Advance(10 * time.Minute)
	s.RunDue(context.Background())

	got, _ := s.Get(added.ID)
	if !got.IsActive {
		t.Error("recurring task deactivated on action failure")
	}
	if !got.NextRun.After(clk.Now()) {
		t.Error("next run not recomputed after failure")
	}
}

func TestScheduler_UnknownActionIsFailure(t *testing.T) {
	s, _, clk := newScheduler(t)

	added, err := s.Add(Task{
		Name:     "mystery",
		Type:     TypeOneTime,
		Action:   map[string]any{"type": "does_not_exist"},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	clk.Advance(time.Second)
	s.RunDue(context.Background())

	got, _ := s.Get(added.ID)
	if got.RunCount != 1 || got.IsActive {
		t.Errorf("task = %+v", got)
	}
}

func TestScheduler_ScheduleTaskFromRuleAction(t *testing.T) {
	s, log, clk := newScheduler(t)

	id, err := s.ScheduleTask(context.Background(), "follow-up", "", "", map[string]any{"type": "backup_database"}, 30)
	if err != nil {
		t.Fatalf("schedule task: %v", err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != TypeOneTime {
		t.Errorf("type = %s", got.Type)
	}
	want := clk.Now().Add(30 * time.Minute)
	if !got.NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", got.NextRun, want)
	}

	clk.Advance(31 * time.Minute)
	s.RunDue(context.Background())
	if len(log.runs) != 1 {
		t.Errorf("runs = %v", log.runs)
	}
}

func TestScheduler_UpdateRecomputesOnScheduleChange(t *testing.T) {
	s, _, _ := newScheduler(t)

	added, err := s.Add(Task{
		Name:     "overdue check",
		Type:     TypeRecurring,
		Schedule: "0 * * * *",
		Action:   map[string]any{"type": "check_overdue_invoices"},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	updated, err := s.Update(added.ID, Task{Schedule: "0 0 * * *", IsActive: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	if !updated.NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", updated.NextRun, want)
	}

	if _, err := s.Update(added.ID, Task{Schedule: "garbage", IsActive: true}); err == nil {
		t.Error("expected invalid schedule update to be rejected")
	}
}

func TestScheduler_UpdateTypeFlipRecomputesNextRun(t *testing.T) {
	s, _, clk := newScheduler(t)

	added, err := s.Add(Task{
		Name:     "promote me",
		Type:     TypeOneTime,
		Schedule: "0 * * * *",
		Action:   map[string]any{"type": "backup_database"},
		IsActive: true,
		NextRun:  clk.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Flipping to recurring keeps the stored schedule but must recompute
	// NextRun from it, not carry over the stale one-time value.
	updated, err := s.Update(added.ID, Task{Type: TypeRecurring, IsActive: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC)
	if !updated.NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", updated.NextRun, want)
	}
	if !updated.NextRun.After(clk.Now()) {
		t.Error("next run must be strictly in the future after the flip")
	}
}

func TestScheduler_UpdateTypeFlipWithoutScheduleRejected(t *testing.T) {
	s, _, _ := newScheduler(t)

	added, err := s.Add(Task{
		Name:     "no schedule",
		Type:     TypeOneTime,
		Action:   map[string]any{"type": "backup_database"},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := s.Update(added.ID, Task{Type: TypeRecurring, IsActive: true}); err == nil {
		t.Error("expected flip to recurring without a schedule to be rejected")
	}
	got, _ := s.Get(added.ID)
	if got.Type != TypeOneTime {
		t.Errorf("rejected update mutated the task: type = %s", got.Type)
	}
}

func TestScheduler_ConcurrentUpdateDuringRunDue(t *testing.T) {
	s, log, clk := newScheduler(t)

	added, err := s.Add(Task{
		Name:     "overdue check",
		Type:     TypeRecurring,
		Schedule: "* * * * *",
		Action:   map[string]any{"type": "check_overdue_invoices"},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	clk.Advance(2 * time.Minute)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.RunDue(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := s.Update(added.ID, Task{
				Name:     "renamed check",
				Schedule: "*/5 * * * *",
				IsActive: true,
			}); err != nil {
				t.Errorf("update: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	got, err := s.Get(added.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "renamed check" || !got.IsActive {
		t.Errorf("task = %+v", got)
	}
	log.mu.Lock()
	ran := len(log.runs)
	log.mu.Unlock()
	if ran == 0 {
		t.Error("due task never ran")
	}
}

func TestScheduler_TaskDeletedWhileRunning(t *testing.T) {
	log := &actionLog{errBy: map[string]error{}}
	clk := testClock()

	var s *Scheduler
	s = New(map[string]NamedAction{
		"self_destruct": func(_ context.Context, config map[string]any) error {
			id, _ := config["task_id"].(string)
			return s.Delete(id)
		},
		"backup_database": log.record("backup_database"),
	}, Config{TickInterval: time.Minute}, clk, zap.NewNop())

	added, err := s.Add(Task{
		ID:       "doomed",
		Name:     "one last run",
		Type:     TypeOneTime,
		Action:   map[string]any{"type": "self_destruct", "config": map[string]any{"task_id": "doomed"}},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	clk.Advance(time.Second)
	s.RunDue(context.Background())

	if _, err := s.Get(added.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected task gone after deleting itself, got %v", err)
	}
}

func TestScheduler_ListOrdersByNextRun(t *testing.T) {
	s, _, clk := newScheduler(t)

	later, _ := s.Add(Task{Name: "later", Type: TypeOneTime, NextRun: clk.Now().Add(2 * time.Hour), IsActive: true})
	sooner, _ := s.Add(Task{Name: "sooner", Type: TypeOneTime, NextRun: clk.Now().Add(time.Hour), IsActive: true})

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("list = %d tasks", len(list))
	}
	if list[0].ID != sooner.ID || list[1].ID != later.ID {
		t.Error("tasks not ordered by next run")
	}
}

func TestScheduler_DeleteAndNotFound(t *testing.T) {
	s, _, _ := newScheduler(t)

	if err := s.Delete("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if _, err := s.Get("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}

	added, err := s.Add(Task{Name: "temp", Type: TypeOneTime, IsActive: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Delete(added.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(added.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Error("task still present after delete")
	}
}
