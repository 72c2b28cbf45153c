package store

import (
	"context"
	"testing"
	"time"

	"automation/internal/notify"
)

type fixedClock struct {
	now time.Time
}

func (f *fixedClock) Now() time.Time { return f.now }

func (f *fixedClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func testClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
}

func TestMemory_CreateAndUpdateRecord(t *testing.T) {
	m := NewMemory(testClock())
	ctx := context.Background()

	created, err := m.Create(ctx, "invoice", map[string]any{"amount": 100.0, "status": "OPEN"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected generated id")
	}
	if created["createdAt"] == nil {
		t.Error("expected createdAt to be set")
	}

	updated, err := m.Update(ctx, "invoice", id, map[string]any{"status": "OVERDUE"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["status"] != "OVERDUE" {
		t.Errorf("status = %v", updated["status"])
	}
	if updated["amount"] != 100.0 {
		t.Errorf("merge lost existing field: %v", updated["amount"])
	}
	if updated["updatedAt"] == nil {
		t.Error("expected updatedAt to be set")
	}
}

func TestMemory_CreateKeepsCallerID(t *testing.T) {
	m := NewMemory(testClock())

	created, err := m.Create(context.Background(), "invoice", map[string]any{"id": "inv-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created["id"] != "inv-1" {
		t.Errorf("id = %v", created["id"])
	}

	got, ok := m.GetRecord("invoice", "inv-1")
	if !ok || got["id"] != "inv-1" {
		t.Errorf("record = %v ok=%v", got, ok)
	}
}

func TestMemory_UpdateUnknownRecord(t *testing.T) {
	m := NewMemory(testClock())

	if _, err := m.Update(context.Background(), "invoice", "ghost", nil); err == nil {
		t.Error("expected error for unknown record")
	}
	if _, err := m.Create(context.Background(), "", nil); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestMemory_ReturnedRecordsAreCopies(t *testing.T) {
	m := NewMemory(testClock())

	created, _ := m.Create(context.Background(), "invoice", map[string]any{"status": "OPEN"})
	created["status"] = "tampered"

	id, _ := created["id"].(string)
	got, _ := m.GetRecord("invoice", id)
	if got["status"] != "OPEN" {
		t.Error("mutating a returned record leaked into the store")
	}
}

func TestMemory_NotificationLifecycle(t *testing.T) {
	clk := testClock()
	m := NewMemory(clk)
	ctx := context.Background()

	n := &notify.SmartNotification{ID: "n-1", Title: "t", CreatedAt: clk.Now()}
	if err := m.Save(ctx, n); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := m.Get(ctx, "n-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "t" || got.IsRead {
		t.Errorf("notification = %+v", got)
	}

	readAt := clk.Now().Add(time.Minute)
	if err := m.MarkRead(ctx, "n-1", readAt); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	got, _ = m.Get(ctx, "n-1")
	if !got.IsRead || got.ReadAt == nil || !got.ReadAt.Equal(readAt) {
		t.Errorf("read state = %+v", got)
	}

	if _, err := m.Get(ctx, "ghost"); err == nil {
		t.Error("expected error for unknown notification")
	}
	if err := m.MarkRead(ctx, "ghost", readAt); err == nil {
		t.Error("expected error for unknown notification")
	}
}

func TestMemory_ListSince(t *testing.T) {
	clk := testClock()
	m := NewMemory(clk)
	ctx := context.Background()

	old := &notify.SmartNotification{ID: "old", CreatedAt: clk.Now().Add(-2 * time.Hour)}
	recent := &notify.SmartNotification{ID: "recent", CreatedAt: clk.Now()}
	m.Save(ctx, old)
	m.Save(ctx, recent)

	got, err := m.ListSince(ctx, clk.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "recent" {
		t.Errorf("list = %+v", got)
	}
}

func TestMemory_Roles(t *testing.T) {
	m := NewMemory(testClock())

	m.SetRole("manager", "mgr-1", "mgr-2")
	users, err := m.UsersWithRole(context.Background(), "manager")
	if err != nil {
		t.Fatalf("users with role: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("users = %v", users)
	}

	none, _ := m.UsersWithRole(context.Background(), "cfo")
	if len(none) != 0 {
		t.Errorf("expected no users, got %v", none)
	}
}
