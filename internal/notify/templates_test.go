package notify

import (
	"errors"
	"testing"
)

func TestTemplateRegistry_AddAndGet(t *testing.T) {
	reg := NewTemplateRegistry()

	added, err := reg.Add(Template{Name: "delivery email", Channel: ChannelEmail, Subject: "s", Body: "b", IsActive: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.ID == "" {
		t.Error("expected generated ID")
	}

	got, err := reg.Get(added.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "delivery email" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestTemplateRegistry_AddValidation(t *testing.T) {
	reg := NewTemplateRegistry()

	if _, err := reg.Add(Template{Name: "no channel"}); err == nil {
		t.Error("expected missing channel to be rejected")
	}

	if _, err := reg.Add(Template{ID: "t1", Channel: ChannelEmail}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := reg.Add(Template{ID: "t1", Channel: ChannelSMS}); err == nil {
		t.Error("expected duplicate ID to be rejected")
	}
}

func TestTemplateRegistry_UpdateUsedForFutureSendsOnly(t *testing.T) {
	reg := NewTemplateRegistry()

	added, err := reg.Add(Template{Channel: ChannelEmail, Subject: "old", Body: "b", IsActive: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// A copy fetched before the update keeps the old content.
	before, err := reg.Get(added.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if _, err := reg.Update(added.ID, Template{Channel: ChannelEmail, Subject: "new", Body: "b", IsActive: true}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if before.Subject != "old" {
		t.Error("previously fetched template changed under the caller")
	}
	after, _ := reg.Get(added.ID)
	if after.Subject != "new" {
		t.Errorf("subject = %q", after.Subject)
	}
}

func TestTemplateRegistry_NotFound(t *testing.T) {
	reg := NewTemplateRegistry()

	if _, err := reg.Get("nope"); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
	if _, err := reg.Update("nope", Template{}); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}
