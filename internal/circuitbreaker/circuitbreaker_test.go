package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"automation/internal/delivery"
	"automation/internal/notify"
)

func testConfig() Config {
	return Config{
		Name:                "test",
		MaxFailures:         3,
		RecoveryTimeout:     50 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	}
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := New(testConfig(), zap.NewNop())

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("closed circuit should allow requests")
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	if cb.GetState() != StateOpen {
		t.Errorf("expected open state after 3 failures, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := New(testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	if cb.Allow() {
		t.Error("open circuit should reject requests")
	}

	stats := cb.Stats()
	if stats.TotalRejected != 1 {
		t.Errorf("expected 1 rejected request, got %d", stats.TotalRejected)
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := New(testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	time.Sleep(60 * time.Millisecond)

	if !cb.Allow() {
		t.Error("circuit should allow a probe after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("expected half-open state, got %s", cb.GetState())
	}

	// Only one probe allowed.
	if cb.Allow() {
		t.Error("half-open circuit should allow only one probe")
	}
}

func TestCircuitBreaker_ClosesOnSuccessfulProbe(t *testing.T) {
	cb := New(testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe to be allowed")
	}
	cb.RecordSuccess()

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state after successful probe, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ReopensOnFailedProbe(t *testing.T) {
	cb := New(testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected probe to be allowed")
	}
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Errorf("expected open state after failed probe, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig(), zap.NewNop())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state after reset, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("reset circuit should allow requests")
	}
}

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) Send(ctx context.Context, d *delivery.Delivery, n *notify.SmartNotification) error {
	s.calls++
	return s.err
}

func (s *stubSender) SupportsChannel(channel string) bool {
	return channel == string(notify.ChannelEmail)
}

func TestProtectedSender_PassesThroughWhenClosed(t *testing.T) {
	stub := &stubSender{}
	ps := NewProtectedSender(stub, testConfig(), zap.NewNop())

	d := &delivery.Delivery{ID: "d1", Channel: "email"}
	n := &notify.SmartNotification{ID: "n1"}

	if err := ps.Send(context.Background(), d, n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("expected 1 call, got %d", stub.calls)
	}
}

func TestProtectedSender_FailsFastWhenOpen(t *testing.T) {
	stub := &stubSender{err: errors.New("transport down")}
	ps := NewProtectedSender(stub, testConfig(), zap.NewNop())

	d := &delivery.Delivery{ID: "d1", Channel: "email"}
	n := &notify.SmartNotification{ID: "n1"}

	for i := 0; i < 3; i++ {
		if err := ps.Send(context.Background(), d, n); err == nil {
			t.Fatal("expected error from failing sender")
		}
	}

	err := ps.Send(context.Background(), d, n)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if stub.calls != 3 {
		t.Errorf("expected sender untouched while open, got %d calls", stub.calls)
	}
}

func TestProtectedSender_SupportsChannel(t *testing.T) {
	ps := NewProtectedSender(&stubSender{}, testConfig(), zap.NewNop())

	if !ps.SupportsChannel(string(notify.ChannelEmail)) {
		t.Error("expected email to be supported")
	}
	if ps.SupportsChannel(string(notify.ChannelSMS)) {
		t.Error("expected sms to be unsupported")
	}
}
