package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"automation/internal/delivery"
	"automation/internal/notify"
)

// ProtectedSender wraps a delivery.Sender with circuit breaker protection.
// When the underlying transport is failing, sends fail fast with
// ErrCircuitOpen and the delivery stays in the retry queue.
type ProtectedSender struct {
	sender  delivery.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with a circuit breaker.
func NewProtectedSender(sender delivery.Sender, cfg Config, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: New(cfg, logger),
		logger:  logger,
	}
}

// Send attempts delivery through the circuit breaker.
func (p *ProtectedSender) Send(ctx context.Context, d *delivery.Delivery, n *notify.SmartNotification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("send rejected by circuit breaker",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("delivery_id", d.ID),
			zap.String("channel", d.Channel),
		)
		return fmt.Errorf("%w: %s", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.sender.Send(ctx, d, n)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker exposes the underlying circuit breaker for stats endpoints.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
