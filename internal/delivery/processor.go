package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation/internal/clock"
	"automation/internal/metrics"
	"automation/internal/notify"
)

const exhaustedMessage = "max delivery attempts exceeded"

// Config controls the delivery poll loop and retry policy.
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
	Retention    time.Duration
}

// Processor owns the in-memory delivery queue. On each tick it attempts
// pending deliveries in enqueue order, retries up to MaxAttempts, and evicts
// terminal entries older than the retention window. The queue is process
// local and non-durable; persisted notification history lives in the store.
type Processor struct {
	store  notify.Store
	sender Sender
	config Config
	clock  clock.Clock
	logger *zap.Logger

	mu    sync.Mutex
	queue []*Delivery
}

func NewProcessor(store notify.Store, sender Sender, cfg Config, clk clock.Clock, logger *zap.Logger) *Processor {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Retention == 0 {
		cfg.Retention = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.Real{}
	}

	return &Processor{
		store:  store,
		sender: sender,
		config: cfg,
		clock:  clk,
		logger: logger,
	}
}

// Enqueue adds one pending delivery for a (notification, channel) pair.
// Implements notify.Enqueuer.
func (p *Processor) Enqueue(notificationID, recipientID, recipientType, channel string) error {
	if notificationID == "" || channel == "" {
		return fmt.Errorf("delivery requires a notification id and channel")
	}

	d := &Delivery{
		ID:             uuid.New().String(),
		NotificationID: notificationID,
		RecipientID:    recipientID,
		RecipientType:  recipientType,
		Channel:        channel,
		Status:         StatusPending,
		EnqueuedAt:     p.clock.Now(),
	}

	p.mu.Lock()
	p.queue = append(p.queue, d)
	depth := len(p.queue)
	p.mu.Unlock()

	metrics.SetDeliveryQueueDepth(depth)

	p.logger.Debug("delivery enqueued",
		zap.String("delivery_id", d.ID),
		zap.String("notification_id", notificationID),
		zap.String("channel", channel),
	)
	return nil
}

// Start polls the queue until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("delivery processor stopping")
			return
		case <-ticker.C:
			p.ProcessQueue(ctx)
		}
	}
}

// ProcessQueue runs one tick: attempt pending deliveries in enqueue order,
// then evict old terminal entries. Exposed for tests driving a fake clock.
func (p *Processor) ProcessQueue(ctx context.Context) {
	p.mu.Lock()
	pending := make([]*Delivery, 0, len(p.queue))
	for _, d := range p.queue {
		if d.Status == StatusPending {
			pending = append(pending, d)
		}
	}
	p.mu.Unlock()

	for _, d := range pending {
		p.attempt(ctx, d)
	}

	p.evict()
}

func (p *Processor) attempt(ctx context.Context, d *Delivery) {
	now := p.clock.Now()

	p.mu.Lock()
	if d.Attempts >= p.config.MaxAttempts {
		// Stale entry that exhausted its budget without being marked.
		msg := exhaustedMessage
		d.Status = StatusFailed
		d.ErrorMessage = &msg
		p.mu.Unlock()
		metrics.RecordDelivery(d.Channel, StatusFailed)
		return
	}
	p.mu.Unlock()

	notification, err := p.store.Get(ctx, d.NotificationID)
	if err == nil {
		metrics.RecordDeliveryAttempt(d.Channel)
		err = p.sender.Send(ctx, d, notification)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		d.Attempts++
		d.LastAttempt = &now
		msg := err.Error()
		d.ErrorMessage = &msg

		p.logger.Warn("delivery attempt failed",
			zap.Error(err),
			zap.String("delivery_id", d.ID),
			zap.String("channel", d.Channel),
			zap.Int("attempt", d.Attempts),
		)

		if d.Attempts >= p.config.MaxAttempts {
			d.Status = StatusFailed
			metrics.RecordDelivery(d.Channel, StatusFailed)
			p.logger.Error("delivery failed permanently",
				zap.String("delivery_id", d.ID),
				zap.String("notification_id", d.NotificationID),
				zap.String("channel", d.Channel),
				zap.Int("attempts", d.Attempts),
			)
		}
		return
	}

	d.Attempts++
	d.LastAttempt = &now
	d.Status = StatusSent
	d.DeliveredAt = &now
	d.ErrorMessage = nil
	metrics.RecordDelivery(d.Channel, StatusSent)

	p.logger.Info("delivery sent",
		zap.String("delivery_id", d.ID),
		zap.String("notification_id", d.NotificationID),
		zap.String("channel", d.Channel),
	)
}

// evict drops terminal deliveries older than the retention window from the
// in-memory queue. Persisted history is unaffected.
func (p *Processor) evict() {
	cutoff := p.clock.Now().Add(-p.config.Retention)

	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.queue[:0]
	for _, d := range p.queue {
		if d.terminal() && terminalTime(d).Before(cutoff) {
			continue
		}
		kept = append(kept, d)
	}
	p.queue = kept
	metrics.SetDeliveryQueueDepth(len(p.queue))
}

func terminalTime(d *Delivery) time.Time {
	if d.DeliveredAt != nil {
		return *d.DeliveredAt
	}
	if d.LastAttempt != nil {
		return *d.LastAttempt
	}
	return d.EnqueuedAt
}

// Deliveries returns a snapshot of the queue in enqueue order.
func (p *Processor) Deliveries() []*Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Delivery, 0, len(p.queue))
	for _, d := range p.queue {
		copied := *d
		out = append(out, &copied)
	}
	return out
}

// MarkDelivered advances a sent delivery after external confirmation.
func (p *Processor) MarkDelivered(id string) error {
	return p.advance(id, StatusSent, StatusDelivered)
}

// MarkRead advances a delivered (or sent) delivery once the recipient
// opened it, and marks the underlying notification read in the store.
func (p *Processor) MarkRead(ctx context.Context, id string) error {
	p.mu.Lock()
	var notificationID string
	found := false
	for _, d := range p.queue {
		if d.ID != id {
			continue
		}
		if d.Status != StatusDelivered && d.Status != StatusSent {
			status := d.Status
			p.mu.Unlock()
			return fmt.Errorf("delivery %s is %s, not %s", id, status, StatusDelivered)
		}
		d.Status = StatusRead
		notificationID = d.NotificationID
		found = true
		break
	}
	p.mu.Unlock()

	if !found {
		return fmt.Errorf("delivery %s not found", id)
	}

	// The delivery transition stands even if the history write fails.
	if err := p.store.MarkRead(ctx, notificationID, p.clock.Now()); err != nil {
		p.logger.Warn("mark notification read failed",
			zap.String("delivery_id", id),
			zap.String("notification_id", notificationID),
			zap.Error(err),
		)
	}
	return nil
}

func (p *Processor) advance(id, from, to string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, d := range p.queue {
		if d.ID == id {
			if d.Status != from {
				return fmt.Errorf("delivery %s is %s, not %s", id, d.Status, from)
			}
			d.Status = to
			return nil
		}
	}
	return fmt.Errorf("delivery %s not found", id)
}
