package delivery

import (
	"time"
)

// Delivery status constants. pending → sent|failed inside the processor;
// sent may be advanced to delivered/read by external collaborators.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusRead      = "read"
)

// Recipient type constants.
const (
	RecipientUser  = "user"
	RecipientEmail = "email"
)

// Delivery is one channel-specific attempt to convey a notification to one
// recipient. Mutated only by the queue processor once enqueued.
type Delivery struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	RecipientID    string     `json:"recipient_id"`
	RecipientType  string     `json:"recipient_type"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastAttempt    *time.Time `json:"last_attempt,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
}

func (d *Delivery) terminal() bool {
	return d.Status == StatusSent || d.Status == StatusDelivered ||
		d.Status == StatusFailed || d.Status == StatusRead
}
