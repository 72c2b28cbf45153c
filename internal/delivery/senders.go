package delivery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"automation/internal/notify"
)

// Sender is the unified transport interface for all delivery channels.
// Implementations: email (SES), SMS (SNS), push (HTTP gateway), in-app.
type Sender interface {
	Send(ctx context.Context, d *Delivery, n *notify.SmartNotification) error
	SupportsChannel(channel string) bool
}

// MultiSender routes deliveries to the appropriate channel sender.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the delivery to the first sender supporting its channel.
func (m *MultiSender) Send(ctx context.Context, d *Delivery, n *notify.SmartNotification) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(d.Channel) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel", d.Channel),
				zap.String("delivery_id", d.ID),
			)
			return sender.Send(ctx, d, n)
		}
	}
	return fmt.Errorf("no sender found for channel: %s", d.Channel)
}

func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of sending them (development/testing).
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, d *Delivery, n *notify.SmartNotification) error {
	s.logger.Info("logging delivery (development mode)",
		zap.String("delivery_id", d.ID),
		zap.String("channel", d.Channel),
		zap.String("recipient_id", d.RecipientID),
		zap.String("title", n.Title),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	// LogSender accepts every channel in development/test mode.
	switch notify.Channel(channel) {
	case notify.ChannelEmail, notify.ChannelSMS, notify.ChannelPush, notify.ChannelInApp:
		return true
	}
	return false
}
