package delivery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"automation/internal/notify"
)

// InAppSender "delivers" in-app notifications by confirming the persisted
// notification exists in the store; the recipient's client reads it from
// there. There is no external transport to fail, so the only error case is
// a notification missing from the store.
type InAppSender struct {
	store  notify.Store
	logger *zap.Logger
}

func NewInAppSender(store notify.Store, logger *zap.Logger) *InAppSender {
	return &InAppSender{store: store, logger: logger}
}

func (s *InAppSender) Send(ctx context.Context, d *Delivery, n *notify.SmartNotification) error {
	if d.Channel != string(notify.ChannelInApp) {
		return fmt.Errorf("in-app sender only supports in_app, got: %s", d.Channel)
	}

	if _, err := s.store.Get(ctx, d.NotificationID); err != nil {
		return fmt.Errorf("in-app notification missing from store: %w", err)
	}

	s.logger.Info("in-app notification available",
		zap.String("delivery_id", d.ID),
		zap.String("notification_id", d.NotificationID),
		zap.String("recipient_id", d.RecipientID),
	)
	return nil
}

func (s *InAppSender) SupportsChannel(channel string) bool {
	return channel == string(notify.ChannelInApp)
}
