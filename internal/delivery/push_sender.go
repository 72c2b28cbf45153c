package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"automation/internal/notify"
)

// PushSender delivers push-channel notifications by POSTing to a push
// gateway over HTTP. The gateway fans out to device tokens; this sender
// only speaks the gateway's JSON contract.
type PushSender struct {
	client     *http.Client
	gatewayURL string
	logger     *zap.Logger
}

type PushConfig struct {
	GatewayURL string
	Timeout    time.Duration
}

type pushRequest struct {
	UserID string         `json:"user_id"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
}

func NewPushSender(cfg PushConfig, logger *zap.Logger) *PushSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &PushSender{
		client:     &http.Client{Timeout: timeout},
		gatewayURL: cfg.GatewayURL,
		logger:     logger,
	}
}

func (s *PushSender) Send(ctx context.Context, d *Delivery, n *notify.SmartNotification) error {
	if d.Channel != string(notify.ChannelPush) {
		return fmt.Errorf("push sender only supports push, got: %s", d.Channel)
	}
	if s.gatewayURL == "" {
		return fmt.Errorf("push gateway not configured")
	}

	body, err := json.Marshal(pushRequest{
		UserID: d.RecipientID,
		Title:  n.Title,
		Body:   n.Content,
		Data:   n.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", d.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	s.logger.Info("push delivered",
		zap.String("delivery_id", d.ID),
		zap.String("recipient_id", d.RecipientID),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

func (s *PushSender) SupportsChannel(channel string) bool {
	return channel == string(notify.ChannelPush)
}
