package delivery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"automation/internal/notify"
)

// SNSSender delivers sms-channel notifications via AWS SNS. The recipient's
// phone number rides in the notification data ("phone" by convention).
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (s *SNSSender) Send(ctx context.Context, d *Delivery, n *notify.SmartNotification) error {
	if d.Channel != string(notify.ChannelSMS) {
		return fmt.Errorf("SNS sender only supports SMS, got: %s", d.Channel)
	}

	phone, _ := n.Data["phone"].(string)
	if phone == "" {
		return fmt.Errorf("delivery %s has no phone number in notification data", d.ID)
	}

	message := n.Title
	if n.Content != "" {
		message = fmt.Sprintf("%s: %s", n.Title, n.Content)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(message),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("delivery_id", d.ID),
		zap.String("phone", phone),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == string(notify.ChannelSMS)
}
