package delivery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"automation/internal/notify"
)

// SESSender delivers email-channel notifications via AWS SES. It only
// accepts deliveries whose recipient resolves to a literal email address
// or an address supplied in the notification data.
type SESSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

func (s *SESSender) Send(ctx context.Context, d *Delivery, n *notify.SmartNotification) error {
	if d.Channel != string(notify.ChannelEmail) {
		return fmt.Errorf("SES sender only supports email, got: %s", d.Channel)
	}

	to := resolveEmailAddress(d, n)
	if to == "" {
		return fmt.Errorf("delivery %s has no resolvable email address", d.ID)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(n.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(n.Content),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("delivery_id", d.ID),
		zap.String("to", to),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

func (s *SESSender) SupportsChannel(channel string) bool {
	return channel == string(notify.ChannelEmail)
}

// resolveEmailAddress prefers a literal email recipient, then an email
// carried in the notification data under the conventional key.
func resolveEmailAddress(d *Delivery, n *notify.SmartNotification) string {
	if d.RecipientType == RecipientEmail {
		return d.RecipientID
	}
	if email, ok := n.Data["email"].(string); ok {
		return email
	}
	return ""
}
