package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation/internal/clock"
	"automation/internal/engine"
	"automation/internal/metrics"
)

// Store persists smart notifications. The dispatcher writes once per
// notification; read-state and history queries go through the same store.
type Store interface {
	Save(ctx context.Context, n *SmartNotification) error
	Get(ctx context.Context, id string) (*SmartNotification, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
	ListSince(ctx context.Context, since time.Time) ([]*SmartNotification, error)
}

// RoleResolver expands a role recipient into concrete user IDs.
type RoleResolver interface {
	UsersWithRole(ctx context.Context, role string) ([]string, error)
}

// Enqueuer accepts one delivery per (notification, channel) pair.
type Enqueuer interface {
	Enqueue(notificationID, recipientID, recipientType string, channel string) error
}

// Dispatcher turns an event plus data into persisted smart notifications and
// queued deliveries: it matches notification rules by event, resolves
// recipients, renders the template, and fans out one delivery per channel.
type Dispatcher struct {
	mu    sync.RWMutex
	rules map[string]*Rule

	templates *TemplateRegistry
	processor *engine.TemplateProcessor
	store     Store
	roles     RoleResolver
	queue     Enqueuer
	clock     clock.Clock
	logger    *zap.Logger
}

func NewDispatcher(templates *TemplateRegistry, processor *engine.TemplateProcessor, store Store, roles RoleResolver, queue Enqueuer, clk clock.Clock, logger *zap.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Dispatcher{
		rules:     make(map[string]*Rule),
		templates: templates,
		processor: processor,
		store:     store,
		roles:     roles,
		queue:     queue,
		clock:     clk,
		logger:    logger,
	}
}

// AddRule registers a notification rule.
func (d *Dispatcher) AddRule(rule Rule) (*Rule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Event == "" {
		return nil, fmt.Errorf("notification rule requires an event")
	}
	if _, exists := d.rules[rule.ID]; exists {
		return nil, fmt.Errorf("notification rule %s already exists", rule.ID)
	}

	stored := rule
	d.rules[rule.ID] = &stored
	copied := stored
	return &copied, nil
}

// RulesForEvent lists active notification rules matching an event.
func (d *Dispatcher) RulesForEvent(event string) []*Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Rule, 0)
	for _, rule := range d.rules {
		if rule.Active && rule.Event == event {
			copied := *rule
			out = append(out, &copied)
		}
	}
	return out
}

// Send builds and persists notifications for every rule matching the event.
// Returns the IDs of the notifications it created. A missing template skips
// that rule only; recipient resolution failures skip that recipient only.
func (d *Dispatcher) Send(ctx context.Context, event string, data map[string]any) ([]string, error) {
	return d.send(ctx, event, data, nil)
}

// SendTo bypasses each rule's recipient specs and sends to one explicit
// recipient instead. Rule matching, templates, and escalation still apply.
func (d *Dispatcher) SendTo(ctx context.Context, event string, data map[string]any, recipient RecipientSpec) ([]string, error) {
	return d.send(ctx, event, data, &recipient)
}

// SendWithTemplate bypasses rule matching and sends using one specific
// template. The recipient resolves from the payload's convention keys and
// the notification gets medium priority.
func (d *Dispatcher) SendWithTemplate(ctx context.Context, event, templateID string, data map[string]any) ([]string, error) {
	tpl, err := d.templates.Get(templateID)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	if !tpl.IsActive {
		return nil, fmt.Errorf("template %s is inactive", templateID)
	}

	rule := &Rule{TemplateID: templateID, Priority: PriorityMedium}
	recipients, recipientType := d.resolveRecipients(ctx, RecipientSpec{Type: "user"}, data)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipient resolved from payload for template %s", templateID)
	}

	notificationIDs := make([]string, 0, len(recipients))
	for _, recipientID := range recipients {
		n := d.buildNotification(event, rule, tpl, recipientID, data)
		if err := d.store.Save(ctx, n); err != nil {
			d.logger.Error("failed to persist notification",
				zap.Error(err),
				zap.String("notification_id", n.ID),
			)
			continue
		}

		for _, channel := range n.Channels {
			if err := d.queue.Enqueue(n.ID, recipientID, recipientType, string(channel)); err != nil {
				d.logger.Error("failed to enqueue delivery",
					zap.Error(err),
					zap.String("notification_id", n.ID),
					zap.String("channel", string(channel)),
				)
			}
		}

		metrics.RecordNotificationCreated(event, string(n.Severity))
		notificationIDs = append(notificationIDs, n.ID)
	}
	return notificationIDs, nil
}

func (d *Dispatcher) send(ctx context.Context, event string, data map[string]any, override *RecipientSpec) ([]string, error) {
	rules := d.RulesForEvent(event)
	if len(rules) == 0 {
		d.logger.Debug("no notification rules for event",
			zap.String("event", event),
		)
		return nil, nil
	}

	notificationIDs := make([]string, 0)
	for _, rule := range rules {
		tpl, err := d.templates.Get(rule.TemplateID)
		if err != nil {
			d.logger.Warn("notification rule references missing template",
				zap.String("rule_id", rule.ID),
				zap.String("template_id", rule.TemplateID),
			)
			continue
		}
		if !tpl.IsActive {
			continue
		}

		specs := rule.Recipients
		if override != nil {
			specs = []RecipientSpec{*override}
		}

		for _, spec := range specs {
			recipients, recipientType := d.resolveRecipients(ctx, spec, data)
			for _, recipientID := range recipients {
				n := d.buildNotification(event, rule, tpl, recipientID, data)
				if err := d.store.Save(ctx, n); err != nil {
					d.logger.Error("failed to persist notification",
						zap.Error(err),
						zap.String("notification_id", n.ID),
					)
					continue
				}

				for _, channel := range n.Channels {
					if err := d.queue.Enqueue(n.ID, recipientID, recipientType, string(channel)); err != nil {
						d.logger.Error("failed to enqueue delivery",
							zap.Error(err),
							zap.String("notification_id", n.ID),
							zap.String("channel", string(channel)),
						)
					}
				}

				metrics.RecordNotificationCreated(event, string(n.Severity))
				notificationIDs = append(notificationIDs, n.ID)
			}
		}
	}

	d.logger.Info("notifications dispatched",
		zap.String("event", event),
		zap.Int("count", len(notificationIDs)),
	)
	return notificationIDs, nil
}

// resolveRecipients expands one recipient spec into user IDs or addresses.
// The second return is the recipient type recorded on the delivery.
func (d *Dispatcher) resolveRecipients(ctx context.Context, spec RecipientSpec, data map[string]any) ([]string, string) {
	switch spec.Type {
	case "user":
		// Convention keys: clientId for customer-facing events,
		// employeeId for internal ones.
		for _, key := range []string{"clientId", "employeeId"} {
			if v, ok := engine.LookupField(data, key); ok {
				if id, ok := v.(string); ok && id != "" {
					return []string{id}, "user"
				}
			}
		}
		return nil, "user"
	case "role":
		users, err := d.roles.UsersWithRole(ctx, spec.Value)
		if err != nil {
			d.logger.Warn("role resolution failed",
				zap.Error(err),
				zap.String("role", spec.Value),
			)
			return nil, "user"
		}
		return users, "user"
	case "email":
		return []string{spec.Value}, "email"
	default:
		d.logger.Warn("unknown recipient type",
			zap.String("type", spec.Type),
		)
		return nil, "user"
	}
}

func (d *Dispatcher) buildNotification(event string, rule *Rule, tpl *Template, recipientID string, data map[string]any) *SmartNotification {
	return &SmartNotification{
		ID:          uuid.New().String(),
		Title:       d.processor.Resolve(tpl.Subject, data),
		Content:     d.processor.Resolve(tpl.Body, data),
		Severity:    severityFor(rule.Priority),
		Priority:    rule.Priority,
		Category:    eventCategory(event),
		RecipientID: recipientID,
		Channels:    escalatedChannels(tpl.Channel, rule.Priority),
		Data:        data,
		CreatedAt:   d.clock.Now(),
	}
}

// Stats aggregates notifications created inside the lookback period.
func (d *Dispatcher) Stats(ctx context.Context, period time.Duration) (*Stats, error) {
	since := d.clock.Now().Add(-period)
	notifications, err := d.store.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	stats := &Stats{
		BySeverity: make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for _, n := range notifications {
		stats.Total++
		if !n.IsRead {
			stats.Unread++
		}
		stats.BySeverity[string(n.Severity)]++
		stats.ByCategory[n.Category]++
	}
	return stats, nil
}

// eventCategory takes the namespace prefix of an event name:
// "invoice.overdue_check" → "invoice".
func eventCategory(event string) string {
	if i := strings.Index(event, "."); i > 0 {
		return event[:i]
	}
	return event
}
