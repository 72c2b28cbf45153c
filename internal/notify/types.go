package notify

import (
	"time"
)

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Severity is the user-facing tone of a notification, derived from the
// matching rule's priority.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Priority orders notification rules and drives channel escalation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Template is a parameterized subject/body pair for one native channel.
// A template fetched for a send is used as-is; registry updates only affect
// future sends.
type Template struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Channel   Channel  `json:"channel"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Variables []string `json:"variables,omitempty"`
	IsActive  bool     `json:"is_active"`
}

// RecipientSpec declares who receives a notification: a payload-resolved
// user, every holder of a role, or a literal email address.
type RecipientSpec struct {
	Type  string `json:"type"` // user | role | email
	Value string `json:"value,omitempty"`
}

// Rule binds an event to a template, recipients, and a priority.
// These are matched by the dispatcher independently of the automation
// rule engine's own trigger matching.
type Rule struct {
	ID         string          `json:"id"`
	Event      string          `json:"event"`
	TemplateID string          `json:"template_id"`
	Recipients []RecipientSpec `json:"recipients"`
	Priority   Priority        `json:"priority"`
	Active     bool            `json:"active"`
}

// SmartNotification is one post-substitution notification for one recipient,
// fanned out to one delivery per channel. Immutable after creation except
// for read state.
type SmartNotification struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	Severity     Severity       `json:"severity"`
	Priority     Priority       `json:"priority"`
	Category     string         `json:"category"`
	RecipientID  string         `json:"recipient_id"`
	Channels     []Channel      `json:"channels"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	IsRead       bool           `json:"is_read"`
	ReadAt       *time.Time     `json:"read_at,omitempty"`
}

// Stats summarizes notifications created inside one lookback period.
type Stats struct {
	Total      int            `json:"total"`
	Unread     int            `json:"unread"`
	BySeverity map[string]int `json:"by_severity"`
	ByCategory map[string]int `json:"by_category"`
}

// severityFor maps rule priority to notification severity.
func severityFor(p Priority) Severity {
	switch p {
	case PriorityUrgent:
		return SeverityError
	case PriorityHigh:
		return SeverityWarning
	case PriorityLow:
		return SeveritySuccess
	default:
		return SeverityInfo
	}
}

// escalatedChannels widens the channel set for high-priority notifications
// and deduplicates the result, keeping the native channel first.
func escalatedChannels(native Channel, p Priority) []Channel {
	channels := []Channel{native}
	switch p {
	case PriorityUrgent:
		channels = append(channels, ChannelInApp, ChannelPush, ChannelSMS)
	case PriorityHigh:
		channels = append(channels, ChannelInApp)
	}

	seen := make(map[Channel]bool, len(channels))
	out := channels[:0]
	for _, ch := range channels {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}
