package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"automation/internal/engine"
	"automation/internal/notify"
	"automation/internal/scheduler"
)

// namedFunctions is the fixed execute_function registry. Rules can only
// invoke what is listed here.
func namedFunctions(logger *zap.Logger) map[string]engine.NamedFunc {
	return map[string]engine.NamedFunc{
		"recalculate_invoice_totals": func(ctx context.Context, params map[string]any) (any, error) {
			invoiceID, _ := params["invoiceId"].(string)
			logger.Info("recalculating invoice totals", zap.String("invoice_id", invoiceID))
			return map[string]any{"invoiceId": invoiceID, "recalculated": true}, nil
		},
		"refresh_dashboard_cache": func(ctx context.Context, params map[string]any) (any, error) {
			logger.Info("refreshing dashboard cache")
			return map[string]any{"refreshed": true}, nil
		},
		"sync_shipment_tracking": func(ctx context.Context, params map[string]any) (any, error) {
			shipmentID, _ := params["shipmentId"].(string)
			logger.Info("syncing shipment tracking", zap.String("shipment_id", shipmentID))
			return map[string]any{"shipmentId": shipmentID, "synced": true}, nil
		},
	}
}

// namedActions is the fixed scheduled-action registry. Maintenance actions
// only log; business sweeps feed events back into the rule engine so the
// rules decide what happens.
func namedActions(trigger func(ctx context.Context, event string, payload map[string]any), logger *zap.Logger) map[string]scheduler.NamedAction {
	return map[string]scheduler.NamedAction{
		"check_overdue_invoices": func(ctx context.Context, config map[string]any) error {
			trigger(ctx, "invoice.overdue_check", config)
			return nil
		},
		"generate_performance_report": func(ctx context.Context, config map[string]any) error {
			logger.Info("generating performance report")
			return nil
		},
		"backup_database": func(ctx context.Context, config map[string]any) error {
			logger.Info("running database backup")
			return nil
		},
		"cleanup_logs": func(ctx context.Context, config map[string]any) error {
			days, _ := config["retention_days"].(float64)
			logger.Info("cleaning up logs", zap.Int("retention_days", int(days)))
			return nil
		},
	}
}

// seedDefaults installs the out-of-the-box templates, notification rules,
// automation rules, and scheduled tasks. Everything here can be changed at
// runtime through the API.
func seedDefaults(registry *engine.RuleRegistry, templates *notify.TemplateRegistry, dispatcher *notify.Dispatcher, sched *scheduler.Scheduler, logger *zap.Logger) error {
	deliveryTpl, err := templates.Add(notify.Template{
		Name:     "Delivery confirmation email",
		Channel:  notify.ChannelEmail,
		Subject:  "Shipment {{trackingNumber}} delivered",
		Body:     "Hi {{recipientName}}, your shipment {{trackingNumber}} was delivered on {{now}}.",
		IsActive: true,
	})
	if err != nil {
		return fmt.Errorf("seed delivery template: %w", err)
	}

	overdueTpl, err := templates.Add(notify.Template{
		Name:     "Invoice overdue notice",
		Channel:  notify.ChannelEmail,
		Subject:  "Invoice {{invoiceNumber}} is overdue",
		Body:     "Invoice {{invoiceNumber}} is {{daysPastDue}} days past due. Please arrange payment.",
		IsActive: true,
	})
	if err != nil {
		return fmt.Errorf("seed overdue template: %w", err)
	}

	overdueMgrTpl, err := templates.Add(notify.Template{
		Name:     "Overdue invoice manager alert",
		Channel:  notify.ChannelInApp,
		Subject:  "Overdue invoice {{invoiceNumber}}",
		Body:     "Invoice {{invoiceNumber}} for client {{clientName}} is {{daysPastDue}} days past due.",
		IsActive: true,
	})
	if err != nil {
		return fmt.Errorf("seed manager template: %w", err)
	}

	receiptTpl, err := templates.Add(notify.Template{
		Name:     "Payment receipt email",
		Channel:  notify.ChannelEmail,
		Subject:  "Payment received for invoice {{invoiceNumber}}",
		Body:     "We received your payment of {{amount}} for invoice {{invoiceNumber}}. Thank you.",
		IsActive: true,
	})
	if err != nil {
		return fmt.Errorf("seed receipt template: %w", err)
	}

	notifyRules := []notify.Rule{
		{
			Event:      "shipment.delivered",
			TemplateID: deliveryTpl.ID,
			Recipients: []notify.RecipientSpec{{Type: "user"}},
			Priority:   notify.PriorityMedium,
			Active:     true,
		},
		{
			Event:      "invoice.overdue",
			TemplateID: overdueTpl.ID,
			Recipients: []notify.RecipientSpec{{Type: "user"}},
			Priority:   notify.PriorityUrgent,
			Active:     true,
		},
		{
			Event:      "invoice.overdue",
			TemplateID: overdueMgrTpl.ID,
			Recipients: []notify.RecipientSpec{{Type: "role", Value: "manager"}},
			Priority:   notify.PriorityHigh,
			Active:     true,
		},
		{
			Event:      "payment.confirmed",
			TemplateID: receiptTpl.ID,
			Recipients: []notify.RecipientSpec{{Type: "user"}},
			Priority:   notify.PriorityLow,
			Active:     true,
		},
	}
	for _, rule := range notifyRules {
		if _, err := dispatcher.AddRule(rule); err != nil {
			return fmt.Errorf("seed notification rule for %s: %w", rule.Event, err)
		}
	}

	engineRules := []engine.Rule{
		{
			Name:         "Delivery confirmation",
			Description:  "Confirm delivery to the client and sync carrier tracking",
			TriggerEvent: "shipment.status_changed",
			Conditions: []engine.Condition{
				{Field: "status", Operator: engine.OperatorEquals, Value: "DELIVERED"},
			},
			Actions: []engine.Action{
				{Type: engine.ActionSendNotification, Config: map[string]any{"event": "shipment.delivered"}},
				{Type: engine.ActionExecuteFunction, Config: map[string]any{
					"function": "sync_shipment_tracking",
					"params":   map[string]any{"shipmentId": "{{shipmentId}}"},
				}},
			},
			Priority: 10,
			IsActive: true,
		},
		{
			Name:         "Invoice overdue escalation",
			Description:  "Flag the invoice, notify the client and managers, then recompute totals",
			TriggerEvent: "invoice.overdue_check",
			Conditions: []engine.Condition{
				{Field: "daysPastDue", Operator: engine.OperatorGreaterThan, Value: 7},
			},
			Actions: []engine.Action{
				{Type: engine.ActionUpdateRecord, Config: map[string]any{
					"model": "invoice",
					"id":    "{{invoiceId}}",
					"data":  map[string]any{"status": "OVERDUE"},
				}},
				{Type: engine.ActionSendNotification, Config: map[string]any{"event": "invoice.overdue"}},
				{Type: engine.ActionExecuteFunction, Config: map[string]any{
					"function": "recalculate_invoice_totals",
					"params":   map[string]any{"invoiceId": "{{invoiceId}}"},
				}, DelaySeconds: 300},
			},
			Priority: 20,
			IsActive: true,
		},
		{
			Name:         "Payment received",
			Description:  "Mark the invoice paid, send a receipt, refresh dashboards",
			TriggerEvent: "payment.received",
			Actions: []engine.Action{
				{Type: engine.ActionUpdateRecord, Config: map[string]any{
					"model": "invoice",
					"id":    "{{invoiceId}}",
					"data":  map[string]any{"status": "PAID"},
				}},
				{Type: engine.ActionSendNotification, Config: map[string]any{"event": "payment.confirmed"}},
				{Type: engine.ActionExecuteFunction, Config: map[string]any{
					"function": "refresh_dashboard_cache",
				}, DelaySeconds: 60},
			},
			Priority: 30,
			IsActive: true,
		},
	}
	for _, rule := range engineRules {
		if _, err := registry.Add(rule); err != nil {
			return fmt.Errorf("seed rule %q: %w", rule.Name, err)
		}
	}

	tasks := []scheduler.Task{
		{
			Name:     "check overdue invoices",
			Type:     scheduler.TypeRecurring,
			Schedule: "0 * * * *",
			Action:   map[string]any{"type": "check_overdue_invoices"},
			IsActive: true,
		},
		{
			Name:     "weekly performance report",
			Type:     scheduler.TypeRecurring,
			Schedule: "0 7 * * 1",
			Action:   map[string]any{"type": "generate_performance_report"},
			IsActive: true,
		},
		{
			Name:     "nightly database backup",
			Type:     scheduler.TypeRecurring,
			Schedule: "0 2 * * *",
			Action:   map[string]any{"type": "backup_database"},
			IsActive: true,
		},
		{
			Name:     "log cleanup",
			Type:     scheduler.TypeRecurring,
			Schedule: "30 3 * * *",
			Action: map[string]any{
				"type":   "cleanup_logs",
				"config": map[string]any{"retention_days": float64(30)},
			},
			IsActive: true,
		},
	}
	for _, task := range tasks {
		if _, err := sched.Add(task); err != nil {
			return fmt.Errorf("seed task %q: %w", task.Name, err)
		}
	}

	logger.Info("seeded default automation content",
		zap.Int("templates", 4),
		zap.Int("notification_rules", len(notifyRules)),
		zap.Int("rules", len(engineRules)),
		zap.Int("tasks", len(tasks)),
	)
	return nil
}
