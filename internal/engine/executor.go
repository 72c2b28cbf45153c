package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RecordStore is the generic create/update capability the engine uses for
// business records. The engine never interprets record contents.
type RecordStore interface {
	Create(ctx context.Context, model string, data map[string]any) (map[string]any, error)
	Update(ctx context.Context, model, id string, data map[string]any) (map[string]any, error)
}

// Notifier hands a send_notification action to the notification dispatcher.
type Notifier interface {
	Send(ctx context.Context, event string, data map[string]any) ([]string, error)
	SendWithTemplate(ctx context.Context, event, templateID string, data map[string]any) ([]string, error)
}

// TaskScheduler registers tasks created by schedule_task actions.
type TaskScheduler interface {
	ScheduleTask(ctx context.Context, name, taskType, schedule string, action map[string]any, delayMinutes int) (string, error)
}

// NamedFunc is one entry in the fixed execute_function registry. There is no
// dynamic or reflective invocation; unknown names are recorded failures.
type NamedFunc func(ctx context.Context, params map[string]any) (any, error)

type actionHandler func(ctx context.Context, config map[string]any, payload map[string]any) (any, error)

// Executor dispatches one action against the collaborator interfaces.
// Every action's config is resolved through the template processor against
// the trigger payload before it runs.
type Executor struct {
	records   RecordStore
	notifier  Notifier
	tasks     TaskScheduler
	functions map[string]NamedFunc
	templates *TemplateProcessor
	logger    *zap.Logger

	handlers map[ActionType]actionHandler
}

func NewExecutor(records RecordStore, notifier Notifier, tasks TaskScheduler, functions map[string]NamedFunc, templates *TemplateProcessor, logger *zap.Logger) *Executor {
	e := &Executor{
		records:   records,
		notifier:  notifier,
		tasks:     tasks,
		functions: functions,
		templates: templates,
		logger:    logger,
	}
	e.handlers = map[ActionType]actionHandler{
		ActionCreateRecord:     e.createRecord,
		ActionUpdateRecord:     e.updateRecord,
		ActionSendNotification: e.sendNotification,
		ActionExecuteFunction:  e.executeFunction,
		ActionScheduleTask:     e.scheduleTask,
	}
	return e
}

// Execute runs one action. Failures come back as errors for the engine to
// record; nothing here panics past the engine boundary.
func (e *Executor) Execute(ctx context.Context, action Action, triggerEvent string, payload map[string]any) (any, error) {
	handler, ok := e.handlers[action.Type]
	if !ok {
		return nil, fmt.Errorf("unknown action type: %s", action.Type)
	}

	resolved, _ := e.templates.ResolveValue(action.Config, payload).(map[string]any)
	if resolved == nil {
		resolved = map[string]any{}
	}
	// A send_notification without an explicit event dispatches under the
	// triggering rule's event namespace.
	if action.Type == ActionSendNotification {
		if ev, _ := resolved["event"].(string); ev == "" {
			resolved["event"] = triggerEvent
		}
	}
	return handler(ctx, resolved, payload)
}

func (e *Executor) createRecord(ctx context.Context, config, _ map[string]any) (any, error) {
	model, _ := config["model"].(string)
	if model == "" {
		return nil, fmt.Errorf("create_record requires a model")
	}
	data, _ := config["data"].(map[string]any)

	record, err := e.records.Create(ctx, model, data)
	if err != nil {
		return nil, fmt.Errorf("create %s record: %w", model, err)
	}

	e.logger.Info("record created",
		zap.String("model", model),
	)
	return record, nil
}

func (e *Executor) updateRecord(ctx context.Context, config, _ map[string]any) (any, error) {
	model, _ := config["model"].(string)
	id, _ := config["id"].(string)
	if model == "" || id == "" {
		return nil, fmt.Errorf("update_record requires model and id")
	}
	data, _ := config["data"].(map[string]any)

	record, err := e.records.Update(ctx, model, id, data)
	if err != nil {
		return nil, fmt.Errorf("update %s record %s: %w", model, id, err)
	}

	e.logger.Info("record updated",
		zap.String("model", model),
		zap.String("record_id", id),
	)
	return record, nil
}

func (e *Executor) sendNotification(ctx context.Context, config, payload map[string]any) (any, error) {
	event, _ := config["event"].(string)
	if event == "" {
		return nil, fmt.Errorf("send_notification requires an event")
	}

	data, _ := config["data"].(map[string]any)
	if data == nil {
		data = payload
	} else {
		// Notification data rides on top of the trigger payload so
		// templates can reference either.
		merged := make(map[string]any, len(payload)+len(data))
		for k, v := range payload {
			merged[k] = v
		}
		for k, v := range data {
			merged[k] = v
		}
		data = merged
	}

	var (
		ids []string
		err error
	)
	if templateID, _ := config["template"].(string); templateID != "" {
		ids, err = e.notifier.SendWithTemplate(ctx, event, templateID, data)
	} else {
		ids, err = e.notifier.Send(ctx, event, data)
	}
	if err != nil {
		return nil, fmt.Errorf("send notification for %s: %w", event, err)
	}
	return map[string]any{"notification_ids": ids}, nil
}

func (e *Executor) executeFunction(ctx context.Context, config, _ map[string]any) (any, error) {
	name, _ := config["function"].(string)
	if name == "" {
		return nil, fmt.Errorf("execute_function requires a function name")
	}

	fn, ok := e.functions[name]
	if !ok {
		return nil, fmt.Errorf("unknown function: %s", name)
	}

	params, _ := config["params"].(map[string]any)
	result, err := fn(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	return result, nil
}

func (e *Executor) scheduleTask(ctx context.Context, config, _ map[string]any) (any, error) {
	name, _ := config["name"].(string)
	taskType, _ := config["type"].(string)
	schedule, _ := config["schedule"].(string)
	action, _ := config["action"].(map[string]any)

	delayMinutes := 0
	if n, ok := toNumber(config["delay_minutes"]); ok {
		delayMinutes = int(n)
	}

	if name == "" {
		return nil, fmt.Errorf("schedule_task requires a name")
	}

	id, err := e.tasks.ScheduleTask(ctx, name, taskType, schedule, action, delayMinutes)
	if err != nil {
		return nil, fmt.Errorf("schedule task %s: %w", name, err)
	}

	e.logger.Info("task scheduled from rule action",
		zap.String("task_id", id),
		zap.String("name", name),
	)
	return map[string]any{"task_id": id}, nil
}
