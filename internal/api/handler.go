package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"automation/internal/delivery"
	"automation/internal/engine"
	"automation/internal/notify"
	"automation/internal/redis"
	"automation/internal/scheduler"
)

// EventRequest represents the payload of an ingested business event.
type EventRequest map[string]any

// EventResponse is returned after an event has been evaluated.
type EventResponse struct {
	Event        string   `json:"event"`
	ExecutionIDs []string `json:"execution_ids"`
}

// NotificationRequest asks the dispatcher to send for an event directly,
// without going through the rule engine.
type NotificationRequest struct {
	Event     string                `json:"event"`
	Data      map[string]any        `json:"data"`
	Recipient *notify.RecipientSpec `json:"recipient,omitempty"`
}

// NotificationResponse is returned after creating notifications.
type NotificationResponse struct {
	NotificationIDs []string `json:"notification_ids"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger      *zap.Logger
	engine      *engine.Engine
	dispatcher  *notify.Dispatcher
	templates   *notify.TemplateRegistry
	scheduler   *scheduler.Scheduler
	processor   *delivery.Processor
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler.
func NewHandler(logger *zap.Logger, eng *engine.Engine, dispatcher *notify.Dispatcher, templates *notify.TemplateRegistry, sched *scheduler.Scheduler, processor *delivery.Processor) *Handler {
	return &Handler{
		logger:     logger,
		engine:     eng,
		dispatcher: dispatcher,
		templates:  templates,
		scheduler:  sched,
		processor:  processor,
	}
}

// NewHandlerWithIdempotency creates a handler with event deduplication support.
func NewHandlerWithIdempotency(logger *zap.Logger, eng *engine.Engine, dispatcher *notify.Dispatcher, templates *notify.TemplateRegistry, sched *scheduler.Scheduler, processor *delivery.Processor, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, eng, dispatcher, templates, sched, processor)
	h.idempotency = idempotency
	return h
}

// Routes mounts every v1 endpoint.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/events/{event}", h.TriggerEvent)

	r.Post("/notifications", h.CreateNotification)
	r.Get("/notifications/stats", h.NotificationStats)

	r.Post("/rules", h.CreateRule)
	r.Get("/rules", h.ListRules)
	r.Get("/rules/{id}", h.GetRule)
	r.Put("/rules/{id}", h.UpdateRule)
	r.Delete("/rules/{id}", h.DeleteRule)

	r.Post("/notification-rules", h.CreateNotificationRule)
	r.Get("/notification-rules", h.ListNotificationRules)

	r.Post("/templates", h.CreateTemplate)
	r.Get("/templates", h.ListTemplates)
	r.Get("/templates/{id}", h.GetTemplate)
	r.Put("/templates/{id}", h.UpdateTemplate)

	r.Post("/tasks", h.CreateTask)
	r.Get("/tasks", h.ListTasks)
	r.Get("/tasks/{id}", h.GetTask)
	r.Put("/tasks/{id}", h.UpdateTask)
	r.Delete("/tasks/{id}", h.DeleteTask)

	r.Get("/executions", h.ListExecutions)
	r.Get("/executions/{id}", h.GetExecution)
	r.Get("/stats", h.EngineStats)

	r.Get("/deliveries", h.ListDeliveries)
	r.Post("/deliveries/{id}/delivered", h.MarkDeliveryDelivered)
	r.Post("/deliveries/{id}/read", h.MarkDeliveryRead)

	return r
}

// TriggerEvent handles POST /v1/events/{event}.
// Supports deduplication via the Idempotency-Key header.
func (h *Handler) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	event := chi.URLParam(r, "event")
	idempotencyKey := r.Header.Get("Idempotency-Key")

	var payload EventRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, event, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(EventResponse{Event: event, ExecutionIDs: cached.ExecutionIDs})
			return
		}
	}

	executionIDs := h.engine.Trigger(ctx, event, payload)

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			ExecutionIDs: executionIDs,
			StatusCode:   http.StatusAccepted,
		}
		if err := h.idempotency.Store(ctx, event, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.logger.Info("event ingested",
		zap.String("event", event),
		zap.Int("executions", len(executionIDs)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(EventResponse{Event: event, ExecutionIDs: executionIDs})
}

// CreateNotification handles POST /v1/notifications.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Event == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "event is required")
		return
	}

	var (
		ids []string
		err error
	)
	if req.Recipient != nil {
		ids, err = h.dispatcher.SendTo(ctx, req.Event, req.Data, *req.Recipient)
	} else {
		ids, err = h.dispatcher.Send(ctx, req.Event, req.Data)
	}
	if err != nil {
		h.logger.Error("failed to send notifications",
			zap.Error(err),
			zap.String("event", req.Event),
		)
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Failed to send notifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(NotificationResponse{NotificationIDs: ids})
}

// NotificationStats handles GET /v1/notifications/stats?period=24h.
func (h *Handler) NotificationStats(w http.ResponseWriter, r *http.Request) {
	period := 24 * time.Hour
	if p := r.URL.Query().Get("period"); p != "" {
		parsed, err := time.ParseDuration(p)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid period", "period must be a positive duration like 24h")
			return
		}
		period = parsed
	}

	stats, err := h.dispatcher.Stats(r.Context(), period)
	if err != nil {
		h.logger.Error("failed to aggregate notification stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "stats_error", "Failed to aggregate stats", "")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// CreateRule handles POST /v1/rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule engine.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	created, err := h.engine.Rules().Add(rule)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid rule", err.Error())
		return
	}

	h.logger.Info("rule created",
		zap.String("rule_id", created.ID),
		zap.String("event", created.TriggerEvent),
	)
	h.writeJSON(w, http.StatusCreated, created)
}

// ListRules handles GET /v1/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.engine.Rules().List()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  rules,
		"count": len(rules),
	})
}

// GetRule handles GET /v1/rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.engine.Rules().Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Rule not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PUT /v1/rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule engine.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	updated, err := h.engine.Rules().Update(chi.URLParam(r, "id"), rule)
	if err != nil {
		if errors.Is(err, engine.ErrRuleNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Rule not found", "")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid rule", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteRule handles DELETE /v1/rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Rules().Delete(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Rule not found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateNotificationRule handles POST /v1/notification-rules.
func (h *Handler) CreateNotificationRule(w http.ResponseWriter, r *http.Request) {
	var rule notify.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	created, err := h.dispatcher.AddRule(rule)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification rule", err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// ListNotificationRules handles GET /v1/notification-rules?event=xxx.
func (h *Handler) ListNotificationRules(w http.ResponseWriter, r *http.Request) {
	event := r.URL.Query().Get("event")
	if event == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing event", "event query parameter is required")
		return
	}

	rules := h.dispatcher.RulesForEvent(event)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  rules,
		"count": len(rules),
	})
}

// CreateTemplate handles POST /v1/templates.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl notify.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	created, err := h.templates.Add(tpl)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid template", err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// ListTemplates handles GET /v1/templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates := h.templates.List()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  templates,
		"count": len(templates),
	})
}

// GetTemplate handles GET /v1/templates/{id}.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.templates.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, tpl)
}

// UpdateTemplate handles PUT /v1/templates/{id}.
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl notify.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	updated, err := h.templates.Update(chi.URLParam(r, "id"), tpl)
	if err != nil {
		if errors.Is(err, notify.ErrTemplateNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid template", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// CreateTask handles POST /v1/tasks.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var task scheduler.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	created, err := h.scheduler.Add(task)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid task", err.Error())
		return
	}

	h.logger.Info("task created",
		zap.String("task_id", created.ID),
		zap.String("name", created.Name),
	)
	h.writeJSON(w, http.StatusCreated, created)
}

// ListTasks handles GET /v1/tasks.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.scheduler.List()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  tasks,
		"count": len(tasks),
	})
}

// GetTask handles GET /v1/tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.scheduler.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Task not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

// UpdateTask handles PUT /v1/tasks/{id}.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var task scheduler.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	updated, err := h.scheduler.Update(chi.URLParam(r, "id"), task)
	if err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Task not found", "")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid task", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteTask handles DELETE /v1/tasks/{id}.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Delete(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Task not found", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListExecutions handles GET /v1/executions.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	executions := h.engine.Executions()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  executions,
		"count": len(executions),
	})
}

// GetExecution handles GET /v1/executions/{id}.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.engine.Execution(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Execution not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, exec)
}

// EngineStats handles GET /v1/stats.
func (h *Handler) EngineStats(w http.ResponseWriter, r *http.Request) {
	stats := struct {
		engine.Stats
		TotalTasks  int `json:"total_tasks"`
		ActiveTasks int `json:"active_tasks"`
	}{Stats: h.engine.Stats()}

	for _, task := range h.scheduler.List() {
		stats.TotalTasks++
		if task.IsActive {
			stats.ActiveTasks++
		}
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// ListDeliveries handles GET /v1/deliveries.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries := h.processor.Deliveries()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  deliveries,
		"count": len(deliveries),
	})
}

// MarkDeliveryDelivered handles POST /v1/deliveries/{id}/delivered.
func (h *Handler) MarkDeliveryDelivered(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.processor.MarkDelivered(id); err != nil {
		h.writeError(w, http.StatusConflict, "invalid_transition", "Cannot mark delivery delivered", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": delivery.StatusDelivered})
}

// MarkDeliveryRead handles POST /v1/deliveries/{id}/read.
func (h *Handler) MarkDeliveryRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.processor.MarkRead(r.Context(), id); err != nil {
		h.writeError(w, http.StatusConflict, "invalid_transition", "Cannot mark delivery read", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": delivery.StatusRead})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
