package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitenotify/dispatch/internal/domain"
	"github.com/sitenotify/dispatch/internal/service"
	"github.com/sitenotify/dispatch/internal/tenant"
)

// IntakeHandler exposes message intake over REST, every route scoped to
// the caller's site_id as resolved by internal/tenant — never from the
// request body.
type IntakeHandler struct {
	service  *service.IntakeService
	validate *validator.Validate
}

// NewIntakeHandler creates a new IntakeHandler
func NewIntakeHandler(svc *service.IntakeService) *IntakeHandler {
	return &IntakeHandler{service: svc, validate: validator.New()}
}

// RegisterRoutes registers notification routes under /v1/notifications.
func (h *IntakeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Post("/bulk", h.CreateBulk)
	r.Post("/scheduled", h.CreateScheduled)
	r.Post("/scheduled/bulk", h.CreateScheduledBulk)
	r.Get("/", h.List)
	r.Get("/{messageID}", h.GetByID)
	r.Get("/{messageID}/history", h.GetHistory)
	r.Delete("/{messageID}", h.Cancel)
}

// CreateNotificationRequest mirrors service.SubmitRequest for the wire.
type CreateNotificationRequest struct {
	MessageID    string            `json:"message_id,omitempty"`
	Recipient    string            `json:"recipient" validate:"required"`
	Channel      domain.Channel    `json:"channel" validate:"required"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	MediaURL     []string          `json:"media_urls,omitempty"`
	From         string            `json:"from,omitempty"`
	Session      string            `json:"session,omitempty"`
	Caption      string            `json:"caption,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Priority     domain.Priority   `json:"priority,omitempty"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty"`
	TemplateName string            `json:"template_name,omitempty"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
}

func (req CreateNotificationRequest) toSubmitRequest() service.SubmitRequest {
	return service.SubmitRequest{
		MessageID:    req.MessageID,
		Recipient:    req.Recipient,
		Channel:      req.Channel,
		Subject:      req.Subject,
		Body:         req.Body,
		MediaURL:     req.MediaURL,
		From:         req.From,
		Session:      req.Session,
		Caption:      req.Caption,
		Metadata:     req.Metadata,
		Priority:     req.Priority,
		ScheduledAt:  req.ScheduledAt,
		TemplateName: req.TemplateName,
		TemplateVars: req.TemplateVars,
	}
}

// BatchCreateRequest is a non-empty list of CreateNotificationRequest.
type BatchCreateRequest struct {
	Messages []CreateNotificationRequest `json:"messages" validate:"required,min=1,max=1000,dive"`
}

// Create submits a single notification intent.
// @Summary Submit a notification
// @Tags notifications
// @Accept json
// @Produce json
// @Param notification body CreateNotificationRequest true "Notification"
// @Success 201 {object} Response{data=domain.MessageLog}
// @Success 200 {object} Response{data=domain.MessageLog} "idempotent replay"
// @Failure 400 {object} Response
// @Router /v1/notifications [post]
func (h *IntakeHandler) Create(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	var req CreateNotificationRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	msg, created, err := h.service.Submit(r.Context(), site.SiteID, req.toSubmitRequest())
	if err != nil {
		HandleError(w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	JSON(w, status, msg)
}

// CreateBulk submits a batch of notification intents.
// @Summary Submit a batch of notifications
// @Tags notifications
// @Accept json
// @Produce json
// @Param notifications body BatchCreateRequest true "Batch request"
// @Success 200 {object} Response{data=[]service.BulkEntryResult}
// @Failure 400 {object} Response
// @Router /v1/notifications/bulk [post]
func (h *IntakeHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	h.submitBulk(w, r, nil)
}

// CreateScheduled submits a single scheduled notification intent.
// @Summary Submit a scheduled notification
// @Tags notifications
// @Accept json
// @Produce json
// @Param notification body CreateNotificationRequest true "Notification"
// @Success 201 {object} Response{data=domain.MessageLog}
// @Failure 400 {object} Response
// @Router /v1/notifications/scheduled [post]
func (h *IntakeHandler) CreateScheduled(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	var req CreateNotificationRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if req.ScheduledAt == nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "scheduled_at is required", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	msg, created, err := h.service.Submit(r.Context(), site.SiteID, req.toSubmitRequest())
	if err != nil {
		HandleError(w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	JSON(w, status, msg)
}

// CreateScheduledBulk submits a batch of scheduled notification intents.
// @Summary Submit a batch of scheduled notifications
// @Tags notifications
// @Accept json
// @Produce json
// @Param notifications body BatchCreateRequest true "Batch request"
// @Success 200 {object} Response{data=[]service.BulkEntryResult}
// @Failure 400 {object} Response
// @Router /v1/notifications/scheduled/bulk [post]
func (h *IntakeHandler) CreateScheduledBulk(w http.ResponseWriter, r *http.Request) {
	requireScheduled := func(req CreateNotificationRequest) error {
		if req.ScheduledAt == nil {
			return domain.NewValidationError("scheduled_at", "scheduled_at is required")
		}
		return nil
	}
	h.submitBulk(w, r, requireScheduled)
}

func (h *IntakeHandler) submitBulk(w http.ResponseWriter, r *http.Request, validateEntry func(CreateNotificationRequest) error) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	var req BatchCreateRequest
	if err := DecodeJSON(r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if len(req.Messages) == 0 {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "messages must be non-empty", nil)
		return
	}
	if len(req.Messages) > 1000 {
		HandleError(w, domain.ErrBatchSizeExceeded)
		return
	}

	entries := make([]service.SubmitRequest, 0, len(req.Messages))
	for i, entry := range req.Messages {
		if validateEntry != nil {
			if err := validateEntry(entry); err != nil {
				JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), map[string]int{"index": i})
				return
			}
		}
		entries = append(entries, entry.toSubmitRequest())
	}

	results, err := h.service.SubmitBulk(r.Context(), site.SiteID, service.BulkSubmitRequest{Messages: entries})
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, results)
}

// GetByID retrieves a message's current state.
// @Summary Get a notification
// @Tags notifications
// @Produce json
// @Param messageID path string true "Message ID"
// @Success 200 {object} Response{data=domain.MessageLog}
// @Failure 404 {object} Response
// @Router /v1/notifications/{messageID} [get]
func (h *IntakeHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	messageID := chi.URLParam(r, "messageID")
	msg, err := h.service.Get(r.Context(), site.SiteID, messageID)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, msg)
}

// GetHistory retrieves a message's append-only status history, ascending.
// @Summary Get a notification's status history
// @Tags notifications
// @Produce json
// @Param messageID path string true "Message ID"
// @Success 200 {object} Response{data=[]domain.MessageStatusHistory}
// @Failure 404 {object} Response
// @Router /v1/notifications/{messageID}/history [get]
func (h *IntakeHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	messageID := chi.URLParam(r, "messageID")

	// A message must exist, and belong to this site, before its history
	// is disclosed — otherwise history on an absent ID would leak
	// existence the same way a direct lookup is barred from doing.
	if _, err := h.service.Get(r.Context(), site.SiteID, messageID); err != nil {
		HandleError(w, err)
		return
	}

	history, err := h.service.History(r.Context(), site.SiteID, messageID)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, history)
}

// Cancel cancels a non-terminal message.
// @Summary Cancel a notification
// @Tags notifications
// @Produce json
// @Param messageID path string true "Message ID"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/notifications/{messageID} [delete]
func (h *IntakeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	messageID := chi.URLParam(r, "messageID")
	if err := h.service.Cancel(r.Context(), site.SiteID, messageID); err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{"message": "notification cancelled"})
}

// List returns a filtered, paginated page of the site's messages.
// @Summary List notifications
// @Tags notifications
// @Produce json
// @Param status query string false "Filter by status"
// @Param channel query string false "Filter by channel"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} Response{data=domain.MessageListResult}
// @Router /v1/notifications [get]
func (h *IntakeHandler) List(w http.ResponseWriter, r *http.Request) {
	site, err := tenant.FromContext(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}

	filter := domain.MessageFilter{Page: 1, PageSize: 50}
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		status := domain.Status(v)
		filter.Status = &status
	}
	if v := q.Get("channel"); v != "" {
		channel := domain.Channel(v)
		filter.Channel = &channel
	}
	if v := q.Get("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil && page > 0 {
			filter.Page = page
		}
	}
	if v := q.Get("page_size"); v != "" {
		if size, err := strconv.Atoi(v); err == nil && size > 0 && size <= 500 {
			filter.PageSize = size
		}
	}

	result, err := h.service.List(r.Context(), site.SiteID, filter)
	if err != nil {
		HandleError(w, err)
		return
	}

	JSON(w, http.StatusOK, result)
}
