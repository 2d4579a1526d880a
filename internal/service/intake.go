package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitenotify/dispatch/internal/bus"
	"github.com/sitenotify/dispatch/internal/domain"
)

const maxBulkSize = 1000

// IntakeService validates, persists, and publishes one-shot and
// scheduled notification intents. Every operation is idempotent on
// (site_id, message_id) and scoped to the caller's site throughout.
type IntakeService struct {
	messages    domain.MessageLogRepository
	history     domain.HistoryRepository
	transitions domain.StatusTransitionStore
	templates   domain.TemplateRepository
	bus         bus.Bus
	logger      *slog.Logger

	statusBroadcast func(*domain.MessageLog)
}

// NewIntakeService creates a new IntakeService. history serves read-only
// audit lookups (History); transitions is the only path intake uses to
// write a status change and its history row together.
func NewIntakeService(
	messages domain.MessageLogRepository,
	history domain.HistoryRepository,
	transitions domain.StatusTransitionStore,
	templates domain.TemplateRepository,
	b bus.Bus,
	logger *slog.Logger,
) *IntakeService {
	return &IntakeService{messages: messages, history: history, transitions: transitions, templates: templates, bus: b, logger: logger}
}

// SetStatusBroadcast wires a callback invoked after intake persists a
// status change, used by internal/handler's websocket hub.
func (s *IntakeService) SetStatusBroadcast(fn func(*domain.MessageLog)) {
	s.statusBroadcast = fn
}

// SubmitRequest is one notification intent.
type SubmitRequest struct {
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

// BulkSubmitRequest is a non-empty batch of intents, each one validated,
// persisted, and published independently of the others.
type BulkSubmitRequest struct {
	Messages []SubmitRequest `json:"messages" validate:"required,min=1,max=1000,dive"`
}

// BulkEntryResult is one intent's outcome within a bulk submission.
type BulkEntryResult struct {
	MessageID string             `json:"message_id"`
	Message   *domain.MessageLog `json:"message,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Submit validates req, persists it to the message log, and publishes a
// DeliveryJob unless it is scheduled for later. A (site_id, message_id)
// collision returns the stored row with created=false instead of an
// error — the caller reports IDEMPOTENT_REPLAY, not a failure.
func (s *IntakeService) Submit(ctx context.Context, site domain.SiteID, req SubmitRequest) (msg *domain.MessageLog, created bool, err error) {
	if !req.Channel.IsValid() {
		return nil, false, domain.NewValidationError("channel", "invalid channel")
	}

	body, err := s.resolveBody(ctx, site, req)
	if err != nil {
		return nil, false, err
	}
	if err := validateContentLength(req.Channel, body); err != nil {
		return nil, false, err
	}

	m := domain.NewMessageLog(site, req.MessageID, req.Channel, req.Recipient, body)
	s.applyOptional(m, req)

	if req.ScheduledAt != nil {
		if req.ScheduledAt.Before(time.Now()) {
			return nil, false, domain.NewValidationError("scheduled_at", "scheduled time must be in the future")
		}
		m.ScheduledAt = req.ScheduledAt
		m.Status = domain.StatusScheduled
	}

	saved, wasCreated, err := s.messages.Insert(ctx, m)
	if err != nil {
		return nil, false, fmt.Errorf("failed to persist message: %w", err)
	}
	if !wasCreated {
		return saved, false, nil
	}

	s.appendHistory(ctx, saved, domain.SourceAPI, nil)
	s.broadcast(saved)

	if saved.Status == domain.StatusPending {
		job := domain.DeliveryJob{
			MessageID: saved.MessageID,
			SiteID:    saved.SiteID,
			Channel:   saved.Channel,
			Attempt:   1,
		}
		if pubErr := s.bus.Publish(ctx, job); pubErr != nil {
			s.logger.Error("failed to publish message onto the dispatch bus",
				"site_id", site, "message_id", saved.MessageID, "error", pubErr,
			)
		}
	}

	s.logger.Info("message submitted",
		"site_id", site, "message_id", saved.MessageID, "channel", saved.Channel, "status", saved.Status,
	)

	return saved, true, nil
}

// SubmitBulk submits every intent in req independently: one bad entry
// reports its own error without aborting the rest of the batch.
func (s *IntakeService) SubmitBulk(ctx context.Context, site domain.SiteID, req BulkSubmitRequest) ([]BulkEntryResult, error) {
	if len(req.Messages) > maxBulkSize {
		return nil, domain.ErrBatchSizeExceeded
	}

	results := make([]BulkEntryResult, 0, len(req.Messages))
	for _, entry := range req.Messages {
		saved, _, err := s.Submit(ctx, site, entry)
		if err != nil {
			results = append(results, BulkEntryResult{MessageID: entry.MessageID, Error: err.Error()})
			continue
		}
		results = append(results, BulkEntryResult{MessageID: saved.MessageID, Message: saved})
	}

	s.logger.Info("bulk submit processed", "site_id", site, "count", len(results))
	return results, nil
}

// Get retrieves the current state of one message, scoped to site.
func (s *IntakeService) Get(ctx context.Context, site domain.SiteID, messageID string) (*domain.MessageLog, error) {
	return s.messages.FindByID(ctx, site, messageID)
}

// History returns a message's append-only audit trail, ascending.
func (s *IntakeService) History(ctx context.Context, site domain.SiteID, messageID string) ([]*domain.MessageStatusHistory, error) {
	return s.history.ListByMessage(ctx, site, messageID)
}

// List returns a filtered, paginated page of the site's messages.
func (s *IntakeService) List(ctx context.Context, site domain.SiteID, filter domain.MessageFilter) (*domain.MessageListResult, error) {
	return s.messages.List(ctx, site, filter)
}

// Cancel moves a non-terminal message (PENDING, SCHEDULED, RETRYING) to
// REJECTED with reason CANCELLED. Any other state is rejected.
func (s *IntakeService) Cancel(ctx context.Context, site domain.SiteID, messageID string) error {
	m, err := s.messages.FindByID(ctx, site, messageID)
	if err != nil {
		return err
	}

	if !m.CanCancel() {
		return domain.ErrCannotCancel
	}

	reason := "CANCELLED"
	h := &domain.MessageStatusHistory{
		SiteID:       site,
		MessageID:    messageID,
		Status:       domain.StatusRejected,
		ErrorMessage: &reason,
		RetryCount:   m.RetryCount,
		Source:       domain.SourceAPI,
		Timestamp:    time.Now().UTC(),
	}
	updated, ok, err := s.transitions.UpdateStatusWithHistory(ctx, true, nil, h)
	if err != nil {
		return fmt.Errorf("failed to cancel message: %w", err)
	}
	if !ok {
		return domain.ErrTerminalConflict
	}

	s.broadcast(updated)

	s.logger.Info("message cancelled", "site_id", site, "message_id", messageID)
	return nil
}

func (s *IntakeService) resolveBody(ctx context.Context, site domain.SiteID, req SubmitRequest) (string, error) {
	if req.TemplateName == "" {
		if req.Body == "" {
			return "", domain.NewValidationError("body", "body is required")
		}
		return req.Body, nil
	}

	tmpl, err := s.templates.GetByName(ctx, site, req.TemplateName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrTemplateNotFound
		}
		return "", fmt.Errorf("failed to load template: %w", err)
	}

	missing := tmpl.Validate(req.TemplateVars)
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %v", domain.ErrMissingVariables, missing)
	}

	return tmpl.Render(req.TemplateVars), nil
}

func (s *IntakeService) applyOptional(m *domain.MessageLog, req SubmitRequest) {
	m.Subject = req.Subject
	m.MediaURL = req.MediaURL
	m.From = req.From
	m.Session = req.Session
	m.Caption = req.Caption
	m.Metadata = req.Metadata
	if req.Priority != "" && req.Priority.IsValid() {
		m.Priority = req.Priority
	}
}

func (s *IntakeService) appendHistory(ctx context.Context, m *domain.MessageLog, source domain.HistorySource, errMsg *string) {
	h := &domain.MessageStatusHistory{
		SiteID:       m.SiteID,
		MessageID:    m.MessageID,
		Status:       m.Status,
		ErrorMessage: errMsg,
		RetryCount:   m.RetryCount,
		Source:       source,
		Timestamp:    time.Now().UTC(),
	}
	if _, _, err := s.transitions.UpdateStatusWithHistory(ctx, false, nil, h); err != nil {
		s.logger.Error("failed to append intake history", "site_id", m.SiteID, "message_id", m.MessageID, "error", err)
	}
}

func (s *IntakeService) broadcast(m *domain.MessageLog) {
	if s.statusBroadcast != nil {
		s.statusBroadcast(m)
	}
}

// validateContentLength enforces a per-channel payload ceiling.
func validateContentLength(channel domain.Channel, content string) error {
	var maxLen int
	switch channel {
	case domain.ChannelSMS:
		maxLen = 160 * 4 // allow up to 4 concatenated SMS segments
	case domain.ChannelEmail:
		maxLen = 100000
	case domain.ChannelWhatsApp, domain.ChannelPush:
		maxLen = 4096
	}

	if len(content) > maxLen {
		return domain.NewValidationError("body",
			fmt.Sprintf("content exceeds maximum length of %d characters for %s channel", maxLen, channel))
	}

	return nil
}
