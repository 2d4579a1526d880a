package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sitenotify/dispatch/internal/bus"
	"github.com/sitenotify/dispatch/internal/domain"
	"github.com/sitenotify/dispatch/internal/statemachine"
)

// handleDelivery is the per-job algorithm: gate on the site's rate
// budget, rehydrate the message, skip anything already terminal (a
// redelivery racing a prior ack), and otherwise attempt a send.
func (p *Pool) handleDelivery(ctx context.Context, d *bus.Delivery, logger *slog.Logger) {
	job := d.Job
	logger = logger.With("site_id", job.SiteID, "message_id", job.MessageID)

	allowed, err := p.rateLimiter.Allow(ctx, job.SiteID, job.Channel)
	if err != nil {
		logger.Error("rate limiter unavailable, deferring", "error", err)
		_ = d.Nak(rateLimitRetryDelay)
		return
	}
	if !allowed {
		_ = d.Nak(rateLimitRetryDelay)
		return
	}

	m, err := p.messages.FindByID(ctx, job.SiteID, job.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("message not found, dropping delivery")
			_ = d.Term()
			return
		}
		logger.Error("failed to load message, deferring", "error", err)
		_ = d.Nak(time.Second)
		return
	}

	if m.Status.IsTerminal() {
		_ = d.Ack()
		return
	}

	p.deliver(ctx, m, d, d.Attempt, logger)
}

// deliver resolves credentials, calls the channel adapter, and drives
// the resulting state transition.
func (p *Pool) deliver(ctx context.Context, m *domain.MessageLog, d *bus.Delivery, attempt int, logger *slog.Logger) {
	creds, err := p.resolveCredentials(ctx, m.SiteID, m.Channel)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialsMissing) {
			logger.Warn("no tenant or platform credentials configured for channel, failing permanently")
			p.handleFailure(ctx, m, d, attempt, domain.ClassificationPermanent, err.Error(), logger)
			return
		}
		logger.Error("failed to resolve tenant credentials, deferring", "error", err)
		_ = d.Nak(time.Second)
		return
	}

	channelAdapter, err := p.registry.Get(m.Channel)
	if err != nil {
		logger.Error("no adapter registered for channel", "error", err)
		msg := err.Error()
		p.transition(ctx, m, domain.StatusFailed, &msg, nil, logger)
		_ = d.Term()
		return
	}

	req := domain.NormalizedRequest{
		Recipient: m.Recipient,
		Subject:   m.Subject,
		Body:      m.Body,
		MediaURL:  m.MediaURL,
		From:      m.From,
		Session:   m.Session,
		Caption:   m.Caption,
		Metadata:  m.Metadata,
	}

	result, err := channelAdapter.Send(ctx, *creds, req)
	if err != nil {
		p.handleFailure(ctx, m, d, attempt, domain.ClassificationTransient, err.Error(), logger)
		return
	}

	switch result.Status {
	case domain.ResultAccepted:
		p.transition(ctx, m, domain.StatusSent, nil, nil, logger)
		_ = d.Ack()
	case domain.ResultDeliveredSync:
		if updated, ok := p.transition(ctx, m, domain.StatusSent, nil, nil, logger); ok {
			p.transition(ctx, updated, domain.StatusDelivered, nil, nil, logger)
		}
		_ = d.Ack()
	case domain.ResultFailure:
		p.handleFailure(ctx, m, d, attempt, result.Classification, result.Message, logger)
	default:
		logger.Error("adapter returned unrecognized result status", "status", result.Status)
		_ = d.Nak(time.Second)
	}
}

// handleFailure consults the retry policy and either schedules another
// attempt via Nak, or gives up, marks the message FAILED, and routes it
// to the channel's dead-letter subject.
func (p *Pool) handleFailure(ctx context.Context, m *domain.MessageLog, d *bus.Delivery, attempt int, classification domain.Classification, message string, logger *slog.Logger) {
	decision := p.retryPolicy.Evaluate(classification, m.Channel, attempt)
	errMsg := message

	if !decision.Retry {
		p.transition(ctx, m, domain.StatusFailed, &errMsg, nil, logger)
		job := domain.DeliveryJob{MessageID: m.MessageID, SiteID: m.SiteID, Channel: m.Channel, Attempt: attempt}
		if err := p.bus.PublishDLQ(ctx, job, message); err != nil {
			logger.Error("failed to publish to dead-letter subject", "error", err)
		}
		_ = d.Term()
		return
	}

	retryCount := attempt
	p.transition(ctx, m, domain.StatusRetrying, &errMsg, &retryCount, logger)
	if err := d.Nak(decision.Delay); err != nil {
		logger.Error("failed to nak delivery for retry", "error", err)
	}
}

// transition validates the move with internal/statemachine and applies
// it through a compare-and-swap update when valid. A history row is
// appended regardless of validity — the "attempted reality" rule means
// the audit trail records what was tried even when the transition was
// rejected and MessageLog.status did not move.
func (p *Pool) transition(ctx context.Context, m *domain.MessageLog, next domain.Status, errMsg *string, retryCount *int, logger *slog.Logger) (*domain.MessageLog, bool) {
	apply := statemachine.IsValid(m.Status, next)
	if !apply {
		logger.Warn("invalid status transition attempted", "from", m.Status, "to", next)
	}

	retryCountForHistory := m.RetryCount
	if retryCount != nil {
		retryCountForHistory = *retryCount
	}
	h := &domain.MessageStatusHistory{
		SiteID:       m.SiteID,
		MessageID:    m.MessageID,
		Status:       next,
		ErrorMessage: errMsg,
		RetryCount:   retryCountForHistory,
		Source:       domain.SourceWorker,
		Timestamp:    time.Now().UTC(),
	}

	updated, applied, err := p.transitions.UpdateStatusWithHistory(ctx, apply, retryCount, h)
	if err != nil {
		logger.Error("failed to record status transition", "error", err)
		return nil, false
	}

	if applied && updated != nil {
		p.broadcast(updated)
		return updated, true
	}
	return nil, false
}

// resolveCredentials looks up the tenant's channel credentials, falling
// back to the platform-wide credential set when the tenant has no
// override and the channel has one configured — the send still goes
// out (e.g. through a shared account), it just isn't attributed to a
// tenant API key. If the tenant has no override and the channel has no
// platform default either, there is nothing to send with: this returns
// domain.ErrCredentialsMissing so the caller can fail the message
// permanently instead of retrying forever against a config gap.
func (p *Pool) resolveCredentials(ctx context.Context, site domain.SiteID, channel domain.Channel) (*domain.SiteCredentials, error) {
	cfg, err := p.credentials.Get(ctx, site, channel)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if !p.platformDefaults[channel] {
				return nil, domain.ErrCredentialsMissing
			}
			return &domain.SiteCredentials{SiteID: site, Channel: channel, IsPlatform: true}, nil
		}
		return nil, err
	}
	return &domain.SiteCredentials{
		SiteID:   cfg.SiteID,
		Channel:  cfg.Channel,
		APIKey:   cfg.APIKey,
		FromAddr: cfg.FromAddr,
		Session:  cfg.Session,
		Extra:    cfg.Extra,
	}, nil
}
