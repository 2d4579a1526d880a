package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sitenotify/dispatch/internal/bus"
	"github.com/sitenotify/dispatch/internal/domain"
)

// SchedulerService promotes SCHEDULED messages whose scheduled_at has
// passed to PENDING and publishes them onto the Dispatch Bus. Multiple
// instances can run concurrently against the same database: DueScheduled
// claims rows with FOR UPDATE SKIP LOCKED, so two shards never publish
// the same row twice.
type SchedulerService struct {
	messages    domain.MessageLogRepository
	transitions domain.StatusTransitionStore
	bus         bus.Bus
	logger      *slog.Logger
	interval    time.Duration
	batch       int

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewSchedulerService creates a new SchedulerService
func NewSchedulerService(
	messages domain.MessageLogRepository,
	transitions domain.StatusTransitionStore,
	b bus.Bus,
	logger *slog.Logger,
	interval time.Duration,
) *SchedulerService {
	return &SchedulerService{
		messages:    messages,
		transitions: transitions,
		bus:         b,
		logger:      logger,
		interval:    interval,
		batch:       100,
	}
}

// Start starts the scheduler loop.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler started", "interval", s.interval)

	go s.run(ctx)
	return nil
}

// Stop stops the scheduler loop.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopChan)
	s.running = false
	s.logger.Info("scheduler stopped")
}

func (s *SchedulerService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.processDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.processDue(ctx)
		}
	}
}

// processDue claims due SCHEDULED rows (already flipped to PENDING by
// DueScheduled) and publishes each onto the bus. A publish failure
// reverts the row back to SCHEDULED rather than leaving it stuck PENDING
// with nothing ever consuming it; the history row records either
// outcome so the audit trail shows the attempt either way.
func (s *SchedulerService) processDue(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.messages.DueScheduled(ctx, now, s.batch)
	if err != nil {
		s.logger.Error("failed to load due scheduled messages", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("processing scheduled messages", "count", len(due))

	for _, m := range due {
		job := domain.DeliveryJob{
			MessageID: m.MessageID,
			SiteID:    m.SiteID,
			Channel:   m.Channel,
			Attempt:   1,
		}

		if err := s.bus.Publish(ctx, job); err != nil {
			s.logger.Error("failed to publish scheduled message, reverting to scheduled",
				"site_id", m.SiteID, "message_id", m.MessageID, "error", err,
			)
			errMsg := err.Error()
			s.recordTransition(ctx, true, m, domain.StatusScheduled, &errMsg)
			continue
		}

		s.recordTransition(ctx, false, m, domain.StatusPending, nil)
	}

	s.logger.Info("scheduled messages processed", "count", len(due))
}

// recordTransition writes the audit row for m moving to status, and —
// when apply is true — first moves it there via the same compare-and-swap
// UpdateStatus uses, atomically with the history write. apply is false
// when the row was already moved by DueScheduled's own claim and only
// the attempt needs recording.
func (s *SchedulerService) recordTransition(ctx context.Context, apply bool, m *domain.MessageLog, status domain.Status, errMsg *string) {
	h := &domain.MessageStatusHistory{
		SiteID:       m.SiteID,
		MessageID:    m.MessageID,
		Status:       status,
		ErrorMessage: errMsg,
		RetryCount:   m.RetryCount,
		Source:       domain.SourceTrigger,
		Timestamp:    time.Now().UTC(),
	}
	if _, _, err := s.transitions.UpdateStatusWithHistory(ctx, apply, nil, h); err != nil {
		s.logger.Error("failed to record scheduler transition", "site_id", m.SiteID, "message_id", m.MessageID, "error", err)
	}
}
