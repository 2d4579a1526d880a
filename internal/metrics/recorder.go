package metrics

import (
	"context"

	"github.com/sitenotify/dispatch/internal/domain"
)

// RecordingStatusTransitionStore decorates a domain.StatusTransitionStore
// so that committing a status transition's history row is the single
// place a status-change metric is ever emitted. Every caller — intake,
// the scheduler, the worker pool — goes through the same
// UpdateStatusWithHistory, so wiring this decorator in cmd/server/main.go
// in front of the real store is sufficient to satisfy the "single metric
// source" invariant without each caller needing to know metrics exist
// at all.
type RecordingStatusTransitionStore struct {
	domain.StatusTransitionStore
	metrics *Metrics
}

// NewRecordingStatusTransitionStore wraps inner with metric recording.
func NewRecordingStatusTransitionStore(inner domain.StatusTransitionStore, m *Metrics) *RecordingStatusTransitionStore {
	return &RecordingStatusTransitionStore{StatusTransitionStore: inner, metrics: m}
}

// UpdateStatusWithHistory implements domain.StatusTransitionStore. The
// metric is only recorded once the underlying write has committed — a
// failed transition means no history row exists, so nothing should be
// counted either.
func (r *RecordingStatusTransitionStore) UpdateStatusWithHistory(ctx context.Context, apply bool, retryCount *int, h *domain.MessageStatusHistory) (*domain.MessageLog, bool, error) {
	updated, applied, err := r.StatusTransitionStore.UpdateStatusWithHistory(ctx, apply, retryCount, h)
	if err != nil {
		return updated, applied, err
	}

	r.metrics.statusTransitionsTotal.WithLabelValues(string(h.Status), string(h.Source)).Inc()
	if h.Status == domain.StatusRetrying {
		r.metrics.retryAttempt.WithLabelValues(string(h.Source)).Observe(float64(h.RetryCount))
	}

	return updated, applied, nil
}
