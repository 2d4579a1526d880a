package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sitenotify/dispatch/internal/domain"
)

type mockTransitions struct{ mock.Mock }

func (m *mockTransitions) UpdateStatusWithHistory(ctx context.Context, apply bool, retryCount *int, h *domain.MessageStatusHistory) (*domain.MessageLog, bool, error) {
	args := m.Called(ctx, apply, retryCount, h)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.MessageLog), args.Bool(1), args.Error(2)
}

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.WithLabelValues(labels...).Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestRecordingStatusTransitionStore_RecordsExactlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	inner := new(mockTransitions)
	h := &domain.MessageStatusHistory{
		SiteID: "site-1", MessageID: "m1", Status: domain.StatusSent,
		RetryCount: 0, Source: domain.SourceWorker,
	}
	msg := &domain.MessageLog{SiteID: "site-1", MessageID: "m1", Status: domain.StatusSent}
	inner.On("UpdateStatusWithHistory", mock.Anything, true, (*int)(nil), h).Return(msg, true, nil).Once()

	recorder := NewRecordingStatusTransitionStore(inner, m)
	updated, applied, err := recorder.UpdateStatusWithHistory(context.Background(), true, nil, h)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, msg, updated)
	inner.AssertExpectations(t)
	assert.Equal(t, float64(1), counterValue(t, m.statusTransitionsTotal, string(domain.StatusSent), string(domain.SourceWorker)))
}

func TestRecordingStatusTransitionStore_RetryingObservesRetryCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	inner := new(mockTransitions)
	h := &domain.MessageStatusHistory{
		SiteID: "site-1", MessageID: "m1", Status: domain.StatusRetrying,
		RetryCount: 2, Source: domain.SourceWorker,
	}
	inner.On("UpdateStatusWithHistory", mock.Anything, true, (*int)(nil), h).Return(nil, true, nil).Once()

	recorder := NewRecordingStatusTransitionStore(inner, m)
	_, _, err := recorder.UpdateStatusWithHistory(context.Background(), true, nil, h)
	require.NoError(t, err)

	var metric dto.Metric
	require.NoError(t, m.retryAttempt.WithLabelValues(string(domain.SourceWorker)).(prometheus.Histogram).Write(&metric))
	assert.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
}

func TestRecordingStatusTransitionStore_NoMetricOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	inner := new(mockTransitions)
	h := &domain.MessageStatusHistory{SiteID: "site-1", MessageID: "m1", Status: domain.StatusFailed, Source: domain.SourceAPI}
	boom := errors.New("db unavailable")
	inner.On("UpdateStatusWithHistory", mock.Anything, false, (*int)(nil), h).Return(nil, false, boom).Once()

	recorder := NewRecordingStatusTransitionStore(inner, m)
	_, _, err := recorder.UpdateStatusWithHistory(context.Background(), false, nil, h)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, float64(0), counterValue(t, m.statusTransitionsTotal, string(domain.StatusFailed), string(domain.SourceAPI)))
}
