package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sitenotify/dispatch/internal/domain"
)

func TestSchedulerService_ProcessDue(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("publishes due messages and records history", func(t *testing.T) {
		messages := new(mockMessageLogRepository)
		transitions := new(mockTransitionStore)
		b := new(mockBus)

		due := domain.NewMessageLog("site-1", "m1", domain.ChannelSMS, "+1", "hi")
		due.Status = domain.StatusPending

		messages.On("DueScheduled", ctx, mock.AnythingOfType("time.Time"), 100).Return([]*domain.MessageLog{due}, nil).Once()
		b.On("Publish", ctx, mock.AnythingOfType("domain.DeliveryJob")).Return(nil).Once()
		transitions.On("UpdateStatusWithHistory", ctx, false, (*int)(nil), mock.AnythingOfType("*domain.MessageStatusHistory")).
			Return(nil, false, nil).Once()

		svc := NewSchedulerService(messages, transitions, b, logger, time.Minute)
		svc.processDue(ctx)

		messages.AssertExpectations(t)
		b.AssertExpectations(t)
		transitions.AssertExpectations(t)
	})

	t.Run("reverts to scheduled when publish fails", func(t *testing.T) {
		messages := new(mockMessageLogRepository)
		transitions := new(mockTransitionStore)
		b := new(mockBus)

		due := domain.NewMessageLog("site-1", "m1", domain.ChannelSMS, "+1", "hi")
		due.Status = domain.StatusPending

		messages.On("DueScheduled", ctx, mock.AnythingOfType("time.Time"), 100).Return([]*domain.MessageLog{due}, nil).Once()
		b.On("Publish", ctx, mock.AnythingOfType("domain.DeliveryJob")).Return(assert.AnError).Once()
		transitions.On("UpdateStatusWithHistory", ctx, true, (*int)(nil), mock.AnythingOfType("*domain.MessageStatusHistory")).
			Return(due, true, nil).Once()

		svc := NewSchedulerService(messages, transitions, b, logger, time.Minute)
		svc.processDue(ctx)

		messages.AssertExpectations(t)
		b.AssertExpectations(t)
		transitions.AssertExpectations(t)
	})

	t.Run("no-op when nothing is due", func(t *testing.T) {
		messages := new(mockMessageLogRepository)
		transitions := new(mockTransitionStore)
		b := new(mockBus)

		messages.On("DueScheduled", ctx, mock.AnythingOfType("time.Time"), 100).Return([]*domain.MessageLog{}, nil).Once()

		svc := NewSchedulerService(messages, transitions, b, logger, time.Minute)
		svc.processDue(ctx)

		messages.AssertExpectations(t)
		b.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestSchedulerService_StartStopIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	messages := new(mockMessageLogRepository)
	transitions := new(mockTransitionStore)
	b := new(mockBus)

	messages.On("DueScheduled", mock.Anything, mock.AnythingOfType("time.Time"), 100).Return([]*domain.MessageLog{}, nil)

	svc := NewSchedulerService(messages, transitions, b, logger, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, svc.Start(ctx))
	assert.NoError(t, svc.Start(ctx)) // second Start is a no-op
	svc.Stop()
}
