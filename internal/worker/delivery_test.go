package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sitenotify/dispatch/internal/adapter"
	"github.com/sitenotify/dispatch/internal/bus"
	"github.com/sitenotify/dispatch/internal/config"
	"github.com/sitenotify/dispatch/internal/domain"
	"github.com/sitenotify/dispatch/internal/retry"
)

type mockMessages struct{ mock.Mock }

func (m *mockMessages) Insert(ctx context.Context, msg *domain.MessageLog) (*domain.MessageLog, bool, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.MessageLog), args.Bool(1), args.Error(2)
}

func (m *mockMessages) FindByID(ctx context.Context, site domain.SiteID, messageID string) (*domain.MessageLog, error) {
	args := m.Called(ctx, site, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageLog), args.Error(1)
}

func (m *mockMessages) UpdateStatus(ctx context.Context, site domain.SiteID, messageID string, newStatus domain.Status, errMsg *string, retryCount *int) (*domain.MessageLog, bool, error) {
	args := m.Called(ctx, site, messageID, newStatus, errMsg, retryCount)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.MessageLog), args.Bool(1), args.Error(2)
}

func (m *mockMessages) List(ctx context.Context, site domain.SiteID, filter domain.MessageFilter) (*domain.MessageListResult, error) {
	args := m.Called(ctx, site, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MessageListResult), args.Error(1)
}

func (m *mockMessages) DueScheduled(ctx context.Context, before time.Time, limit int) ([]*domain.MessageLog, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MessageLog), args.Error(1)
}

type mockTransitions struct{ mock.Mock }

func (m *mockTransitions) UpdateStatusWithHistory(ctx context.Context, apply bool, retryCount *int, h *domain.MessageStatusHistory) (*domain.MessageLog, bool, error) {
	args := m.Called(ctx, apply, retryCount, h)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.MessageLog), args.Bool(1), args.Error(2)
}

type mockCredentials struct{ mock.Mock }

func (m *mockCredentials) Get(ctx context.Context, site domain.SiteID, channel domain.Channel) (*domain.TenantChannelConfig, error) {
	args := m.Called(ctx, site, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TenantChannelConfig), args.Error(1)
}

type mockRateLimiter struct{ mock.Mock }

func (m *mockRateLimiter) Allow(ctx context.Context, site domain.SiteID, channel domain.Channel) (bool, error) {
	args := m.Called(ctx, site, channel)
	return args.Bool(0), args.Error(1)
}

type mockAdapter struct{ mock.Mock }

func (m *mockAdapter) Send(ctx context.Context, creds domain.SiteCredentials, req domain.NormalizedRequest) (*domain.NormalizedResult, error) {
	args := m.Called(ctx, creds, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NormalizedResult), args.Error(1)
}

type mockBus struct{ mock.Mock }

func (m *mockBus) Publish(ctx context.Context, job domain.DeliveryJob) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockBus) PublishDLQ(ctx context.Context, job domain.DeliveryJob, reason string) error {
	return m.Called(ctx, job, reason).Error(0)
}

func (m *mockBus) Subscribe(ctx context.Context, channel domain.Channel, handler bus.Handler) error {
	return m.Called(ctx, channel, handler).Error(0)
}

func (m *mockBus) ConsumerLag(ctx context.Context, channel domain.Channel) (int64, error) {
	args := m.Called(ctx, channel)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBus) Close() error { return m.Called().Error(0) }

func newTestPool(t *testing.T, messages *mockMessages, transitions *mockTransitions, creds *mockCredentials, limiter *mockRateLimiter, chAdapter *mockAdapter, b *mockBus) *Pool {
	t.Helper()
	return newTestPoolWithPlatformDefaults(t, messages, transitions, creds, limiter, chAdapter, b, map[domain.Channel]bool{domain.ChannelSMS: true})
}

func newTestPoolWithPlatformDefaults(t *testing.T, messages *mockMessages, transitions *mockTransitions, creds *mockCredentials, limiter *mockRateLimiter, chAdapter *mockAdapter, b *mockBus, platformDefaults map[domain.Channel]bool) *Pool {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	policy := retry.NewPolicy(config.RetryConfig{
		DefaultMaxAttempts:   3,
		TransientBackoffBase: time.Millisecond,
		TransientBackoffCap:  10 * time.Millisecond,
		RateLimitBackoffBase: time.Millisecond,
		RateLimitBackoffCap:  10 * time.Millisecond,
	})
	registry := adapter.NewRegistry(map[domain.Channel]domain.ChannelAdapter{
		domain.ChannelSMS: chAdapter,
	})
	return NewPool(registry, creds, platformDefaults, limiter, messages, transitions, policy, b, logger, config.WorkerConfig{})
}

func fakeDelivery(job domain.DeliveryJob, attempt int) (*bus.Delivery, *bool, *bool, *time.Duration) {
	acked := false
	termed := false
	var nakDelay time.Duration
	d := bus.NewDelivery(job, attempt,
		func() error { acked = true; return nil },
		func(delay time.Duration) error { nakDelay = delay; return nil },
		func() error { termed = true; return nil },
	)
	return d, &acked, &termed, &nakDelay
}

func TestPool_HandleDelivery_RateLimited(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	limiter.On("Allow", mock.Anything, domain.SiteID("site-1"), domain.ChannelSMS).Return(false, nil)

	p := newTestPool(t, messages, transitions, creds, limiter, chAdapter, b)
	job := domain.DeliveryJob{SiteID: "site-1", MessageID: "m1", Channel: domain.ChannelSMS, Attempt: 1}
	d, _, termed, nakDelay := fakeDelivery(job, 1)

	p.handleDelivery(context.Background(), d, p.logger)

	assert.Equal(t, rateLimitRetryDelay, *nakDelay)
	assert.False(t, *termed)
	messages.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything, mock.Anything)
}

func TestPool_HandleDelivery_MessageNotFound(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	limiter.On("Allow", mock.Anything, domain.SiteID("site-1"), domain.ChannelSMS).Return(true, nil)
	messages.On("FindByID", mock.Anything, domain.SiteID("site-1"), "m1").Return(nil, domain.ErrNotFound)

	p := newTestPool(t, messages, transitions, creds, limiter, chAdapter, b)
	job := domain.DeliveryJob{SiteID: "site-1", MessageID: "m1", Channel: domain.ChannelSMS, Attempt: 1}
	d, _, termed, _ := fakeDelivery(job, 1)

	p.handleDelivery(context.Background(), d, p.logger)

	assert.True(t, *termed)
}

func TestPool_Deliver_AcceptedMarksSent(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	m := domain.NewMessageLog("site-1", "m1", domain.ChannelSMS, "+1", "hi")
	m.Status = domain.StatusPending

	creds.On("Get", mock.Anything, domain.SiteID("site-1"), domain.ChannelSMS).Return(nil, domain.ErrNotFound)
	chAdapter.On("Send", mock.Anything, mock.AnythingOfType("domain.SiteCredentials"), mock.AnythingOfType("domain.NormalizedRequest")).
		Return(&domain.NormalizedResult{Status: domain.ResultAccepted, ProviderMsgID: "abc"}, nil)

	sent := *m
	sent.Status = domain.StatusSent
	transitions.On("UpdateStatusWithHistory", mock.Anything, true, (*int)(nil), mock.MatchedBy(func(h *domain.MessageStatusHistory) bool {
		return h.Status == domain.StatusSent
	})).Return(&sent, true, nil)

	p := newTestPool(t, messages, transitions, creds, limiter, chAdapter, b)
	job := domain.DeliveryJob{SiteID: "site-1", MessageID: "m1", Channel: domain.ChannelSMS, Attempt: 1}
	d, acked, _, _ := fakeDelivery(job, 1)

	p.deliver(context.Background(), m, d, 1, p.logger)

	assert.True(t, *acked)
	transitions.AssertExpectations(t)
}

func TestPool_HandleFailure_RetriesUnderCeiling(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	m := domain.NewMessageLog("site-1", "m1", domain.ChannelSMS, "+1", "hi")
	m.Status = domain.StatusPending

	transitions.On("UpdateStatusWithHistory", mock.Anything, true, mock.AnythingOfType("*int"), mock.MatchedBy(func(h *domain.MessageStatusHistory) bool {
		return h.Status == domain.StatusRetrying
	})).Return(m, true, nil)

	p := newTestPool(t, messages, transitions, creds, limiter, chAdapter, b)
	job := domain.DeliveryJob{SiteID: "site-1", MessageID: "m1", Channel: domain.ChannelSMS, Attempt: 1}
	d, _, termed, _ := fakeDelivery(job, 1)

	p.handleFailure(context.Background(), m, d, 1, domain.ClassificationTransient, "temporary outage", p.logger)

	assert.False(t, *termed)
	transitions.AssertExpectations(t)
}

func TestPool_HandleFailure_PermanentGoesToDLQ(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	m := domain.NewMessageLog("site-1", "m1", domain.ChannelSMS, "+1", "hi")
	m.Status = domain.StatusPending

	transitions.On("UpdateStatusWithHistory", mock.Anything, true, (*int)(nil), mock.MatchedBy(func(h *domain.MessageStatusHistory) bool {
		return h.Status == domain.StatusFailed
	})).Return(m, true, nil)
	b.On("PublishDLQ", mock.Anything, mock.AnythingOfType("domain.DeliveryJob"), "permanent failure").Return(nil)

	p := newTestPool(t, messages, transitions, creds, limiter, chAdapter, b)
	job := domain.DeliveryJob{SiteID: "site-1", MessageID: "m1", Channel: domain.ChannelSMS, Attempt: 1}
	d, _, termed, _ := fakeDelivery(job, 1)

	p.handleFailure(context.Background(), m, d, 1, domain.ClassificationPermanent, "permanent failure", p.logger)

	assert.True(t, *termed)
	b.AssertExpectations(t)
}

func TestPool_Transition_InvalidStillAppendsHistory(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	m := domain.NewMessageLog("site-1", "m1", domain.ChannelSMS, "+1", "hi")
	m.Status = domain.StatusDelivered // terminal: no transition out is valid

	transitions.On("UpdateStatusWithHistory", mock.Anything, false, (*int)(nil), mock.MatchedBy(func(h *domain.MessageStatusHistory) bool {
		return h.Status == domain.StatusSent
	})).Return(nil, false, nil)

	p := newTestPool(t, messages, transitions, creds, limiter, chAdapter, b)
	updated, ok := p.transition(context.Background(), m, domain.StatusSent, nil, nil, p.logger)

	assert.False(t, ok)
	assert.Nil(t, updated)
	transitions.AssertExpectations(t)
}

func TestPool_ResolveCredentials_FallsBackToPlatform(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	creds.On("Get", mock.Anything, domain.SiteID("site-1"), domain.ChannelSMS).Return(nil, domain.ErrNotFound)

	p := newTestPool(t, messages, transitions, creds, limiter, chAdapter, b)
	resolved, err := p.resolveCredentials(context.Background(), "site-1", domain.ChannelSMS)

	assert.NoError(t, err)
	assert.True(t, resolved.IsPlatform)
	assert.Empty(t, resolved.APIKey)
}

func TestPool_ResolveCredentials_NoPlatformDefaultReturnsCredentialsMissing(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	creds.On("Get", mock.Anything, domain.SiteID("site-1"), domain.ChannelWhatsApp).Return(nil, domain.ErrNotFound)

	p := newTestPoolWithPlatformDefaults(t, messages, transitions, creds, limiter, chAdapter, b, map[domain.Channel]bool{domain.ChannelSMS: true})
	_, err := p.resolveCredentials(context.Background(), "site-1", domain.ChannelWhatsApp)

	assert.ErrorIs(t, err, domain.ErrCredentialsMissing)
}

func TestPool_Deliver_NoCredentialsFailsPermanently(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	m := domain.NewMessageLog("site-1", "m1", domain.ChannelSMS, "+1", "hi")
	m.Status = domain.StatusPending

	creds.On("Get", mock.Anything, domain.SiteID("site-1"), domain.ChannelSMS).Return(nil, domain.ErrNotFound)
	transitions.On("UpdateStatusWithHistory", mock.Anything, true, (*int)(nil), mock.MatchedBy(func(h *domain.MessageStatusHistory) bool {
		return h.Status == domain.StatusFailed
	})).Return(m, true, nil)
	b.On("PublishDLQ", mock.Anything, mock.AnythingOfType("domain.DeliveryJob"), domain.ErrCredentialsMissing.Error()).Return(nil)

	p := newTestPoolWithPlatformDefaults(t, messages, transitions, creds, limiter, chAdapter, b, map[domain.Channel]bool{})
	job := domain.DeliveryJob{SiteID: "site-1", MessageID: "m1", Channel: domain.ChannelSMS, Attempt: 1}
	d, _, termed, _ := fakeDelivery(job, 1)

	p.deliver(context.Background(), m, d, 1, p.logger)

	assert.True(t, *termed)
	chAdapter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	b.AssertExpectations(t)
}

func TestPool_ResolveCredentials_PropagatesOtherErrors(t *testing.T) {
	messages := new(mockMessages)
	transitions := new(mockTransitions)
	creds := new(mockCredentials)
	limiter := new(mockRateLimiter)
	chAdapter := new(mockAdapter)
	b := new(mockBus)

	boom := errors.New("redis unavailable")
	creds.On("Get", mock.Anything, domain.SiteID("site-1"), domain.ChannelSMS).Return(nil, boom)

	p := newTestPool(t, messages, transitions, creds, limiter, chAdapter, b)
	_, err := p.resolveCredentials(context.Background(), "site-1", domain.ChannelSMS)

	assert.ErrorIs(t, err, boom)
}
