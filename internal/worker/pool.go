// Package worker implements the delivery pipeline's consuming side: a
// per-channel pool that drains the Dispatch Bus, resolves tenant
// credentials, calls the channel adapter, drives the delivery state
// machine, and hands failures to the retry orchestrator.
// internal/service is the only publisher of delivery jobs onto the bus;
// this package is their only consumer and publishes only dead-letter
// entries.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sitenotify/dispatch/internal/adapter"
	"github.com/sitenotify/dispatch/internal/bus"
	"github.com/sitenotify/dispatch/internal/config"
	"github.com/sitenotify/dispatch/internal/domain"
	"github.com/sitenotify/dispatch/internal/retry"
)

// rateLimitRetryDelay is how long a worker asks the bus to hold a job
// back when the site's token bucket is empty.
const rateLimitRetryDelay = 2 * time.Second

// Pool is the worker pool for all channels. One internal buffered
// channel and a fixed goroutine count per domain.Channel bound how much
// concurrent provider traffic a single instance generates, independent
// of how the bus chooses to deliver messages to the Subscribe handler.
type Pool struct {
	registry         *adapter.Registry
	credentials      domain.TenantChannelConfigRepository
	platformDefaults map[domain.Channel]bool
	rateLimiter      domain.RateLimiter
	messages         domain.MessageLogRepository
	transitions      domain.StatusTransitionStore
	retryPolicy      *retry.Policy
	bus              bus.Bus
	logger           *slog.Logger
	workerCfg        config.WorkerConfig

	statusBroadcast func(*domain.MessageLog)

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewPool creates a new Pool. platformDefaults lists the channels that
// have a platform-wide fallback credential configured; resolveCredentials
// only falls back to one for channels in this set.
func NewPool(
	registry *adapter.Registry,
	credentials domain.TenantChannelConfigRepository,
	platformDefaults map[domain.Channel]bool,
	rateLimiter domain.RateLimiter,
	messages domain.MessageLogRepository,
	transitions domain.StatusTransitionStore,
	retryPolicy *retry.Policy,
	b bus.Bus,
	logger *slog.Logger,
	workerCfg config.WorkerConfig,
) *Pool {
	return &Pool{
		registry:         registry,
		credentials:      credentials,
		platformDefaults: platformDefaults,
		rateLimiter:      rateLimiter,
		messages:         messages,
		transitions:      transitions,
		retryPolicy:      retryPolicy,
		bus:              b,
		logger:           logger,
		workerCfg:        workerCfg,
	}
}

// SetStatusBroadcast wires a callback invoked after a worker persists a
// status change, used by internal/handler's websocket hub.
func (p *Pool) SetStatusBroadcast(fn func(*domain.MessageLog)) {
	p.statusBroadcast = fn
}

// Start subscribes to every channel's stream and starts its worker
// goroutines.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)

	channels := []struct {
		channel domain.Channel
		count   int
	}{
		{domain.ChannelSMS, p.workerCfg.SMSCount},
		{domain.ChannelEmail, p.workerCfg.EmailCount},
		{domain.ChannelPush, p.workerCfg.PushCount},
		{domain.ChannelWhatsApp, p.workerCfg.WhatsAppCount},
	}

	for _, ch := range channels {
		if ch.count <= 0 {
			continue
		}
		if err := p.startChannel(ctx, ch.channel, ch.count); err != nil {
			return err
		}
	}

	p.logger.Info("worker pool started",
		"sms_workers", p.workerCfg.SMSCount,
		"email_workers", p.workerCfg.EmailCount,
		"push_workers", p.workerCfg.PushCount,
		"whatsapp_workers", p.workerCfg.WhatsAppCount,
	)

	return nil
}

// startChannel fans a channel's subscription out to a small internal
// goroutine pool, so the in-process concurrency the worker counts
// describe is independent of however the bus driver chooses to invoke
// the Subscribe handler.
func (p *Pool) startChannel(ctx context.Context, channel domain.Channel, workers int) error {
	deliveries := make(chan *bus.Delivery, workers*2)

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, channel, i, deliveries)
	}

	handler := func(hctx context.Context, d *bus.Delivery) {
		select {
		case deliveries <- d:
		case <-hctx.Done():
		}
	}

	return p.bus.Subscribe(ctx, channel, handler)
}

// Stop cancels every worker and waits for in-flight deliveries to finish
// acking, up to a grace period.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		p.logger.Warn("worker pool stop timed out")
	}
}

func (p *Pool) runWorker(ctx context.Context, channel domain.Channel, id int, deliveries chan *bus.Delivery) {
	defer p.wg.Done()

	logger := p.logger.With("channel", channel, "worker_id", id)
	logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			p.handleDelivery(ctx, d, logger)
		}
	}
}

func (p *Pool) broadcast(m *domain.MessageLog) {
	if p.statusBroadcast != nil {
		p.statusBroadcast(m)
	}
}
