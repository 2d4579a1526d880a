package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/sitenotify/dispatch/internal/config"
	"github.com/sitenotify/dispatch/internal/domain"
)

// NATSBus is the JetStream-backed Dispatch Bus. One stream
// "<prefix>_<channel>" holds subjects "<prefix>.<channel>.<site_id>";
// DLQ entries land on "<prefix>.<channel>.<dlqSuffix>".
type NATSBus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    config.BusConfig
	logger *slog.Logger

	consumeCancels []context.CancelFunc
}

// Connect dials NATS and ensures one stream per channel exists.
func Connect(ctx context.Context, cfg config.BusConfig, channels []domain.Channel, logger *slog.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(cfg.URL, nats.Timeout(cfg.ConnectTimeout), nats.RetryOnFailedConnect(true))
	if err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	b := &NATSBus{nc: nc, js: js, cfg: cfg, logger: logger}
	for _, ch := range channels {
		if err := b.ensureStream(ctx, ch); err != nil {
			nc.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *NATSBus) streamName(channel domain.Channel) string {
	return fmt.Sprintf("%s_%s", b.cfg.StreamPrefix, channel)
}

func (b *NATSBus) subject(channel domain.Channel, site domain.SiteID) string {
	return fmt.Sprintf("%s.%s.%s", b.cfg.StreamPrefix, channel, site)
}

func (b *NATSBus) dlqSubject(channel domain.Channel) string {
	return fmt.Sprintf("%s.%s.%s", b.cfg.StreamPrefix, channel, b.cfg.DLQSuffix)
}

func (b *NATSBus) ensureStream(ctx context.Context, channel domain.Channel) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      b.streamName(channel),
		Subjects:  []string{fmt.Sprintf("%s.%s.*", b.cfg.StreamPrefix, channel)},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("ensure stream for channel %s: %w", channel, err)
	}
	return nil
}

// Publish implements Bus.
func (b *NATSBus) Publish(ctx context.Context, job domain.DeliveryJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal delivery job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	msgID := fmt.Sprintf("%s:%s:%d", job.SiteID, job.MessageID, job.Attempt)
	_, err = b.js.Publish(ctx, b.subject(job.Channel, job.SiteID), data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("publish to bus: %w", err)
	}
	return nil
}

// PublishDLQ implements Bus.
func (b *NATSBus) PublishDLQ(ctx context.Context, job domain.DeliveryJob, reason string) error {
	entry := dlqEntry{Job: job, Reason: reason, FailedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	msgID := fmt.Sprintf("dlq:%s:%s", job.SiteID, job.MessageID)
	_, err = b.js.Publish(ctx, b.dlqSubject(job.Channel), data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

type dlqEntry struct {
	Job      domain.DeliveryJob `json:"job"`
	Reason   string             `json:"reason"`
	FailedAt time.Time          `json:"failed_at"`
}

// Subscribe implements Bus. One durable pull consumer per channel,
// filtered to that channel's stream subjects; since every site_id's
// subject falls under the one channel stream and a single consumer
// processes them in stream order, per-tenant ordering falls out of
// JetStream's normal guarantees without needing per-site consumers.
func (b *NATSBus) Subscribe(ctx context.Context, channel domain.Channel, handler Handler) error {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.streamName(channel), jetstream.ConsumerConfig{
		Durable:       fmt.Sprintf("%s-worker", channel),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.cfg.AckWait,
		MaxDeliver:    b.cfg.MaxDeliver,
		FilterSubject: fmt.Sprintf("%s.%s.*", b.cfg.StreamPrefix, channel),
	})
	if err != nil {
		return fmt.Errorf("ensure consumer for channel %s: %w", channel, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		b.handleMsg(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("start consume for channel %s: %w", channel, err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Stop()
	}()

	return nil
}

func (b *NATSBus) handleMsg(ctx context.Context, msg jetstream.Msg, handler Handler) {
	var job domain.DeliveryJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		b.logger.Error("malformed delivery job, terminating", "error", err)
		_ = msg.Term()
		return
	}

	attempt := job.Attempt
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	delivery := NewDelivery(job, attempt,
		func() error { return msg.Ack() },
		func(delay time.Duration) error { return msg.NakWithDelay(delay) },
		func() error { return msg.Term() },
	)
	handler(ctx, delivery)
}

// ConsumerLag implements Bus, reporting the channel worker consumer's
// pending message count directly from JetStream consumer info.
func (b *NATSBus) ConsumerLag(ctx context.Context, channel domain.Channel) (int64, error) {
	consumer, err := b.js.Consumer(ctx, b.streamName(channel), fmt.Sprintf("%s-worker", channel))
	if err != nil {
		return 0, fmt.Errorf("load consumer for channel %s: %w", channel, err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("load consumer info for channel %s: %w", channel, err)
	}

	return int64(info.NumPending), nil
}

// Close drains the connection.
func (b *NATSBus) Close() error {
	b.nc.Close()
	return nil
}
