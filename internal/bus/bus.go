// Package bus implements the Dispatch Bus: one durable stream plus one
// dead-letter subject per channel, at-least-once delivery, ordered per
// site_id. internal/worker consumes from it; internal/service
// publishes to it after intake persists a MessageLog row.
package bus

import (
	"context"
	"time"

	"github.com/sitenotify/dispatch/internal/domain"
)

// Delivery wraps one dequeued DeliveryJob with the ack/nak/term controls
// of the underlying transport, so internal/worker never imports NATS
// directly.
type Delivery struct {
	Job     domain.DeliveryJob
	Attempt int

	ackFn  func() error
	nakFn  func(delay time.Duration) error
	termFn func() error
}

// NewDelivery is exported for tests that need to fake a Delivery without
// a real bus connection.
func NewDelivery(job domain.DeliveryJob, attempt int, ack func() error, nak func(time.Duration) error, term func() error) *Delivery {
	return &Delivery{Job: job, Attempt: attempt, ackFn: ack, nakFn: nak, termFn: term}
}

// Ack confirms successful processing; the bus will not redeliver.
func (d *Delivery) Ack() error { return d.ackFn() }

// Nak requests redelivery after delay (used when the retry policy says
// to try again).
func (d *Delivery) Nak(delay time.Duration) error { return d.nakFn(delay) }

// Term permanently drops the message from the stream without
// redelivery — used once a job has been handed to the DLQ or is
// unrecoverably malformed.
func (d *Delivery) Term() error { return d.termFn() }

// Handler processes one Delivery. The Delivery must eventually be
// Acked, Nakked, or Termed; the handler may hand it to another
// goroutine to do so and return first.
type Handler func(ctx context.Context, d *Delivery)

// Bus is the Dispatch Bus contract.
type Bus interface {
	// Publish enqueues a job onto the channel's stream, partitioned by
	// job.SiteID so per-tenant ordering is preserved. Publishing is
	// deduplicated on (site_id, message_id, attempt) so a retried
	// publish after an ambiguous failure never double-delivers.
	Publish(ctx context.Context, job domain.DeliveryJob) error
	// PublishDLQ moves a job to its channel's dead-letter subject once
	// the retry policy stops retrying it (ceiling reached or a
	// non-retryable failure).
	PublishDLQ(ctx context.Context, job domain.DeliveryJob, reason string) error
	// Subscribe starts consuming channel's stream with handler in the
	// background and returns once the consumer is running; consumption
	// stops when ctx is cancelled.
	Subscribe(ctx context.Context, channel domain.Channel, handler Handler) error
	// ConsumerLag reports how many messages are pending delivery to
	// channel's consumer — the queue-depth signal the metrics endpoint
	// surfaces per channel.
	ConsumerLag(ctx context.Context, channel domain.Channel) (int64, error)
	Close() error
}
