// Package retry turns a channel adapter's failure Classification into
// a retry/give-up decision and the backoff delay to wait before the
// next attempt. AUTH and PERMANENT never retry — AUTH is a hard rule
// regardless of how many attempts remain.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/sitenotify/dispatch/internal/config"
	"github.com/sitenotify/dispatch/internal/domain"
)

// Decision is the outcome of evaluating one failed delivery attempt.
type Decision struct {
	Retry     bool
	Delay     time.Duration
	Exhausted bool // true when Retry is false solely due to the attempt ceiling
}

// Policy holds the backoff curve per classification and the per-channel
// attempt ceiling.
type Policy struct {
	maxAttempts        map[domain.Channel]int
	defaultMaxAttempts int

	rateLimitBase time.Duration
	rateLimitCap  time.Duration
	transientBase time.Duration
	transientCap  time.Duration
}

// NewPolicy builds a Policy from configuration. Channels absent from
// cfg.MaxAttempts fall back to cfg.DefaultMaxAttempts.
func NewPolicy(cfg config.RetryConfig) *Policy {
	max := make(map[domain.Channel]int, len(cfg.MaxAttempts))
	for ch, n := range cfg.MaxAttempts {
		max[ch] = n
	}
	return &Policy{
		maxAttempts:        max,
		defaultMaxAttempts: cfg.DefaultMaxAttempts,
		rateLimitBase:      cfg.RateLimitBackoffBase,
		rateLimitCap:       cfg.RateLimitBackoffCap,
		transientBase:      cfg.TransientBackoffBase,
		transientCap:       cfg.TransientBackoffCap,
	}
}

// MaxAttemptsFor returns the attempt ceiling for a channel.
func (p *Policy) MaxAttemptsFor(channel domain.Channel) int {
	if n, ok := p.maxAttempts[channel]; ok {
		return n
	}
	return p.defaultMaxAttempts
}

// Evaluate decides whether attempt (1-indexed, the attempt that just
// failed with classification) should be retried for channel, and if so
// after what delay.
func (p *Policy) Evaluate(classification domain.Classification, channel domain.Channel, attempt int) Decision {
	switch classification {
	case domain.ClassificationPermanent, domain.ClassificationAuth:
		return Decision{Retry: false}
	case domain.ClassificationRateLimit:
		return p.evaluateWithCurve(channel, attempt, p.rateLimitBase, p.rateLimitCap)
	case domain.ClassificationTransient:
		return p.evaluateWithCurve(channel, attempt, p.transientBase, p.transientCap)
	default:
		return Decision{Retry: false}
	}
}

func (p *Policy) evaluateWithCurve(channel domain.Channel, attempt int, base, cap time.Duration) Decision {
	if attempt >= p.MaxAttemptsFor(channel) {
		return Decision{Retry: false, Exhausted: true}
	}
	return Decision{Retry: true, Delay: jitter(backoff(base, cap, attempt))}
}

// backoff computes base * 2^(attempt-1), capped at cap.
func backoff(base, cap time.Duration, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * multiplier)
	if delay > cap {
		delay = cap
	}
	if delay < 0 {
		delay = cap
	}
	return delay
}

// jitter applies full jitter: a uniformly random delay in [0, d]. This
// spreads retries across a shard instead of thundering back on the
// provider at the same instant.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}
