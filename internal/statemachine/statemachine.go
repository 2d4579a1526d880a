// Package statemachine implements the delivery lifecycle transition
// table: PENDING → SENT / FAILED / REJECTED / RETRYING, SCHEDULED →
// PENDING / REJECTED, RETRYING → SENT / FAILED / REJECTED / RETRYING,
// SENT → DELIVERED / BOUNCED / FAILED, and four terminal states. Any
// other pre→post pair is invalid: MessageLog.status must not change,
// but the caller still appends a history row recording the attempt.
package statemachine

import "github.com/sitenotify/dispatch/internal/domain"

var allowed = map[domain.Status]map[domain.Status]bool{
	domain.StatusPending: {
		domain.StatusSent:     true,
		domain.StatusFailed:   true,
		domain.StatusRejected: true,
		domain.StatusRetrying: true,
	},
	domain.StatusScheduled: {
		domain.StatusPending:  true,
		domain.StatusRejected: true,
	},
	domain.StatusRetrying: {
		domain.StatusSent:     true,
		domain.StatusFailed:   true,
		domain.StatusRejected: true,
		domain.StatusRetrying: true,
	},
	domain.StatusSent: {
		domain.StatusDelivered: true,
		domain.StatusBounced:   true,
		domain.StatusFailed:    true,
	},
}

// IsValid reports whether transitioning from a message's current status
// to next is an allowed move in the delivery lifecycle.
func IsValid(from, next domain.Status) bool {
	targets, ok := allowed[from]
	if !ok {
		return false
	}
	return targets[next]
}
