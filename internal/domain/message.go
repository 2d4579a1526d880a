package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Channel is the notification delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelPush     Channel = "push"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Priority is carried on a MessageLog as stored metadata; it never
// changes Dispatch Bus ordering guarantees (those come from the site_id
// partition key), and the worker pool does not order deliveries by it.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Status is the delivery lifecycle state of a MessageLog. See
// internal/statemachine for the transition table.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusRetrying  Status = "retrying"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusBounced   Status = "bounced"
	StatusRejected  Status = "rejected"
)

// IsTerminal reports whether no further transition out of this status is
// ever valid.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusBounced, StatusRejected:
		return true
	}
	return false
}

// HistorySource identifies who appended a MessageStatusHistory row.
type HistorySource string

const (
	SourceAPI     HistorySource = "API"
	SourceTrigger HistorySource = "TRIGGER"
	SourceWorker  HistorySource = "WORKER"
)

// MessageLog is one row per notification intent. (site_id, message_id)
// is the idempotency key and the only way rows are ever addressed.
type MessageLog struct {
	SiteID    SiteID  `json:"site_id"`
	MessageID string  `json:"message_id"`
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`

	Subject  string            `json:"subject,omitempty"`
	Body     string            `json:"body"`
	MediaURL []string          `json:"media_urls,omitempty"`
	From     string            `json:"from,omitempty"`
	Session  string            `json:"session,omitempty"`
	Caption  string            `json:"caption,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	RetryCount  int        `json:"retry_count"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewMessageLog builds a PENDING intent with a generated message_id when
// none was supplied by the caller (client-supplied IDs must survive
// unchanged to preserve idempotency).
func NewMessageLog(site SiteID, messageID string, channel Channel, recipient, body string) *MessageLog {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	now := time.Now().UTC()
	return &MessageLog{
		SiteID:    site,
		MessageID: messageID,
		Channel:   channel,
		Recipient: recipient,
		Body:      body,
		Priority:  PriorityNormal,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanCancel reports whether the message is in a non-terminal state that
// cancellation is permitted from (PENDING, SCHEDULED, RETRYING).
func (m *MessageLog) CanCancel() bool {
	switch m.Status {
	case StatusPending, StatusScheduled, StatusRetrying:
		return true
	}
	return false
}

// MessageStatusHistory is an append-only audit row. Rows are never
// updated or deleted, and are appended even for attempted-but-invalid
// transitions ("attempted reality").
type MessageStatusHistory struct {
	ID           int64         `json:"id"`
	SiteID       SiteID        `json:"site_id"`
	MessageID    string        `json:"message_id"`
	Status       Status        `json:"status"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	RetryCount   int           `json:"retry_count"`
	Source       HistorySource `json:"source"`
	Timestamp    time.Time     `json:"timestamp"`
}

// MessageFilter scopes a List query; Site is always applied by the
// repository regardless of what the caller passes.
type MessageFilter struct {
	Status    *Status
	Channel   *Channel
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	PageSize  int
}

// MessageListResult is a paginated MessageLog listing.
type MessageListResult struct {
	Messages   []*MessageLog `json:"messages"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// MessageLogRepository is the durable, tenant-scoped record of every
// notification intent and its current status. Every method takes SiteID
// explicitly and every implementation must predicate on it.
type MessageLogRepository interface {
	// Insert writes a PENDING or SCHEDULED row. If (site_id, message_id)
	// already exists the existing row is returned unmutated — idempotent
	// intake.
	Insert(ctx context.Context, m *MessageLog) (*MessageLog, bool, error)
	FindByID(ctx context.Context, site SiteID, messageID string) (*MessageLog, error)
	// UpdateStatus atomically applies newStatus as a compare-and-swap
	// against the row's current status. It does not check the move
	// against internal/statemachine's transition table; it only rejects
	// when the row changed since it was read. It returns the post-state
	// and whether the transition was accepted; on rejection the row is
	// unchanged but the caller must still append a history row
	// recording the attempt.
	UpdateStatus(ctx context.Context, site SiteID, messageID string, newStatus Status, errMsg *string, retryCount *int) (*MessageLog, bool, error)
	List(ctx context.Context, site SiteID, filter MessageFilter) (*MessageListResult, error)
	// DueScheduled claims SCHEDULED rows whose scheduled_at has passed,
	// flips them to PENDING in the same transaction, and returns them
	// in their PENDING state; the claim uses FOR UPDATE SKIP LOCKED so
	// no other scheduler instance double-promotes them.
	DueScheduled(ctx context.Context, before time.Time, limit int) ([]*MessageLog, error)
}

// HistoryRepository is the append-only audit stream writer/reader.
type HistoryRepository interface {
	Append(ctx context.Context, h *MessageStatusHistory) error
	ListByMessage(ctx context.Context, site SiteID, messageID string) ([]*MessageStatusHistory, error)
}

// StatusTransitionStore writes a status change and its history row as
// one atomic unit, so a crash between the two writes can never leave a
// status change with no corresponding history row. Every caller that
// drives MessageLog.Status — intake, the scheduler, the worker pool —
// goes through this instead of calling MessageLogRepository.UpdateStatus
// and HistoryRepository.Append separately.
type StatusTransitionStore interface {
	// UpdateStatusWithHistory appends h as the permanent audit row for
	// this transition attempt. When apply is true it also applies
	// h.Status to the MessageLog identified by h.SiteID/h.MessageID
	// via the same compare-and-swap semantics as
	// MessageLogRepository.UpdateStatus, in the same transaction as the
	// history append. When apply is false (the transition was already
	// rejected upstream, e.g. by internal/statemachine, or there is no
	// status change to make) only the history row is written.
	// retryCount follows UpdateStatus's nil-means-unchanged convention
	// for the message_logs column; it is independent of h.RetryCount,
	// which is always recorded on the history row regardless.
	UpdateStatusWithHistory(ctx context.Context, apply bool, retryCount *int, h *MessageStatusHistory) (updated *MessageLog, applied bool, err error)
}
