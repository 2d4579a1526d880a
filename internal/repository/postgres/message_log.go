package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sitenotify/dispatch/internal/domain"
)

// MessageLogRepository implements domain.MessageLogRepository using PostgreSQL.
// Every query is predicated on site_id — callers never get rows outside
// their own tenant.
type MessageLogRepository struct {
	db *DB
}

// NewMessageLogRepository creates a new MessageLogRepository
func NewMessageLogRepository(db *DB) *MessageLogRepository {
	return &MessageLogRepository{db: db}
}

// Insert implements domain.MessageLogRepository. A (site_id, message_id)
// collision is not an error: the existing row is fetched and returned
// with ok=false so intake stays idempotent.
func (r *MessageLogRepository) Insert(ctx context.Context, m *domain.MessageLog) (*domain.MessageLog, bool, error) {
	mediaURLs, err := json.Marshal(m.MediaURL)
	if err != nil {
		mediaURLs = []byte("[]")
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	query := `
		INSERT INTO message_logs (
			site_id, message_id, channel, recipient, subject, body, media_urls,
			from_addr, session, caption, metadata, priority, status,
			retry_count, scheduled_at, last_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
	`

	_, err = r.db.Pool.Exec(ctx, query,
		m.SiteID, m.MessageID, m.Channel, m.Recipient, m.Subject, m.Body, mediaURLs,
		m.From, m.Session, m.Caption, metadata, m.Priority, m.Status,
		m.RetryCount, m.ScheduledAt, m.LastError, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			existing, findErr := r.FindByID(ctx, m.SiteID, m.MessageID)
			if findErr != nil {
				return nil, false, fmt.Errorf("load existing message after conflict: %w", findErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert message log: %w", err)
	}

	return m, true, nil
}

// FindByID implements domain.MessageLogRepository.
func (r *MessageLogRepository) FindByID(ctx context.Context, site domain.SiteID, messageID string) (*domain.MessageLog, error) {
	return r.findByID(ctx, r.db.Pool, site, messageID)
}

func (r *MessageLogRepository) findByID(ctx context.Context, q querier, site domain.SiteID, messageID string) (*domain.MessageLog, error) {
	query := `
		SELECT site_id, message_id, channel, recipient, subject, body, media_urls,
			from_addr, session, caption, metadata, priority, status,
			retry_count, scheduled_at, last_error, created_at, updated_at
		FROM message_logs
		WHERE site_id = $1 AND message_id = $2
	`
	return r.scan(ctx, q, query, site, messageID)
}

// UpdateStatus implements domain.MessageLogRepository. The WHERE clause
// also matches the row's current status so the UPDATE is a compare-and-swap:
// if another worker already moved the row, RowsAffected is 0 and the
// caller is told the transition was rejected without a second read.
func (r *MessageLogRepository) UpdateStatus(ctx context.Context, site domain.SiteID, messageID string, newStatus domain.Status, errMsg *string, retryCount *int) (*domain.MessageLog, bool, error) {
	return r.updateStatusWith(ctx, r.db.Pool, site, messageID, newStatus, errMsg, retryCount)
}

// updateStatusTx is the same compare-and-swap as UpdateStatus but runs
// against an open transaction, so TransactionStore can commit it
// alongside a history append.
func (r *MessageLogRepository) updateStatusTx(ctx context.Context, tx pgx.Tx, site domain.SiteID, messageID string, newStatus domain.Status, errMsg *string, retryCount *int) (*domain.MessageLog, bool, error) {
	return r.updateStatusWith(ctx, tx, site, messageID, newStatus, errMsg, retryCount)
}

func (r *MessageLogRepository) updateStatusWith(ctx context.Context, q querier, site domain.SiteID, messageID string, newStatus domain.Status, errMsg *string, retryCount *int) (*domain.MessageLog, bool, error) {
	current, err := r.findByID(ctx, q, site, messageID)
	if err != nil {
		return nil, false, err
	}

	query := `
		UPDATE message_logs SET
			status = $4, last_error = COALESCE($5, last_error),
			retry_count = COALESCE($6, retry_count), updated_at = now()
		WHERE site_id = $1 AND message_id = $2 AND status = $3
	`
	result, err := q.Exec(ctx, query, site, messageID, current.Status, newStatus, errMsg, retryCount)
	if err != nil {
		return nil, false, fmt.Errorf("update message status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return current, false, nil
	}

	updated, err := r.findByID(ctx, q, site, messageID)
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

// List implements domain.MessageLogRepository.
func (r *MessageLogRepository) List(ctx context.Context, site domain.SiteID, filter domain.MessageFilter) (*domain.MessageListResult, error) {
	conditions := []string{"site_id = $1"}
	args := []any{site}
	argIndex := 2

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Channel != nil {
		conditions = append(conditions, fmt.Sprintf("channel = $%d", argIndex))
		args = append(args, *filter.Channel)
		argIndex++
	}
	if filter.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.StartDate)
		argIndex++
	}
	if filter.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, *filter.EndDate)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM message_logs WHERE %s", whereClause)
	var total int64
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count message logs: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`
		SELECT site_id, message_id, channel, recipient, subject, body, media_urls,
			from_addr, session, caption, metadata, priority, status,
			retry_count, scheduled_at, last_error, created_at, updated_at
		FROM message_logs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)

	args = append(args, pageSize, offset)
	messages, err := r.scanAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &domain.MessageListResult{
		Messages:   messages,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// DueScheduled implements domain.MessageLogRepository using
// SELECT ... FOR UPDATE SKIP LOCKED so two scheduler shards never
// double-promote the same row.
func (r *MessageLogRepository) DueScheduled(ctx context.Context, before time.Time, limit int) ([]*domain.MessageLog, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin due-scheduled tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT site_id, message_id, channel, recipient, subject, body, media_urls,
			from_addr, session, caption, metadata, priority, status,
			retry_count, scheduled_at, last_error, created_at, updated_at
		FROM message_logs
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query due scheduled: %w", err)
	}

	messages := make([]*domain.MessageLog, 0)
	for rows.Next() {
		m, err := scanRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due scheduled: %w", err)
	}

	ids := make([][2]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, [2]string{string(m.SiteID), m.MessageID})
	}
	for _, id := range ids {
		if _, err := tx.Exec(ctx, `UPDATE message_logs SET status = 'pending', updated_at = now() WHERE site_id = $1 AND message_id = $2`, id[0], id[1]); err != nil {
			return nil, fmt.Errorf("claim due scheduled row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit due-scheduled claim: %w", err)
	}

	for _, m := range messages {
		m.Status = domain.StatusPending
	}
	return messages, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRow(row scannable) (*domain.MessageLog, error) {
	m := &domain.MessageLog{}
	var mediaURLs, metadata []byte

	err := row.Scan(
		&m.SiteID, &m.MessageID, &m.Channel, &m.Recipient, &m.Subject, &m.Body, &mediaURLs,
		&m.From, &m.Session, &m.Caption, &metadata, &m.Priority, &m.Status,
		&m.RetryCount, &m.ScheduledAt, &m.LastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(mediaURLs) > 0 {
		_ = json.Unmarshal(mediaURLs, &m.MediaURL)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &m.Metadata)
	}
	return m, nil
}

func (r *MessageLogRepository) scan(ctx context.Context, q querier, query string, args ...any) (*domain.MessageLog, error) {
	row := q.QueryRow(ctx, query, args...)
	m, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan message log: %w", err)
	}
	return m, nil
}

func (r *MessageLogRepository) scanAll(ctx context.Context, query string, args ...any) ([]*domain.MessageLog, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message logs: %w", err)
	}
	defer rows.Close()

	messages := make([]*domain.MessageLog, 0)
	for rows.Next() {
		m, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message log: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message logs: %w", err)
	}
	return messages, nil
}
