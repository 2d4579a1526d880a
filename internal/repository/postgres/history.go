package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sitenotify/dispatch/internal/domain"
)

// HistoryRepository implements domain.HistoryRepository. Rows are
// append-only: there is no Update or Delete here, by design — every
// attempted transition, valid or not, becomes a permanent row.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new HistoryRepository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append implements domain.HistoryRepository.
func (r *HistoryRepository) Append(ctx context.Context, h *domain.MessageStatusHistory) error {
	return r.appendWith(ctx, r.db.Pool, h)
}

// appendTx is the same insert as Append but runs against an open
// transaction, so TransactionStore can commit it alongside a status
// update.
func (r *HistoryRepository) appendTx(ctx context.Context, tx pgx.Tx, h *domain.MessageStatusHistory) error {
	return r.appendWith(ctx, tx, h)
}

func (r *HistoryRepository) appendWith(ctx context.Context, q querier, h *domain.MessageStatusHistory) error {
	query := `
		INSERT INTO message_status_history (site_id, message_id, status, error_message, retry_count, source, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query, h.SiteID, h.MessageID, h.Status, h.ErrorMessage, h.RetryCount, h.Source, h.Timestamp)
	if err != nil {
		return fmt.Errorf("append message status history: %w", err)
	}
	return nil
}

// ListByMessage implements domain.HistoryRepository.
func (r *HistoryRepository) ListByMessage(ctx context.Context, site domain.SiteID, messageID string) ([]*domain.MessageStatusHistory, error) {
	query := `
		SELECT id, site_id, message_id, status, error_message, retry_count, source, timestamp
		FROM message_status_history
		WHERE site_id = $1 AND message_id = $2
		ORDER BY timestamp ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, site, messageID)
	if err != nil {
		return nil, fmt.Errorf("query message status history: %w", err)
	}
	defer rows.Close()

	history := make([]*domain.MessageStatusHistory, 0)
	for rows.Next() {
		h := &domain.MessageStatusHistory{}
		if err := rows.Scan(&h.ID, &h.SiteID, &h.MessageID, &h.Status, &h.ErrorMessage, &h.RetryCount, &h.Source, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message status history: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message status history: %w", err)
	}
	return history, nil
}
