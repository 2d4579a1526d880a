package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sitenotify/dispatch/internal/domain"
)

// TransactionStore implements domain.StatusTransitionStore by running
// MessageLogRepository's status update and HistoryRepository's append
// inside a single transaction via DB.WithTx.
type TransactionStore struct {
	db       *DB
	messages *MessageLogRepository
	history  *HistoryRepository
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(db *DB, messages *MessageLogRepository, history *HistoryRepository) *TransactionStore {
	return &TransactionStore{db: db, messages: messages, history: history}
}

// UpdateStatusWithHistory implements domain.StatusTransitionStore.
func (s *TransactionStore) UpdateStatusWithHistory(ctx context.Context, apply bool, retryCount *int, h *domain.MessageStatusHistory) (*domain.MessageLog, bool, error) {
	var updated *domain.MessageLog
	var applied bool

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if apply {
			var err error
			updated, applied, err = s.messages.updateStatusTx(ctx, tx, h.SiteID, h.MessageID, h.Status, h.ErrorMessage, retryCount)
			if err != nil {
				return err
			}
		}
		return s.history.appendTx(ctx, tx, h)
	})
	if err != nil {
		return nil, false, fmt.Errorf("update status with history: %w", err)
	}
	return updated, applied, nil
}
