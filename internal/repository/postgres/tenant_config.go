package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sitenotify/dispatch/internal/domain"
)

// TenantConfigRepository implements domain.TenantChannelConfigRepository.
type TenantConfigRepository struct {
	db *DB
}

// NewTenantConfigRepository creates a new TenantConfigRepository
func NewTenantConfigRepository(db *DB) *TenantConfigRepository {
	return &TenantConfigRepository{db: db}
}

// Get implements domain.TenantChannelConfigRepository. When the tenant
// has no override row for channel, domain.ErrNotFound is returned and
// the caller (internal/worker's credential resolver, through
// redis.CredentialCache) falls back to the platform-wide default
// instead of failing the send.
func (r *TenantConfigRepository) Get(ctx context.Context, site domain.SiteID, channel domain.Channel) (*domain.TenantChannelConfig, error) {
	query := `
		SELECT site_id, channel, api_key, from_addr, session, extra, updated_at
		FROM tenant_channel_configs
		WHERE site_id = $1 AND channel = $2
	`
	row := r.db.Pool.QueryRow(ctx, query, site, channel)

	cfg := &domain.TenantChannelConfig{}
	var extra []byte
	var updatedAt time.Time
	if err := row.Scan(&cfg.SiteID, &cfg.Channel, &cfg.APIKey, &cfg.FromAddr, &cfg.Session, &extra, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant channel config: %w", err)
	}
	if len(extra) > 0 {
		_ = json.Unmarshal(extra, &cfg.Extra)
	}
	cfg.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
	return cfg, nil
}

// Upsert writes or replaces a tenant's channel credentials. Not part of
// domain.TenantChannelConfigRepository (read path is what the worker
// needs); no handler in internal/handler calls it.
func (r *TenantConfigRepository) Upsert(ctx context.Context, cfg *domain.TenantChannelConfig) error {
	extra, err := json.Marshal(cfg.Extra)
	if err != nil {
		extra = []byte("{}")
	}

	query := `
		INSERT INTO tenant_channel_configs (site_id, channel, api_key, from_addr, session, extra, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (site_id, channel) DO UPDATE SET
			api_key = EXCLUDED.api_key, from_addr = EXCLUDED.from_addr,
			session = EXCLUDED.session, extra = EXCLUDED.extra, updated_at = now()
	`
	_, err = r.db.Pool.Exec(ctx, query, cfg.SiteID, cfg.Channel, cfg.APIKey, cfg.FromAddr, cfg.Session, extra)
	if err != nil {
		return fmt.Errorf("upsert tenant channel config: %w", err)
	}
	return nil
}
