package redis

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sitenotify/dispatch/internal/config"
	"github.com/sitenotify/dispatch/internal/domain"
)

const sessionKeyPrefix = "session:"

// SessionStore implements tenant.SessionResolver and
// tenant.AdminKeyValidator against Redis. A session is nothing more than
// an opaque random token mapped to the site_id it was issued for; there
// is no user identity here, only tenant identity — site is the
// principal.
type SessionStore struct {
	client   *Client
	adminKey string
	ttl      time.Duration
}

// NewSessionStore creates a new SessionStore. adminKey is the platform
// admin key from config.AdminConfig; an empty adminKey rejects every
// admin-key request, disabling the admin surface entirely.
func NewSessionStore(client *Client, admin config.AdminConfig, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, adminKey: admin.Key, ttl: ttl}
}

// Create issues a new session token for site and returns it. Callers
// (an onboarding/login handler) set it as the sitenotify_session cookie.
func (s *SessionStore) Create(ctx context.Context, site domain.SiteID) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}

	if err := s.client.client.Set(ctx, sessionKeyPrefix+token, string(site), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	return token, nil
}

// ResolveSession implements tenant.SessionResolver.
func (s *SessionStore) ResolveSession(ctx context.Context, token string) (domain.SiteID, error) {
	site, err := s.client.client.Get(ctx, sessionKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", domain.ErrUnauthenticated
		}
		return "", fmt.Errorf("resolve session: %w", err)
	}
	return domain.SiteID(site), nil
}

// Revoke invalidates a session token immediately (logout).
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	return s.client.client.Del(ctx, sessionKeyPrefix+token).Err()
}

// ValidateAdminKey implements tenant.AdminKeyValidator.
func (s *SessionStore) ValidateAdminKey(ctx context.Context, key string) bool {
	if s.adminKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) == 1
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
