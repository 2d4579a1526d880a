package domain

import "context"

// ResultStatus is the outcome of a channel adapter send attempt.
type ResultStatus string

const (
	ResultAccepted      ResultStatus = "ACCEPTED"
	ResultDeliveredSync ResultStatus = "DELIVERED_SYNC"
	ResultFailure       ResultStatus = "FAILURE"
)

// Classification categorizes a FAILURE result for the retry orchestrator.
// AUTH is always PERMANENT but kept distinct so the classifier can
// enforce the hard no-retry rule regardless of HTTP code ambiguity.
type Classification string

const (
	ClassificationPermanent Classification = "PERMANENT"
	ClassificationRateLimit Classification = "RATE_LIMIT"
	ClassificationTransient Classification = "TRANSIENT"
	ClassificationAuth      Classification = "AUTH"
)

// NormalizedRequest is the provider-agnostic request a channel adapter
// receives. Adapters translate it into the specific provider call.
type NormalizedRequest struct {
	Recipient string
	Subject   string
	Body      string
	MediaURL  []string
	From      string
	Session   string
	Caption   string
	Metadata  map[string]string
}

// NormalizedResult is the provider-agnostic response every channel
// adapter must return. No adapter leaks provider-specific error types
// upward.
type NormalizedResult struct {
	Status         ResultStatus
	ProviderMsgID  string
	Classification Classification
	Code           string
	Message        string
}

// SiteCredentials are the per-tenant provider credentials resolved at
// send time from TenantChannelConfig; they are never embedded in the bus
// payload.
type SiteCredentials struct {
	SiteID     SiteID
	Channel    Channel
	APIKey     string
	FromAddr   string
	Session    string
	Extra      map[string]string
	IsPlatform bool // true when this is the platform-wide default, not a tenant override
}

// ChannelAdapter sends a NormalizedRequest through a specific provider.
type ChannelAdapter interface {
	Send(ctx context.Context, creds SiteCredentials, req NormalizedRequest) (*NormalizedResult, error)
}

// TenantChannelConfig holds per-site provider credentials. Resolved
// lazily by the worker at send time and cached briefly (see
// internal/repository/redis credential cache); falls back to a
// platform-wide default when the tenant has none configured.
type TenantChannelConfig struct {
	SiteID    SiteID
	Channel   Channel
	APIKey    string
	FromAddr  string
	Session   string
	Extra     map[string]string
	UpdatedAt string
}

// TenantChannelConfigRepository resolves per-tenant provider credentials.
type TenantChannelConfigRepository interface {
	Get(ctx context.Context, site SiteID, channel Channel) (*TenantChannelConfig, error)
}

// RateLimiter enforces a per-site, per-channel send budget so one
// tenant's volume cannot starve another's share of a shared provider
// connection. Allow reports whether the caller may send now; it never
// blocks.
type RateLimiter interface {
	Allow(ctx context.Context, site SiteID, channel Channel) (bool, error)
}
