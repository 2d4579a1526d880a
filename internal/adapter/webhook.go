// Package adapter sends a domain.NormalizedRequest to a provider and
// turns the HTTP outcome into a domain.NormalizedResult with a
// Classification the retry orchestrator (internal/retry) can act on.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sitenotify/dispatch/internal/domain"
)

// WebhookAdapter generalizes the single webhook.site integration into a
// per-channel provider call: every channel posts the same envelope
// shape to its own endpoint, and credentials travel as headers rather
// than being baked into the client.
type WebhookAdapter struct {
	client   *http.Client
	endpoint string
	channel  domain.Channel
}

// NewWebhookAdapter builds an adapter posting to endpoint with timeout,
// for the named channel (sent in the request payload and used in the
// fallback provider message id — the endpoint itself determines where
// the request goes).
func NewWebhookAdapter(channel domain.Channel, endpoint string, timeout time.Duration) *WebhookAdapter {
	return &WebhookAdapter{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		channel:  channel,
	}
}

type webhookPayload struct {
	Channel   domain.Channel    `json:"channel"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body"`
	MediaURL  []string          `json:"media_urls,omitempty"`
	From      string            `json:"from,omitempty"`
	Session   string            `json:"session,omitempty"`
	Caption   string            `json:"caption,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type webhookResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Send implements domain.ChannelAdapter.
func (a *WebhookAdapter) Send(ctx context.Context, creds domain.SiteCredentials, req domain.NormalizedRequest) (*domain.NormalizedResult, error) {
	body, err := json.Marshal(webhookPayload{
		Channel:   a.channel,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
		MediaURL:  req.MediaURL,
		From:      req.From,
		Session:   req.Session,
		Caption:   req.Caption,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal adapter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build adapter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if creds.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}
	if creds.Session != "" {
		httpReq.Header.Set("X-Session", creds.Session)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return &domain.NormalizedResult{
			Status:         domain.ResultFailure,
			Classification: domain.ClassificationTransient,
			Message:        err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.NormalizedResult{
			Status:         domain.ResultFailure,
			Classification: domain.ClassificationTransient,
			Message:        fmt.Sprintf("read response body: %v", err),
		}, nil
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return &domain.NormalizedResult{
			Status:         domain.ResultFailure,
			Classification: classify(resp.StatusCode),
			Code:           fmt.Sprintf("%d", resp.StatusCode),
			Message:        string(respBody),
		}, nil
	}

	var parsed webhookResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.MessageID == "" {
		parsed.MessageID = fmt.Sprintf("%s-%d", a.channel, time.Now().UnixNano())
	}

	return &domain.NormalizedResult{
		Status:        domain.ResultAccepted,
		ProviderMsgID: parsed.MessageID,
	}, nil
}

// classify maps an HTTP status code to a retry Classification. 401/403
// are AUTH (hard no-retry regardless of caller wishes); 429 is
// RATE_LIMIT; other 5xx is TRANSIENT; everything else 4xx is PERMANENT.
func classify(statusCode int) domain.Classification {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.ClassificationAuth
	case statusCode == http.StatusTooManyRequests:
		return domain.ClassificationRateLimit
	case statusCode >= 500:
		return domain.ClassificationTransient
	default:
		return domain.ClassificationPermanent
	}
}
