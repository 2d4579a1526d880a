package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitenotify/dispatch/internal/domain"
)

func TestWebhookAdapter_Send_Accepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message_id":"prov-1","status":"accepted"}`))
	}))
	defer srv.Close()

	a := NewWebhookAdapter(domain.ChannelEmail, srv.URL, 2*time.Second)
	result, err := a.Send(context.Background(), domain.SiteCredentials{APIKey: "k"}, domain.NormalizedRequest{Recipient: "a@x.io", Body: "hi"})

	require.NoError(t, err)
	assert.Equal(t, domain.ResultAccepted, result.Status)
	assert.Equal(t, "prov-1", result.ProviderMsgID)
}

func TestWebhookAdapter_Send_ClassifiesAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	a := NewWebhookAdapter(domain.ChannelEmail, srv.URL, 2*time.Second)
	result, err := a.Send(context.Background(), domain.SiteCredentials{}, domain.NormalizedRequest{Recipient: "a@x.io", Body: "hi"})

	require.NoError(t, err)
	assert.Equal(t, domain.ResultFailure, result.Status)
	assert.Equal(t, domain.ClassificationAuth, result.Classification)
}

func TestWebhookAdapter_Send_ClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewWebhookAdapter(domain.ChannelSMS, srv.URL, 2*time.Second)
	result, err := a.Send(context.Background(), domain.SiteCredentials{}, domain.NormalizedRequest{Recipient: "+1", Body: "hi"})

	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationRateLimit, result.Classification)
}

func TestWebhookAdapter_Send_ClassifiesServerErrorAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewWebhookAdapter(domain.ChannelPush, srv.URL, 2*time.Second)
	result, err := a.Send(context.Background(), domain.SiteCredentials{}, domain.NormalizedRequest{Recipient: "dev-1", Body: "hi"})

	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationTransient, result.Classification)
}

func TestWebhookAdapter_Send_ClassifiesOtherClientErrorAsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewWebhookAdapter(domain.ChannelWhatsApp, srv.URL, 2*time.Second)
	result, err := a.Send(context.Background(), domain.SiteCredentials{}, domain.NormalizedRequest{Recipient: "+1", Body: "hi"})

	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationPermanent, result.Classification)
}

func TestRegistry_GetMissingChannel(t *testing.T) {
	r := NewRegistry(map[domain.Channel]domain.ChannelAdapter{})
	_, err := r.Get(domain.ChannelEmail)
	assert.Error(t, err)
}
