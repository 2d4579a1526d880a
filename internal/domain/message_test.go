package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannel_IsValid(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		want    bool
	}{
		{"valid email", ChannelEmail, true},
		{"valid whatsapp", ChannelWhatsApp, true},
		{"valid sms", ChannelSMS, true},
		{"valid push", ChannelPush, true},
		{"invalid channel", Channel("invalid"), false},
		{"empty channel", Channel(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.channel.IsValid())
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"pending", StatusPending, false},
		{"scheduled", StatusScheduled, false},
		{"retrying", StatusRetrying, false},
		{"sent", StatusSent, false},
		{"delivered", StatusDelivered, true},
		{"failed", StatusFailed, true},
		{"bounced", StatusBounced, true},
		{"rejected", StatusRejected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestNewMessageLog_GeneratesIDWhenAbsent(t *testing.T) {
	m := NewMessageLog("site-1", "", ChannelEmail, "a@x.io", "hello")

	assert.NotEmpty(t, m.MessageID)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, SiteID("site-1"), m.SiteID)
}

func TestNewMessageLog_KeepsClientSuppliedID(t *testing.T) {
	m := NewMessageLog("site-1", "m1", ChannelEmail, "a@x.io", "hello")

	assert.Equal(t, "m1", m.MessageID)
}

func TestMessageLog_CanCancel(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"pending cancellable", StatusPending, true},
		{"scheduled cancellable", StatusScheduled, true},
		{"retrying cancellable", StatusRetrying, true},
		{"sent not cancellable", StatusSent, false},
		{"delivered not cancellable", StatusDelivered, false},
		{"failed not cancellable", StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MessageLog{Status: tt.status}
			assert.Equal(t, tt.want, m.CanCancel())
		})
	}
}
