package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitenotify/dispatch/internal/domain"
)

// LagReporter is the subset of bus.Bus the realtime metrics endpoint
// needs; kept as a local interface so this package never imports
// internal/bus directly.
type LagReporter interface {
	ConsumerLag(ctx context.Context, channel domain.Channel) (int64, error)
}

// LagRecorder is the subset of internal/metrics.Metrics this handler
// needs to push the gauge it reads from LagReporter.
type LagRecorder interface {
	SetConsumerLag(channel string, lag float64)
}

// MetricsHandler exposes the Prometheus scrape endpoint plus a realtime
// per-channel queue-depth summary.
type MetricsHandler struct {
	metrics  LagRecorder
	bus      LagReporter
	channels []domain.Channel
}

// NewMetricsHandler creates a new MetricsHandler. channels lists every
// channel the realtime endpoint reports lag for.
func NewMetricsHandler(metrics LagRecorder, bus LagReporter, channels []domain.Channel) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, bus: bus, channels: channels}
}

// Handler returns the Prometheus scrape handler.
func (h *MetricsHandler) Handler() http.Handler {
	return promhttp.Handler()
}

// ChannelLag is one channel's current Dispatch Bus backlog.
type ChannelLag struct {
	Channel domain.Channel `json:"channel"`
	Lag     int64          `json:"lag"`
}

// RealtimeMetrics reports per-channel JetStream consumer lag.
// @Summary Real-time queue metrics
// @Description Get per-channel Dispatch Bus consumer lag
// @Tags metrics
// @Produce json
// @Success 200 {object} Response{data=[]ChannelLag}
// @Failure 500 {object} Response
// @Router /metrics/realtime [get]
func (h *MetricsHandler) RealtimeMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make([]ChannelLag, 0, len(h.channels))
	for _, channel := range h.channels {
		lag, err := h.bus.ConsumerLag(ctx, channel)
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "METRICS_ERROR", "Failed to read consumer lag", nil)
			return
		}
		h.metrics.SetConsumerLag(string(channel), float64(lag))
		results = append(results, ChannelLag{Channel: channel, Lag: lag})
	}

	JSON(w, http.StatusOK, results)
}
