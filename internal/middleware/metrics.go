package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// RequestRecorder is the subset of internal/metrics.Metrics this
// middleware needs; kept as a local interface so middleware never
// imports internal/metrics directly.
type RequestRecorder interface {
	RecordRequest(method, path, status string, duration time.Duration)
}

// Metrics returns a middleware that records every request's method,
// path, status, and duration.
func Metrics(m RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(r.Method, r.URL.Path, strconv.Itoa(wrapped.status), time.Since(start))
		})
	}
}
