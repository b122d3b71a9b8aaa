// Package middleware provides the HTTP middleware shared by the recommender
// and analytics services: request IDs, Prometheus metrics, timeouts, CORS
// and per-client rate limiting.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/metrics"
)

// routes are the path labels Metrics reports. Anything else is "other", so
// scanners probing random URLs cannot grow label cardinality.
var routes = map[string]struct{}{
	"/api/recommend":           {},
	"/api/health":              {},
	"/api/stats":               {},
	"/api/v1/tables":           {},
	"/api/v1/cache/stats":      {},
	"/api/v1/cache/invalidate": {},
	"/api/v1/analytics":        {},
	"/health/live":             {},
	"/health/ready":            {},
	"/metrics":                 {},
}

const analyticsTopPrefix = "/api/v1/analytics/top/"

// Metrics records request count, latency and the in-flight gauge per route.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.statusCode())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// responseRecorder remembers the first status written. Unwrap lets
// http.ResponseController reach the underlying writer.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.status == 0 {
		rr.status = code
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

func (rr *responseRecorder) statusCode() int {
	if rr.status == 0 {
		return http.StatusOK
	}
	return rr.status
}

func routeLabel(path string) string {
	path = strings.TrimSuffix(path, "/")
	if _, ok := routes[path]; ok {
		return path
	}
	if strings.HasPrefix(path, analyticsTopPrefix) {
		return analyticsTopPrefix + "{kind}"
	}
	return "other"
}
