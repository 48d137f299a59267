// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-platid.
//
// go-platid is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	// Protocol identifiers
	ProtocolTCP  = "tcp"
	ProtocolHTTP = "http"

	// routeUnmatched labels requests no chi route matched
	routeUnmatched = "unmatched"
)

// HTTPMiddleware records status server requests by chi route pattern so
// unknown paths do not create new series.
//
//	r := chi.NewRouter()
//	r.Use(metrics.HTTPMiddleware)
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !enabled.Load() {
			next.ServeHTTP(w, r)
			return
		}

		IncrementActiveConnections(ProtocolHTTP)
		defer DecrementActiveConnections(ProtocolHTTP)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		RecordHTTPRequest(routePattern(r), strconv.Itoa(rec.status()), time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return routeUnmatched
}

// statusRecorder remembers the first status code written
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.code == 0 {
		sr.code = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.code == 0 {
		sr.code = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) status() int {
	if sr.code == 0 {
		return http.StatusOK
	}
	return sr.code
}

// ConnectionTracker accounts for one open connection in the active
// connection gauge and observes its lifetime when it closes.
//
//	tracker := metrics.NewConnectionTracker(metrics.ProtocolTCP)
//	defer tracker.Close()
type ConnectionTracker struct {
	protocol string
	opened   time.Time
}

// NewConnectionTracker increments the gauge for protocol
func NewConnectionTracker(protocol string) *ConnectionTracker {
	IncrementActiveConnections(protocol)
	return &ConnectionTracker{protocol: protocol, opened: time.Now()}
}

// Close decrements the gauge and records the connection duration. Call it
// exactly once.
func (ct *ConnectionTracker) Close() {
	DecrementActiveConnections(ct.protocol)
	if enabled.Load() {
		ConnectionDuration.WithLabelValues(ct.protocol).Observe(ct.Duration().Seconds())
	}
}

// Duration returns the time since the connection opened
func (ct *ConnectionTracker) Duration() time.Duration {
	return time.Since(ct.opened)
}
