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

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jeremyhahn/go-platid/pkg/health"
	"github.com/jeremyhahn/go-platid/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheckResponse is the body of every health endpoint
type HealthCheckResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Version string               `json:"version,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
}

// statusRouter configures the status HTTP routes. /metrics is mounted only
// when withMetrics is set.
func (s *Server) statusRouter(withMetrics bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health/live", s.livenessHandler)
	r.Get("/health/ready", s.readinessHandler)
	r.Get("/health/startup", s.startupHandler)
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// livenessHandler fails only when the daemon should be restarted
func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	result := s.healthChecker.Live(r.Context())
	writeJSON(w, HealthCheckResponse{
		Status:  result.Status,
		Message: result.Message,
		Version: BuildVersion(),
	}, statusCode(result.Status))
}

// readinessHandler builds a responder from the current configuration and
// reports whether verifiers would be answered. A software identity where
// hardware is required reports degraded with 200.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	results := s.healthChecker.Ready(r.Context())
	overall := health.AggregateStatus(results)

	resp := HealthCheckResponse{
		Status: overall,
		Checks: results,
	}
	switch overall {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusDegraded:
		resp.Message = "Service is degraded"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
	}

	writeJSON(w, resp, statusCode(overall))
}

func (s *Server) startupHandler(w http.ResponseWriter, r *http.Request) {
	result := s.healthChecker.Startup(r.Context())
	writeJSON(w, HealthCheckResponse{
		Status:  result.Status,
		Message: result.Message,
	}, statusCode(result.Status))
}

func statusCode(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
