package api

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// HealthHandler reports catalog size and, when Redis is configured, its
// reachability. An unreachable Redis answers 503.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "ok",
		"catalog": s.AdDataStore.Stats(),
	}
	if last := s.LastReload(); !last.IsZero() {
		body["last_reload"] = last.UTC().Format(time.RFC3339)
	}
	if s.Redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.Redis.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["redis"] = err.Error()
		}
	}

	_ = writeJSON(w, status, body)

	s.Metrics.IncrementRequests(endpoint, method, strconv.Itoa(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
