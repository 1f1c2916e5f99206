package server

import (
	"net/http"
	"time"
)

// handleMetrics is the monitoring snapshot: the rolling query window, tool
// gateway counters, and cost aggregates in one payload.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}

	if s.deps.Collector != nil {
		stats := s.deps.Collector.Stats()
		body["queries"] = stats
		if ft := r.URL.Query().Get("failure_type"); ft != "" {
			body["failure_type"] = ft
			body["failure_count"] = stats.ErrorTypes[ft]
		}
		body["errors_last_5m"] = s.deps.Collector.ErrorsSince(5 * time.Minute)
	}
	if s.deps.Gateway != nil {
		body["tools"] = s.deps.Gateway.Metrics()
	}
	if s.deps.Costs != nil {
		body["cost"] = s.deps.Costs.Snapshot()
		body["budget_exceeded"] = s.deps.Costs.BudgetExceeded()
	}

	writeJSON(w, http.StatusOK, body)
}

// handleToolCapabilities lists the gateway's registered tools with their
// input schemas.
func (s *Server) handleToolCapabilities(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, ErrBackend, "tool gateway is not configured")
		return
	}
	caps := s.deps.Gateway.Capabilities()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(caps),
		"tools": caps,
	})
}
