package handlers

import (
	"net/http"
	"time"
)

type healthCheck struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// Health reports liveness of the process and its backing stores.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	checks := map[string]healthCheck{}

	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		checks["database"] = healthCheck{"unreachable", time.Since(start).Milliseconds()}
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = healthCheck{"ok", time.Since(start).Milliseconds()}
	}

	if h.redis != nil {
		start = time.Now()
		if err := h.redis.Client().Ping(ctx).Err(); err != nil {
			checks["redis"] = healthCheck{"unreachable", time.Since(start).Milliseconds()}
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = healthCheck{"ok", time.Since(start).Milliseconds()}
		}
	} else {
		checks["redis"] = healthCheck{Status: "not configured"}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}

	h.JSON(w, status, map[string]interface{}{
		"status": overall,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"checks": checks,
	})
}
