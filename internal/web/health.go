package web

import (
	"context"
	"net/http"
	"time"
)

var startTime = time.Now()

// Version is reported by /healthz. Overridden at build time with -ldflags.
var Version = "0.1.0"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the /healthz endpoint.
type HealthHandler struct {
	cfgMgr ConfigSource
	store  Pinger
}

func NewHealthHandler(cfgMgr ConfigSource, store Pinger) *HealthHandler {
	return &HealthHandler{cfgMgr: cfgMgr, store: store}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfgMgr.Get()
	resp := map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"monitor_count":  len(cfg.Monitors),
		"storage":        "ok",
	}
	code := http.StatusOK

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["storage"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, resp)
}
