package api

import (
	"context"
	"net/http"
	"time"
)

type healthStatus struct {
	Status  string            `json:"status"`
	Env     string            `json:"env,omitempty"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func livenessHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthStatus{
			Status:  "ok",
			Env:     cfg.Env,
			Version: cfg.Version,
		})
	}
}

// readinessHandler pings the backing stores. Nil clients (memory driver)
// report as skipped rather than failing readiness.
func readinessHandler(cfg RouterConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		if cfg.PgPool != nil {
			if err := cfg.PgPool.Ping(ctx); err != nil {
				checks["postgres"] = "unreachable: " + err.Error()
				healthy = false
			} else {
				checks["postgres"] = "ok"
			}
		} else {
			checks["postgres"] = "skipped"
		}

		if cfg.Redis != nil {
			if err := cfg.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unreachable: " + err.Error()
				healthy = false
			} else {
				checks["redis"] = "ok"
			}
		} else {
			checks["redis"] = "skipped"
		}

		status := healthStatus{Status: "ready", Env: cfg.Env, Version: cfg.Version, Checks: checks}
		code := http.StatusOK
		if !healthy {
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}
