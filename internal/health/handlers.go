// Package health exposes liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Probe checks one dependency within the given budget.
type Probe func(ctx context.Context, timeout time.Duration) error

// Handler exposes HTTP handlers for health endpoints. Probes run with small
// per-dependency timeouts so a wedged dependency cannot stall the probe.
type Handler struct {
	Probes  map[string]Probe
	Timeout time.Duration
}

// NewHandler wires readiness probes for the database and Redis.
func NewHandler(pool *pgxpool.Pool, rdb *redis.Client, timeout time.Duration) Handler {
	return Handler{
		Probes: map[string]Probe{
			"db": func(ctx context.Context, timeout time.Duration) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				return pool.Ping(ctx)
			},
			"redis": func(ctx context.Context, timeout time.Duration) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				return rdb.Ping(ctx).Err()
			},
		},
		Timeout: timeout,
	}
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if len(h.Probes) == 0 {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	status := make(map[string]string, len(h.Probes))
	healthy := true
	for name, probe := range h.Probes {
		if err := probe(r.Context(), timeout); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}
