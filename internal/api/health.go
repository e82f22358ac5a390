package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger is the dependency-liveness check the health endpoint races
// against its timeout. Implemented by the Redis key-value store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthTimeout bounds each dependency check; a timeout is recorded as
// an error status, never a hang.
const healthTimeout = 5 * time.Second

// Health reports service health. The store check is raced against a
// fixed timeout; a degraded store yields 503 so load balancers rotate
// the instance out, but the process keeps serving.
func Health(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		deps := map[string]string{}
		status := http.StatusOK
		overall := "ok"

		if err := store.Ping(ctx); err != nil {
			deps["redis"] = "error"
			overall = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			deps["redis"] = "ok"
		}

		body := map[string]any{
			"status":       overall,
			"dependencies": deps,
		}
		if status == http.StatusOK {
			writeData(w, r, status, body)
			return
		}
		writeError(w, r, status, CodeStoreUnavailable, "dependency check failed", body)
	}
}
