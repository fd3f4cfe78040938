package http

import (
	"context"
	"net/http"
	"time"

	"github.com/mind-engage/mindengage-placement/internal/apierr"
)

const ServiceName = "mindengage-placement"

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// GET /healthz
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": ServiceName,
			"version": Version,
		})
	}
}

// GET /readyz
func ReadyHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.PingContext(ctx); err != nil {
				apierr.Write(w, apierr.New(http.StatusServiceUnavailable, apierr.CodeUnavailable, "database unreachable"))
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
