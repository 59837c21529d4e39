// Package api serves the health, status and metrics endpoints of a
// running campaign send.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/campaign-sender/internal/pkg/httputil"
)

// Pinger checks a backing service. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers holds the dependencies of the operational endpoints.
type Handlers struct {
	db       Pinger
	campaign string
	stats    func() map[string]int64
	started  time.Time
}

// NewHandlers creates handlers for the run of campaign.
func NewHandlers(db Pinger, campaign string, stats func() map[string]int64) *Handlers {
	return &Handlers{db: db, campaign: campaign, stats: stats, started: time.Now()}
}

// HealthCheck reports whether the database is reachable.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		httputil.Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	httputil.OK(w, map[string]string{"status": "healthy"})
}

// Status returns the progress counters of the run.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"campaign":       h.campaign,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.stats != nil {
		for k, v := range h.stats() {
			resp[k] = v
		}
	}
	httputil.OK(w, resp)
}
