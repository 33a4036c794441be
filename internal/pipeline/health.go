package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/socialcdn/image-pipeline/internal/breaker"
	"github.com/socialcdn/image-pipeline/internal/registry"
	"github.com/socialcdn/image-pipeline/pkg/schema"
)

// Health assembles the outward health surface: queue depth by status,
// breaker state, and the last reconciliation summary.
type Health struct {
	reg    registry.Registry
	cb     *breaker.Breaker
	rec    *Reconciler
	logger *slog.Logger
}

func NewHealth(reg registry.Registry, cb *breaker.Breaker, rec *Reconciler, logger *slog.Logger) *Health {
	return &Health{reg: reg, cb: cb, rec: rec, logger: logger}
}

func (h *Health) Snapshot(ctx context.Context) schema.HealthSnapshot {
	snap := schema.HealthSnapshot{QueueDepth: make(map[string]int64)}

	if counts, err := h.reg.CountJobsByStatus(ctx); err == nil {
		for status, n := range counts {
			snap.QueueDepth[string(status)] = n
			queueDepth.WithLabelValues(string(status)).Set(float64(n))
		}
	} else {
		h.logger.Warn("queue depth unavailable", "err", err)
	}

	state := h.cb.Snapshot()
	snap.BreakerOpen = state.Open
	snap.BreakerFailures = state.ConsecutiveFailures
	if state.Open {
		breakerOpenGauge.Set(1)
	} else {
		breakerOpenGauge.Set(0)
	}

	if h.rec != nil {
		if last, ok := h.rec.LastRun(); ok {
			snap.LastReconcileAt = last.RanAt.Unix()
			snap.LastReconcileGaps = last.StuckScanned
			snap.LastReconcileFixed = last.Repaired
			snap.LastReconcileErrors = last.Errors
		}
	}
	return snap
}

// Handler serves the snapshot as JSON on GET.
func (h *Health) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := h.Snapshot(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			h.logger.Error("encode health snapshot", "err", err)
		}
	})
}
