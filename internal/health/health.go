// Package health provides HTTP health, readiness, and migration status handlers.
//
// The package exposes three endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /statusz — migration posture; reports the current migration state,
//     flag snapshot, and a legacy-vs-modular performance comparison.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/avockley/parlance/internal/flags"
	"github.com/avockley/parlance/internal/observe"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// statusWindow is the sample window used for the /statusz path comparison.
const statusWindow = 15 * time.Minute

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "legacy",
	// "providers"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// pathStatus is the JSON shape of one execution path in the /statusz response.
type pathStatus struct {
	Count        int     `json:"count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	ErrorRate    float64 `json:"error_rate"`
}

// statusResult is the JSON response body for /statusz.
type statusResult struct {
	MigrationState    string             `json:"migration_state"`
	RollbackArmed     bool               `json:"rollback_armed"`
	EnabledCategories []string           `json:"enabled_categories"`
	RollbackTriggers  []string           `json:"rollback_triggers,omitempty"`
	WindowSeconds     float64            `json:"window_seconds"`
	Legacy            pathStatus         `json:"legacy"`
	Modular           pathStatus         `json:"modular"`
	DroppedSamples    uint64             `json:"dropped_samples,omitempty"`
	Audit             []flags.AuditEntry `json:"audit,omitempty"`
}

// Handler serves the /healthz, /readyz, and /statusz endpoints. It is safe
// for concurrent use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	flags    *flags.Store
	monitor  *observe.Monitor
}

// Option configures a [Handler].
type Option func(*Handler)

// WithFlags attaches the feature flag store so /statusz can report the
// current migration posture.
func WithFlags(store *flags.Store) Option {
	return func(h *Handler) {
		h.flags = store
	}
}

// WithMonitor attaches the performance monitor so /statusz can report the
// legacy-vs-modular comparison.
func WithMonitor(m *observe.Monitor) Option {
	return func(h *Handler) {
		h.monitor = m
	}
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. The checkers are evaluated sequentially in the order provided.
func New(checkers []Checker, opts ...Option) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	h := &Handler{checkers: c}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Statusz reports the migration posture: the live flag snapshot, whether an
// emergency rollback is armed, and how the two execution paths have performed
// over the recent sample window. It is an operator endpoint, not a probe, and
// always returns 200 when the handler has a flag store attached.
func (h *Handler) Statusz(w http.ResponseWriter, _ *http.Request) {
	if h.flags == nil {
		writeJSON(w, http.StatusNotFound, result{Status: "fail"})
		return
	}

	snap := h.flags.Get()
	res := statusResult{
		MigrationState:    string(snap.MigrationState),
		RollbackArmed:     h.flags.Armed(),
		EnabledCategories: snap.Categories(),
		WindowSeconds:     statusWindow.Seconds(),
		Audit:             h.flags.Audit(),
	}
	for name := range snap.RollbackTriggers {
		res.RollbackTriggers = append(res.RollbackTriggers, name)
	}
	slices.Sort(res.RollbackTriggers)

	if h.monitor != nil {
		cmp := h.monitor.Compare(statusWindow)
		res.Legacy = pathStatus{
			Count:        cmp.Legacy.Count,
			AvgLatencyMs: cmp.Legacy.AvgLatencyMs,
			ErrorRate:    cmp.Legacy.ErrorRate,
		}
		res.Modular = pathStatus{
			Count:        cmp.Modular.Count,
			AvgLatencyMs: cmp.Modular.AvgLatencyMs,
			ErrorRate:    cmp.Modular.ErrorRate,
		}
		res.DroppedSamples = h.monitor.Dropped()
	}

	writeJSON(w, http.StatusOK, res)
}

// Register adds the /healthz, /readyz, and /statusz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
