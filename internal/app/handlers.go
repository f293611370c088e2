package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avockley/parlance/internal/flags"
	"github.com/avockley/parlance/internal/tool"
)

// executeRequest is the body of POST /v1/tools/execute.
type executeRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// executeResponse mirrors tool.ExecutionResult on the wire. The shape is
// identical for both execution paths so callers cannot observe the
// migration.
type executeResponse struct {
	RequestID string  `json:"request_id"`
	Content   string  `json:"content"`
	IsError   bool    `json:"is_error"`
	Path      string  `json:"path,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// flagsResponse is the body of GET /v1/flags.
type flagsResponse struct {
	MigrationState    string   `json:"migration_state"`
	RollbackArmed     bool     `json:"rollback_armed"`
	EnabledCategories []string `json:"enabled_categories"`
}

type stateRequest struct {
	State string `json:"state"`
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// registerAPI adds the tool execution and flag operator routes to mux.
func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/tools/execute", a.handleExecute)
	mux.HandleFunc("GET /v1/flags", a.handleGetFlags)
	mux.HandleFunc("POST /v1/flags/state", a.handleSetState)
	mux.HandleFunc("POST /v1/flags/categories/{category}/enable", a.handleCategory(true))
	mux.HandleFunc("POST /v1/flags/categories/{category}/disable", a.handleCategory(false))
	mux.HandleFunc("POST /v1/flags/rollback", a.handleRollback)
	mux.HandleFunc("POST /v1/flags/promote", a.handlePromote)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// handleExecute runs one tool invocation through the router and returns the
// result. The router never fails; malformed requests are the only 4xx case.
func (a *App) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	inv := tool.NewInvocation(req.Name, req.Params)
	res := a.router.Execute(r.Context(), inv)

	writeJSON(w, http.StatusOK, executeResponse{
		RequestID: inv.RequestID,
		Content:   res.Content,
		IsError:   res.IsError,
		Path:      string(res.Path),
		LatencyMs: res.LatencyMs,
	})
}

func (a *App) handleGetFlags(w http.ResponseWriter, _ *http.Request) {
	snap := a.flags.Get()
	writeJSON(w, http.StatusOK, flagsResponse{
		MigrationState:    string(snap.MigrationState),
		RollbackArmed:     a.flags.Armed(),
		EnabledCategories: snap.Categories(),
	})
}

func (a *App) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := a.flags.SetMigrationState(flags.MigrationState(req.State)); err != nil {
		writeFlagError(w, err)
		return
	}
	a.handleGetFlags(w, r)
}

// handleCategory returns a handler that enables or disables the category
// named in the URL path. Disabling is always allowed, including while a
// rollback is armed.
func (a *App) handleCategory(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cat := r.PathValue("category")
		if !tool.Category(cat).IsValid() {
			writeError(w, http.StatusBadRequest, "unknown category "+cat)
			return
		}

		if enable {
			if err := a.flags.EnableCategory(cat); err != nil {
				writeFlagError(w, err)
				return
			}
		} else {
			if err := a.flags.DisableCategory(cat); err != nil {
				writeFlagError(w, err)
				return
			}
		}
		a.handleGetFlags(w, r)
	}
}

func (a *App) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}
	a.flags.EmergencyRollback(req.Reason)
	a.handleGetFlags(w, r)
}

func (a *App) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := a.flags.Promote(flags.MigrationState(req.State)); err != nil {
		writeFlagError(w, err)
		return
	}
	a.handleGetFlags(w, r)
}

// writeFlagError maps flag store errors to HTTP statuses: an armed rollback
// is a conflict, anything else is a bad request.
func writeFlagError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, flags.ErrRollbackArmed) {
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
