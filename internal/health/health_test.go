package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avockley/parlance/internal/flags"
	"github.com/avockley/parlance/internal/observe"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New(nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	h := New([]Checker{
		{Name: "legacy", Check: func(_ context.Context) error { return nil }},
		{Name: "providers", Check: func(_ context.Context) error { return nil }},
	})

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["legacy"] != "ok" {
		t.Errorf("legacy check = %q, want %q", body.Checks["legacy"], "ok")
	}
	if body.Checks["providers"] != "ok" {
		t.Errorf("providers check = %q, want %q", body.Checks["providers"], "ok")
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	h := New([]Checker{
		{Name: "legacy", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		{Name: "providers", Check: func(_ context.Context) error { return nil }},
	})

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["legacy"] != "fail: connection refused" {
		t.Errorf("legacy check = %q, want %q", body.Checks["legacy"], "fail: connection refused")
	}
	if body.Checks["providers"] != "ok" {
		t.Errorf("providers check = %q, want %q", body.Checks["providers"], "ok")
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	h := New(nil)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(
		[]Checker{{Name: "test", Check: func(_ context.Context) error { return nil }}},
		WithFlags(flags.NewStore(nil)),
	)

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/statusz", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New([]Checker{
		{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestStatusz_ReportsMigrationPosture(t *testing.T) {
	store := flags.NewStore(&flags.Set{
		MigrationState:    flags.StateHybrid,
		EnabledCategories: map[string]bool{"location": true, "search": true},
	})
	mon := observe.NewMonitor()
	mon.Record(observe.Sample{Tool: "find_place", Path: "legacy", LatencyMs: 200, Success: true, Timestamp: time.Now()})
	mon.Record(observe.Sample{Tool: "find_place", Path: "modular", LatencyMs: 100, Success: true, Timestamp: time.Now()})

	h := New(nil, WithFlags(store), WithMonitor(mon))

	req := httptest.NewRequest("GET", "/statusz", nil)
	rec := httptest.NewRecorder()
	h.Statusz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body statusResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.MigrationState != "hybrid" {
		t.Errorf("migration_state = %q, want %q", body.MigrationState, "hybrid")
	}
	if body.RollbackArmed {
		t.Error("rollback_armed should be false")
	}
	if len(body.EnabledCategories) != 2 || body.EnabledCategories[0] != "location" {
		t.Errorf("enabled_categories = %v", body.EnabledCategories)
	}
	if body.Legacy.Count != 1 || body.Legacy.AvgLatencyMs != 200 {
		t.Errorf("legacy stats = %+v", body.Legacy)
	}
	if body.Modular.Count != 1 || body.Modular.AvgLatencyMs != 100 {
		t.Errorf("modular stats = %+v", body.Modular)
	}
}

func TestStatusz_AfterEmergencyRollback(t *testing.T) {
	store := flags.NewStore(&flags.Set{
		MigrationState:    flags.StateModularOnly,
		EnabledCategories: map[string]bool{"location": true},
	})
	store.EmergencyRollback("latency regression")

	h := New(nil, WithFlags(store))

	req := httptest.NewRequest("GET", "/statusz", nil)
	rec := httptest.NewRecorder()
	h.Statusz(rec, req)

	var body statusResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.MigrationState != "legacy" {
		t.Errorf("migration_state = %q, want %q after rollback", body.MigrationState, "legacy")
	}
	if !body.RollbackArmed {
		t.Error("rollback_armed should be true after an emergency rollback")
	}
	if len(body.EnabledCategories) != 0 {
		t.Errorf("enabled_categories should be empty after rollback, got %v", body.EnabledCategories)
	}
	if len(body.Audit) == 0 {
		t.Error("audit trail should record the rollback")
	}
}

func TestStatusz_WithoutFlagStore(t *testing.T) {
	h := New(nil)

	req := httptest.NewRequest("GET", "/statusz", nil)
	rec := httptest.NewRecorder()
	h.Statusz(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
