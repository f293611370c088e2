package flags

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestStore_Defaults verifies that a nil initial snapshot starts in the
// legacy state with nothing enabled.
func TestStore_Defaults(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	set := s.Get()
	if set.MigrationState != StateLegacy {
		t.Errorf("MigrationState = %q, want %q", set.MigrationState, StateLegacy)
	}
	if len(set.Categories()) != 0 {
		t.Errorf("Categories = %v, want empty", set.Categories())
	}
}

// TestStore_SetMigrationState verifies state changes are visible to the
// next Get and that repeating a state is a silent no-op.
func TestStore_SetMigrationState(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	if err := s.SetMigrationState(StateHybrid); err != nil {
		t.Fatalf("SetMigrationState: %v", err)
	}
	if got := s.Get().MigrationState; got != StateHybrid {
		t.Errorf("MigrationState = %q, want %q", got, StateHybrid)
	}

	before := len(s.Audit())
	if err := s.SetMigrationState(StateHybrid); err != nil {
		t.Fatalf("idempotent SetMigrationState: %v", err)
	}
	if got := len(s.Audit()); got != before {
		t.Errorf("idempotent write grew the audit log: %d -> %d", before, got)
	}

	if err := s.SetMigrationState("warp_speed"); err == nil {
		t.Error("expected an error for an unknown state")
	}
}

// TestStore_Categories verifies enable/disable round trips and their
// idempotence.
func TestStore_Categories(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	if err := s.EnableCategory("location"); err != nil {
		t.Fatalf("EnableCategory: %v", err)
	}
	if !s.Get().CategoryEnabled("location") {
		t.Error("location should be enabled")
	}

	before := len(s.Audit())
	if err := s.EnableCategory("location"); err != nil {
		t.Fatalf("idempotent EnableCategory: %v", err)
	}
	if got := len(s.Audit()); got != before {
		t.Error("idempotent enable grew the audit log")
	}

	if err := s.DisableCategory("location"); err != nil {
		t.Fatalf("DisableCategory: %v", err)
	}
	if s.Get().CategoryEnabled("location") {
		t.Error("location should be disabled")
	}
	if err := s.DisableCategory("location"); err != nil {
		t.Fatalf("idempotent DisableCategory: %v", err)
	}
}

// TestStore_SnapshotImmutable verifies that a snapshot taken before a write
// does not observe the write.
func TestStore_SnapshotImmutable(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	if err := s.EnableCategory("location"); err != nil {
		t.Fatal(err)
	}
	old := s.Get()
	if err := s.DisableCategory("location"); err != nil {
		t.Fatal(err)
	}
	if !old.CategoryEnabled("location") {
		t.Error("earlier snapshot mutated by a later write")
	}
}

// TestStore_EmergencyRollback verifies that a rollback reverts to legacy,
// clears every category, and blocks ordinary writes until Promote.
func TestStore_EmergencyRollback(t *testing.T) {
	t.Parallel()

	s := NewStore(&Set{
		MigrationState:    StateHybrid,
		EnabledCategories: map[string]bool{"location": true, "search": true},
	})

	s.EmergencyRollback("p99 latency regression")

	set := s.Get()
	if set.MigrationState != StateLegacy {
		t.Errorf("MigrationState = %q, want %q after rollback", set.MigrationState, StateLegacy)
	}
	if len(set.Categories()) != 0 {
		t.Errorf("Categories = %v, want empty after rollback", set.Categories())
	}
	if !s.Armed() {
		t.Error("store should be armed after rollback")
	}

	if err := s.SetMigrationState(StateHybrid); !errors.Is(err, ErrRollbackArmed) {
		t.Errorf("SetMigrationState after rollback = %v, want ErrRollbackArmed", err)
	}
	if err := s.EnableCategory("location"); !errors.Is(err, ErrRollbackArmed) {
		t.Errorf("EnableCategory after rollback = %v, want ErrRollbackArmed", err)
	}
	// Narrowing exposure is always allowed.
	if err := s.DisableCategory("search"); err != nil {
		t.Errorf("DisableCategory after rollback: %v", err)
	}

	if err := s.Promote(StateHybrid); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if s.Armed() {
		t.Error("store should be disarmed after Promote")
	}
	if got := s.Get().MigrationState; got != StateHybrid {
		t.Errorf("MigrationState = %q, want %q after Promote", got, StateHybrid)
	}
	if err := s.EnableCategory("location"); err != nil {
		t.Errorf("EnableCategory after Promote: %v", err)
	}
}

// TestStore_RollbackWinsRace verifies that an emergency rollback cannot be
// undone by concurrent ordinary toggles.
func TestStore_RollbackWinsRace(t *testing.T) {
	t.Parallel()

	s := NewStore(&Set{MigrationState: StateHybrid, EnabledCategories: map[string]bool{"location": true}})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Errors expected once the rollback lands.
			_ = s.SetMigrationState(StateModularWithFallback)
			_ = s.EnableCategory("travel")
		}()
	}
	s.EmergencyRollback("manual")
	wg.Wait()

	// Whatever interleaving happened before the rollback, after it no
	// ordinary toggle may have re-opened the store.
	if err := s.SetMigrationState(StateHybrid); !errors.Is(err, ErrRollbackArmed) {
		t.Errorf("store not armed after racing rollback: %v", err)
	}
	if got := s.Get().MigrationState; got != StateLegacy {
		t.Errorf("MigrationState = %q, want %q", got, StateLegacy)
	}
	if len(s.Get().Categories()) != 0 {
		t.Errorf("Categories = %v, want empty", s.Get().Categories())
	}
}

// TestStore_RecordTrigger verifies trigger breadcrumbs land in the snapshot
// without changing routing state.
func TestStore_RecordTrigger(t *testing.T) {
	t.Parallel()

	s := NewStore(&Set{MigrationState: StateHybrid})
	s.RecordTrigger("modular_path_failure")

	set := s.Get()
	if !set.RollbackTriggers["modular_path_failure"] {
		t.Error("trigger not recorded")
	}
	if set.MigrationState != StateHybrid {
		t.Errorf("MigrationState changed to %q", set.MigrationState)
	}
}

// TestStore_AuditTrim verifies that the audit log keeps only the most
// recent entries.
func TestStore_AuditTrim(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	states := []MigrationState{StateHybrid, StateLegacy}
	for i := 0; i < auditLimit+10; i++ {
		if err := s.SetMigrationState(states[i%2]); err != nil {
			t.Fatal(err)
		}
	}
	audit := s.Audit()
	if len(audit) != auditLimit {
		t.Fatalf("audit length = %d, want %d", len(audit), auditLimit)
	}
	// The retained tail must end with the final write.
	last := audit[len(audit)-1]
	if last.Action != "set_state" {
		t.Errorf("last audit action = %q", last.Action)
	}
}

// recordingPersister captures Save calls for assertions.
type recordingPersister struct {
	mu    sync.Mutex
	saves []*Set
	err   error
}

func (r *recordingPersister) Save(_ context.Context, set *Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, set)
	return r.err
}

func (r *recordingPersister) Load(context.Context) (*Set, error) {
	return &Set{MigrationState: StateLegacy}, nil
}

// TestStore_PersistsLatestSnapshot verifies that writes reach the persister,
// with the newest snapshot saved last, and that a persister failure does not
// fail the write. Intermediate snapshots may coalesce.
func TestStore_PersistsLatestSnapshot(t *testing.T) {
	t.Parallel()

	rec := &recordingPersister{}
	s := NewStore(nil, WithPersister(rec))

	if err := s.SetMigrationState(StateHybrid); err != nil {
		t.Fatal(err)
	}
	if err := s.EnableCategory("location"); err != nil {
		t.Fatal(err)
	}
	s.EmergencyRollback("drill")
	s.Close() // flushes the pending snapshot

	rec.mu.Lock()
	n := len(rec.saves)
	var lastState MigrationState
	if n > 0 {
		lastState = rec.saves[n-1].MigrationState
	}
	rec.mu.Unlock()
	if n == 0 {
		t.Fatal("no snapshot persisted")
	}
	if lastState != StateLegacy {
		t.Errorf("last persisted state = %q, want %q", lastState, StateLegacy)
	}

	failing := &recordingPersister{err: errors.New("disk full")}
	s2 := NewStore(nil, WithPersister(failing))
	if err := s2.SetMigrationState(StateHybrid); err != nil {
		t.Errorf("write failed because persistence failed: %v", err)
	}
	if got := s2.Get().MigrationState; got != StateHybrid {
		t.Errorf("MigrationState = %q, want %q despite persist error", got, StateHybrid)
	}
	s2.Close()
}

// stallingPersister blocks every Save until release is closed, simulating a
// database that has gone slow.
type stallingPersister struct {
	mu      sync.Mutex
	saves   []*Set
	started chan struct{}
	release chan struct{}
}

func (p *stallingPersister) Save(_ context.Context, set *Set) error {
	select {
	case p.started <- struct{}{}:
	default:
	}
	<-p.release
	p.mu.Lock()
	p.saves = append(p.saves, set)
	p.mu.Unlock()
	return nil
}

func (p *stallingPersister) Load(context.Context) (*Set, error) {
	return &Set{MigrationState: StateLegacy}, nil
}

// TestStore_SlowPersisterDoesNotBlockRollback verifies that a stalled
// persister Save cannot delay EmergencyRollback: the rollback must be
// visible to readers while the save is still in flight, and the snapshot
// that eventually lands is the rollback one.
func TestStore_SlowPersisterDoesNotBlockRollback(t *testing.T) {
	t.Parallel()

	p := &stallingPersister{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := NewStore(nil, WithPersister(p))

	if err := s.SetMigrationState(StateHybrid); err != nil {
		t.Fatal(err)
	}
	<-p.started // the save for the hybrid snapshot is now stalled

	done := make(chan struct{})
	go func() {
		s.EmergencyRollback("latency spike")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EmergencyRollback blocked behind a stalled persister")
	}
	if got := s.Get().MigrationState; got != StateLegacy {
		t.Errorf("MigrationState = %q, want %q while persister is stalled", got, StateLegacy)
	}

	close(p.release)
	s.Close()

	p.mu.Lock()
	last := p.saves[len(p.saves)-1].MigrationState
	p.mu.Unlock()
	if last != StateLegacy {
		t.Errorf("last persisted state = %q, want %q", last, StateLegacy)
	}
}
