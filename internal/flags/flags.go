// Package flags holds the process's migration feature flags: which
// execution path the tool router takes, which tool categories may use the
// new pipeline, and which rollback triggers have fired.
//
// Reads are lock-free snapshot loads of an atomically-swapped immutable
// value, so the router can consult flags on every invocation without
// contention. Writes go through a single mutex; an emergency rollback
// additionally arms the store so that ordinary toggles cannot quietly undo
// it — only an explicit Promote re-opens the store for changes.
package flags

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MigrationState selects which execution path the tool router uses.
type MigrationState string

const (
	// StateLegacy routes every invocation through the legacy path.
	StateLegacy MigrationState = "legacy"

	// StateHybrid routes enabled categories through the modular path with
	// a legacy fallback on failure.
	StateHybrid MigrationState = "hybrid"

	// StateModularOnly routes enabled categories through the modular path
	// with no fallback; failures surface to the caller.
	StateModularOnly MigrationState = "modular_only"

	// StateModularWithFallback behaves like StateHybrid. It exists as a
	// distinct operator-facing label for the final pre-cutover stage.
	StateModularWithFallback MigrationState = "modular_with_fallback"
)

// IsValid reports whether s is a recognised migration state.
func (s MigrationState) IsValid() bool {
	switch s {
	case StateLegacy, StateHybrid, StateModularOnly, StateModularWithFallback:
		return true
	}
	return false
}

// Set is an immutable snapshot of the feature flags. Callers must not
// mutate the maps; every write produces a fresh Set.
type Set struct {
	// MigrationState is the router's current path selection mode.
	MigrationState MigrationState

	// EnabledCategories holds the tool categories allowed on the modular
	// path. Keys are category names ("location", "search", ...).
	EnabledCategories map[string]bool

	// RollbackTriggers records named failure signals and whether each has
	// fired. Purely diagnostic; the store attaches no behaviour to them.
	RollbackTriggers map[string]bool
}

// CategoryEnabled reports whether cat may use the modular path.
func (s *Set) CategoryEnabled(cat string) bool {
	return s.EnabledCategories[cat]
}

// Categories returns the enabled category names in sorted order.
func (s *Set) Categories() []string {
	out := make([]string, 0, len(s.EnabledCategories))
	for c, on := range s.EnabledCategories {
		if on {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// clone returns a deep copy ready for mutation.
func (s *Set) clone() *Set {
	c := &Set{
		MigrationState:    s.MigrationState,
		EnabledCategories: make(map[string]bool, len(s.EnabledCategories)),
		RollbackTriggers:  make(map[string]bool, len(s.RollbackTriggers)),
	}
	for k, v := range s.EnabledCategories {
		c.EnabledCategories[k] = v
	}
	for k, v := range s.RollbackTriggers {
		c.RollbackTriggers[k] = v
	}
	return c
}

// AuditEntry records one flag change for post-incident diagnosis.
type AuditEntry struct {
	// Time is when the change was applied.
	Time time.Time `json:"time"`

	// Action names the operation ("set_state", "enable_category",
	// "emergency_rollback", ...).
	Action string `json:"action"`

	// Detail carries the operation argument: the state, category, or
	// rollback reason.
	Detail string `json:"detail,omitempty"`
}

// Persister stores flag snapshots outside the process so a restart resumes
// the migration where it left off.
type Persister interface {
	// Save writes the snapshot. Implementations overwrite the previous one.
	Save(ctx context.Context, set *Set) error

	// Load reads the last saved snapshot. A missing record returns a
	// default snapshot (legacy state, nothing enabled), not an error.
	Load(ctx context.Context) (*Set, error)
}

// ErrRollbackArmed is returned by ordinary writes after an emergency
// rollback until Promote is called.
var ErrRollbackArmed = fmt.Errorf("flags: emergency rollback armed; promote explicitly to resume changes")

// auditLimit is how many recent changes the store retains.
const auditLimit = 64

// Store is the process-wide feature flag register.
//
// The zero value is not usable; construct with NewStore.
type Store struct {
	current atomic.Pointer[Set]

	mu      sync.Mutex // serialises writes and guards the fields below
	armed   bool
	audit   []AuditEntry
	persist Persister
	log     *slog.Logger
	nowFunc func() time.Time

	// Write-behind persistence. Snapshots are handed to a background
	// goroutine so a slow backing store never extends the time a writer
	// holds mu; in particular EmergencyRollback latency stays independent
	// of the database. Intermediate snapshots coalesce: only the newest
	// pending one is saved.
	pending   atomic.Pointer[Set]
	kick      chan struct{}
	done      chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithPersister makes the store save snapshots through p from a background
// goroutine; call Close to flush the last one on shutdown. Persistence
// failures are logged, never returned: a flag change must not fail because
// the backing store was down.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithLogger sets the store's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates a Store starting from initial. A nil initial starts in
// the legacy state with no categories enabled.
func NewStore(initial *Set, opts ...Option) *Store {
	s := &Store{
		log:     slog.Default(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if initial == nil {
		initial = &Set{MigrationState: StateLegacy}
	}
	snap := initial.clone()
	if !snap.MigrationState.IsValid() {
		snap.MigrationState = StateLegacy
	}
	s.current.Store(snap)

	if s.persist != nil {
		s.kick = make(chan struct{}, 1)
		s.done = make(chan struct{})
		s.drained = make(chan struct{})
		go s.persistLoop()
	}
	return s
}

// Get returns the current flag snapshot. The result is immutable and must
// not be modified. Safe for concurrent use; never blocks on writers.
func (s *Store) Get() *Set {
	return s.current.Load()
}

// SetMigrationState switches the router's path selection mode. Setting the
// state it already has is a no-op. Returns ErrRollbackArmed after an
// emergency rollback until Promote is called.
func (s *Store) SetMigrationState(state MigrationState) error {
	if !state.IsValid() {
		return fmt.Errorf("flags: unknown migration state %q", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		return ErrRollbackArmed
	}
	cur := s.current.Load()
	if cur.MigrationState == state {
		return nil
	}
	next := cur.clone()
	next.MigrationState = state
	s.commit(next, "set_state", string(state))
	return nil
}

// EnableCategory allows cat on the modular path. Enabling an already
// enabled category is a no-op. Returns ErrRollbackArmed after an emergency
// rollback until Promote is called.
func (s *Store) EnableCategory(cat string) error {
	if cat == "" {
		return fmt.Errorf("flags: empty category")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed {
		return ErrRollbackArmed
	}
	cur := s.current.Load()
	if cur.EnabledCategories[cat] {
		return nil
	}
	next := cur.clone()
	next.EnabledCategories[cat] = true
	s.commit(next, "enable_category", cat)
	return nil
}

// DisableCategory removes cat from the modular path. Disabling is always
// allowed, armed or not: it only narrows modular exposure.
func (s *Store) DisableCategory(cat string) error {
	if cat == "" {
		return fmt.Errorf("flags: empty category")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current.Load()
	if !cur.EnabledCategories[cat] {
		return nil
	}
	next := cur.clone()
	delete(next.EnabledCategories, cat)
	s.commit(next, "disable_category", cat)
	return nil
}

// RecordTrigger marks the named rollback trigger as fired. Triggers are
// diagnostic breadcrumbs; recording one does not change routing.
func (s *Store) RecordTrigger(name string) {
	if name == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current.Load()
	if cur.RollbackTriggers[name] {
		return
	}
	next := cur.clone()
	next.RollbackTriggers[name] = true
	s.commit(next, "record_trigger", name)
}

// EmergencyRollback reverts to the legacy path: migration state becomes
// legacy and all categories are disabled, visible to the next Get before
// this call returns. The store stays armed — rejecting ordinary state and
// enable writes — until Promote is called, so a concurrent routine toggle
// cannot race the rollback back open.
func (s *Store) EmergencyRollback(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	next := cur.clone()
	next.MigrationState = StateLegacy
	next.EnabledCategories = map[string]bool{}
	s.armed = true
	s.commit(next, "emergency_rollback", reason)
	s.log.Warn("flags: emergency rollback", "reason", reason)
}

// Armed reports whether an emergency rollback is in effect and not yet
// cleared by Promote.
func (s *Store) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Promote clears the rollback arm and sets the migration state, in one
// write. This is the only way to move off legacy after an emergency
// rollback.
func (s *Store) Promote(state MigrationState) error {
	if !state.IsValid() {
		return fmt.Errorf("flags: unknown migration state %q", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	cur := s.current.Load()
	if cur.MigrationState == state {
		s.appendAudit("promote", string(state))
		return nil
	}
	next := cur.clone()
	next.MigrationState = state
	s.commit(next, "promote", string(state))
	return nil
}

// Audit returns the most recent flag changes, oldest first.
func (s *Store) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// commit publishes next, appends an audit entry, and queues the snapshot
// for persistence. Callers must hold mu. The commit is complete once the
// snapshot is visible to Get; persistence happens behind it.
func (s *Store) commit(next *Set, action, detail string) {
	s.current.Store(next)
	s.appendAudit(action, detail)
	if s.persist != nil {
		s.pending.Store(next)
		select {
		case s.kick <- struct{}{}:
		default: // a save is already queued; it will pick up this snapshot
		}
	}
}

// persistLoop saves pending snapshots until Close. One goroutine per store,
// so saves are ordered and the newest snapshot always wins.
func (s *Store) persistLoop() {
	defer close(s.drained)
	for {
		select {
		case <-s.kick:
			s.savePending()
		case <-s.done:
			s.savePending()
			return
		}
	}
}

// savePending writes the newest unpersisted snapshot, if any.
func (s *Store) savePending() {
	set := s.pending.Swap(nil)
	if set == nil {
		return
	}
	if err := s.persist.Save(context.Background(), set); err != nil {
		s.log.Error("flags: persist snapshot", "err", err)
	}
}

// Close flushes any unpersisted snapshot and stops the persistence
// goroutine. The store must not be written to after Close; reads remain
// valid. A store without a persister needs no Close.
func (s *Store) Close() {
	if s.persist == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.drained
	})
}

// appendAudit records a change, dropping the oldest entry past auditLimit.
// Callers must hold mu.
func (s *Store) appendAudit(action, detail string) {
	s.audit = append(s.audit, AuditEntry{Time: s.nowFunc(), Action: action, Detail: detail})
	if len(s.audit) > auditLimit {
		s.audit = s.audit[len(s.audit)-auditLimit:]
	}
}
