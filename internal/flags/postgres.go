package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the feature_flags table. Execute it via
// [PostgresPersister.Migrate] or apply it manually during deployment.
// The table holds exactly one row: the latest snapshot.
const Schema = `
CREATE TABLE IF NOT EXISTS feature_flags (
    id                 SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    migration_state    TEXT NOT NULL DEFAULT 'legacy',
    enabled_categories JSONB NOT NULL DEFAULT '[]',
    rollback_triggers  JSONB NOT NULL DEFAULT '{}',
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresPersister]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresPersister is a [Persister] backed by a PostgreSQL database, for
// deployments where several operator tools need to see the same migration
// state. It serialises the category set and trigger map as JSONB.
type PostgresPersister struct {
	db DB
}

// Compile-time interface check.
var _ Persister = (*PostgresPersister)(nil)

// NewPostgresPersister creates a new [PostgresPersister] that uses the given
// database connection or pool. The caller is responsible for calling
// [PostgresPersister.Migrate] to ensure the schema exists before use.
func NewPostgresPersister(db DB) *PostgresPersister {
	return &PostgresPersister{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// feature_flags table if it does not already exist.
func (p *PostgresPersister) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("flags: migrate: %w", err)
	}
	return nil
}

// Save upserts the single snapshot row.
func (p *PostgresPersister) Save(ctx context.Context, set *Set) error {
	catsJSON, err := json.Marshal(set.Categories())
	if err != nil {
		return fmt.Errorf("flags: marshal enabled_categories: %w", err)
	}
	trigJSON, err := json.Marshal(emptyTriggerMap(set.RollbackTriggers))
	if err != nil {
		return fmt.Errorf("flags: marshal rollback_triggers: %w", err)
	}

	const query = `
		INSERT INTO feature_flags (id, migration_state, enabled_categories, rollback_triggers)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			migration_state = EXCLUDED.migration_state,
			enabled_categories = EXCLUDED.enabled_categories,
			rollback_triggers = EXCLUDED.rollback_triggers,
			updated_at = now()`

	if _, err := p.db.Exec(ctx, query, string(set.MigrationState), catsJSON, trigJSON); err != nil {
		return fmt.Errorf("flags: save snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot row. A missing row returns a default snapshot
// (legacy state, nothing enabled).
func (p *PostgresPersister) Load(ctx context.Context) (*Set, error) {
	const query = `
		SELECT migration_state, enabled_categories, rollback_triggers
		FROM feature_flags
		WHERE id = 1`

	var (
		state              string
		catsJSON, trigJSON []byte
	)
	err := p.db.QueryRow(ctx, query).Scan(&state, &catsJSON, &trigJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Set{MigrationState: StateLegacy}, nil
		}
		return nil, fmt.Errorf("flags: load snapshot: %w", err)
	}

	var rec persistedRecord
	rec.MigrationState = state
	if err := json.Unmarshal(catsJSON, &rec.EnabledCategories); err != nil {
		return nil, fmt.Errorf("flags: unmarshal enabled_categories: %w", err)
	}
	if err := json.Unmarshal(trigJSON, &rec.RollbackTriggers); err != nil {
		return nil, fmt.Errorf("flags: unmarshal rollback_triggers: %w", err)
	}
	return recordToSet(rec), nil
}

// emptyTriggerMap returns m if non-nil, otherwise an empty non-nil map.
// This ensures JSON marshalling produces "{}" instead of "null".
func emptyTriggerMap(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
