package triggers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store is the SQLite-backed Trigger Store — spec.md §4.14's persistence
// layer for trigger definitions, mirroring internal/statestore.Store's
// single-write-lock/lock-free-read shape but over the "triggers" table
// that ships in the same embedded migration (see internal/statestore's
// DB() accessor). Grounded on original_source's triggers/store.py, whose
// contract is pinned by tests/unit/triggers/test_store.py since the
// source file itself was not retained in the pack.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore wraps an already-migrated *sql.DB (typically
// statestore.Store.DB()).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts a trigger definition.
func (s *Store) Save(ctx context.Context, t *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conditionJSON, err := json.Marshal(t.Condition)
	if err != nil {
		return fmt.Errorf("marshal condition: %w", err)
	}
	planJSON, err := json.Marshal(t.PlanTemplate)
	if err != nil {
		return fmt.Errorf("marshal plan_template: %w", err)
	}
	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	healthJSON, err := json.Marshal(t.Health)
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO triggers (
			id, name, description, condition_json, plan_template_json, state, priority,
			enabled, min_interval_seconds, max_fires_per_hour, conflict_policy, resource_lock,
			max_chain_depth, chain_depth, plan_id_prefix, created_by, tags_json, health_json, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			condition_json = excluded.condition_json,
			plan_template_json = excluded.plan_template_json,
			state = excluded.state,
			priority = excluded.priority,
			enabled = excluded.enabled,
			min_interval_seconds = excluded.min_interval_seconds,
			max_fires_per_hour = excluded.max_fires_per_hour,
			conflict_policy = excluded.conflict_policy,
			resource_lock = excluded.resource_lock,
			max_chain_depth = excluded.max_chain_depth,
			chain_depth = excluded.chain_depth,
			plan_id_prefix = excluded.plan_id_prefix,
			created_by = excluded.created_by,
			tags_json = excluded.tags_json,
			health_json = excluded.health_json,
			expires_at = excluded.expires_at
	`,
		t.TriggerID, t.Name, nullableString(t.Description), string(conditionJSON), string(planJSON),
		string(t.State), string(t.Priority), boolToInt(t.Enabled), t.MinIntervalSeconds, t.MaxFiresPerHour,
		string(t.ConflictPolicy), nullableString(t.ResourceLock), t.MaxChainDepth, t.ChainDepth,
		nullableString(t.PlanIDPrefix), nullableString(t.CreatedBy), string(tagsJSON), string(healthJSON),
		formatTimePtr(t.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("save trigger %q: %w", t.TriggerID, err)
	}
	return nil
}

// Get loads a trigger by ID, or (nil, nil) if unknown.
func (s *Store) Get(ctx context.Context, id string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, condition_json, plan_template_json, state, priority,
			enabled, min_interval_seconds, max_fires_per_hour, conflict_policy, resource_lock,
			max_chain_depth, chain_depth, plan_id_prefix, created_by, tags_json, health_json, expires_at
		FROM triggers WHERE id = ?`, id)
	return scanTrigger(row)
}

// ListAll returns every trigger definition, regardless of state.
func (s *Store) ListAll(ctx context.Context) ([]*Definition, error) {
	return s.query(ctx, "", nil)
}

// LoadActive returns enabled triggers in ACTIVE or WATCHING state — the
// set the daemon re-arms on startup.
func (s *Store) LoadActive(ctx context.Context) ([]*Definition, error) {
	return s.query(ctx, "WHERE enabled = 1 AND state IN (?, ?)", []any{string(StateActive), string(StateWatching)})
}

// ListByState returns every trigger currently in the given state.
func (s *Store) ListByState(ctx context.Context, state State) ([]*Definition, error) {
	return s.query(ctx, "WHERE state = ?", []any{string(state)})
}

func (s *Store) query(ctx context.Context, where string, args []any) ([]*Definition, error) {
	query := `
		SELECT id, name, description, condition_json, plan_template_json, state, priority,
			enabled, min_interval_seconds, max_fires_per_hour, conflict_policy, resource_lock,
			max_chain_depth, chain_depth, plan_id_prefix, created_by, tags_json, health_json, expires_at
		FROM triggers ` + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var out []*Definition
	for rows.Next() {
		t, err := scanTriggerRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateState transitions a trigger's state in place.
func (s *Store) UpdateState(ctx context.Context, id string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE triggers SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return fmt.Errorf("update trigger %q state: %w", id, err)
	}
	return nil
}

// Delete removes a trigger, returning whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete trigger %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeExpired deletes every trigger whose expires_at has already passed
// and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM triggers WHERE expires_at IS NOT NULL AND expires_at != '' AND expires_at < ?`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge expired triggers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row *sql.Row) (*Definition, error) {
	t, err := scanTriggerScanner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func scanTriggerRows(rows *sql.Rows) (*Definition, error) {
	return scanTriggerScanner(rows)
}

func scanTriggerScanner(sc rowScanner) (*Definition, error) {
	var t Definition
	var description, resourceLock, planIDPrefix, createdBy, tagsJSON, healthJSON, expiresAt sql.NullString
	var conditionJSON, planJSON, state, priority, conflictPolicy string
	var enabledInt int

	err := sc.Scan(
		&t.TriggerID, &t.Name, &description, &conditionJSON, &planJSON, &state, &priority,
		&enabledInt, &t.MinIntervalSeconds, &t.MaxFiresPerHour, &conflictPolicy, &resourceLock,
		&t.MaxChainDepth, &t.ChainDepth, &planIDPrefix, &createdBy, &tagsJSON, &healthJSON, &expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan trigger: %w", err)
	}

	t.Description = description.String
	t.ResourceLock = resourceLock.String
	t.PlanIDPrefix = planIDPrefix.String
	t.CreatedBy = createdBy.String
	t.State = State(state)
	t.Priority = Priority(priority)
	t.ConflictPolicy = ConflictPolicy(conflictPolicy)
	t.Enabled = enabledInt != 0

	if err := json.Unmarshal([]byte(conditionJSON), &t.Condition); err != nil {
		return nil, fmt.Errorf("unmarshal condition for trigger %q: %w", t.TriggerID, err)
	}
	if err := json.Unmarshal([]byte(planJSON), &t.PlanTemplate); err != nil {
		return nil, fmt.Errorf("unmarshal plan_template for trigger %q: %w", t.TriggerID, err)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &t.Tags)
	}
	if healthJSON.Valid && healthJSON.String != "" {
		if err := json.Unmarshal([]byte(healthJSON.String), &t.Health); err != nil {
			return nil, fmt.Errorf("unmarshal health for trigger %q: %w", t.TriggerID, err)
		}
	}
	if expiresAt.Valid && expiresAt.String != "" {
		parsed, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err == nil {
			t.ExpiresAt = &parsed
		}
	}
	return &t, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}
