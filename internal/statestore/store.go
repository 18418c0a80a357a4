// Package statestore implements the State Store: a durable
// plan_id -> ExecutionState map with crash-recovery semantics, backed by
// an embedded SQLite database (spec.md §4.4/§6). Grounded on the
// teacher's layered-error style (pkg/config/errors.go) and its migration
// tooling (golang-migrate, carried over from pkg/database), retargeted
// from Postgres+ent to modernc.org/sqlite since the ent schema DSL has no
// generated client in this workspace (see DESIGN.md).
package statestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed implementation of the State Store. Writes are
// serialised through a single mutex (spec.md §4.4: "a single async write
// lock"); reads go straight to the database, which SQLite's WAL mode
// allows concurrently with in-flight writes.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
}

// Open opens (creating if necessary) a SQLite database at dsn, enables WAL
// mode, and applies embedded migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite state store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection so collaborators that share this
// database's schema (the Trigger Store's "triggers" table lives in the
// same embedded migration as "plans"/"actions") don't have to open a
// second SQLite connection to the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Create inserts a brand-new ExecutionState. Fails if plan_id already
// exists (spec.md §4.4).
func (s *Store) Create(ctx context.Context, state *model.ExecutionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM plans WHERE plan_id = ?`, state.PlanID).Scan(&exists); err != nil {
		return fmt.Errorf("check existing plan: %w", err)
	}
	if exists > 0 {
		return imlerrors.New(imlerrors.ValidationError, fmt.Sprintf("plan %q already exists", state.PlanID))
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plans (plan_id, status, created_at, updated_at, rejection_details_json) VALUES (?, ?, ?, ?, ?)`,
		state.PlanID, string(state.PlanStatus), state.CreatedAt.Format(time.RFC3339Nano), state.UpdatedAt.Format(time.RFC3339Nano),
		marshalRejection(state.RejectionDetails),
	); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for _, a := range state.Actions {
		if err := upsertAction(ctx, tx, state.PlanID, a); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Get loads the full ExecutionState for plan_id, or (nil, false) if unknown.
func (s *Store) Get(ctx context.Context, planID string) (*model.ExecutionState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, created_at, updated_at, rejection_details_json FROM plans WHERE plan_id = ?`, planID)

	var status, createdAt, updatedAt string
	var rejectionJSON sql.NullString
	if err := row.Scan(&status, &createdAt, &updatedAt, &rejectionJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load plan %q: %w", planID, err)
	}

	state := &model.ExecutionState{
		PlanID:     planID,
		PlanStatus: model.PlanStatus(status),
		Actions:    map[string]*model.ActionState{},
	}
	state.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	state.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if rejectionJSON.Valid && rejectionJSON.String != "" {
		var rd model.RejectionDetails
		if err := json.Unmarshal([]byte(rejectionJSON.String), &rd); err == nil {
			state.RejectionDetails = &rd
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, status, started_at, finished_at, result_json, error, attempt, alternatives_json, approval_metadata_json
		 FROM actions WHERE plan_id = ?`, planID)
	if err != nil {
		return nil, false, fmt.Errorf("load actions for plan %q: %w", planID, err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, false, err
		}
		state.Actions[a.ActionID] = a
	}
	return state, true, rows.Err()
}

// UpdatePlanStatus transitions plan_id's status, rejecting the update if
// the current status is already terminal (spec.md §8 invariant 3).
func (s *Store) UpdatePlanStatus(ctx context.Context, planID string, status model.PlanStatus, rejection *model.RejectionDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM plans WHERE plan_id = ?`, planID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return imlerrors.New(imlerrors.ValidationError, fmt.Sprintf("plan %q does not exist", planID))
		}
		return fmt.Errorf("load plan status: %w", err)
	}
	if model.PlanStatus(current).Terminal() {
		return imlerrors.New(imlerrors.ValidationError,
			fmt.Sprintf("plan %q is already terminal (%s); cannot transition to %s", planID, current, status))
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, updated_at = ?, rejection_details_json = ? WHERE plan_id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), marshalRejection(rejection), planID)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	return nil
}

// UpdateAction upserts a single ActionState and bumps the plan's updated_at.
func (s *Store) UpdateAction(ctx context.Context, planID string, action *model.ActionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertAction(ctx, tx, planID, action); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE plans SET updated_at = ? WHERE plan_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), planID); err != nil {
		return fmt.Errorf("touch plan updated_at: %w", err)
	}
	return tx.Commit()
}

// ListFilter narrows List results by plan status; a zero value lists all.
type ListFilter struct {
	Status model.PlanStatus
}

// List returns plans newest-first, paginated.
func (s *Store) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*model.ExecutionState, int, error) {
	where := ""
	args := []any{}
	if filter.Status != "" {
		where = "WHERE status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(1) FROM plans %s", where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count plans: %w", err)
	}

	query := fmt.Sprintf(`SELECT plan_id FROM plans %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, where)
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}

	states := make([]*model.ExecutionState, 0, len(ids))
	for _, id := range ids {
		state, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			states = append(states, state)
		}
	}
	return states, total, nil
}

// RecoverNonTerminal scans for plans left in a non-terminal status (e.g.
// after a crash) and marks each FAILED with a recovery rejection note,
// since actions already dispatched to modules cannot be safely replayed
// blind (spec.md §4.4). It returns the plan IDs it touched, for the daemon
// to log/emit a recovery event about.
func (s *Store) RecoverNonTerminal(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id FROM plans WHERE status NOT IN (?, ?, ?, ?)`,
		string(model.PlanCompleted), string(model.PlanFailed), string(model.PlanCancelled), string(model.PlanRejected))
	if err != nil {
		return nil, fmt.Errorf("scan non-terminal plans: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		slog.Warn("recovering plan left in non-terminal state at startup; marking failed", "plan_id", id)
		if err := s.UpdatePlanStatus(ctx, id, model.PlanFailed, &model.RejectionDetails{
			Reason: "daemon restarted while plan was in flight; actions cannot be safely replayed",
		}); err != nil {
			return nil, fmt.Errorf("mark recovered plan %q failed: %w", id, err)
		}
	}
	return ids, nil
}

// PruneTerminal deletes plans, and their actions, whose status is terminal
// and whose updated_at is older than olderThan. It returns the number of
// plans removed.
func (s *Store) PruneTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := olderThan.UTC().Format(time.RFC3339Nano)
	statusArgs := []any{
		string(model.PlanCompleted), string(model.PlanFailed), string(model.PlanCancelled), string(model.PlanRejected), cutoff,
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM actions WHERE plan_id IN (
			SELECT plan_id FROM plans WHERE status IN (?, ?, ?, ?) AND updated_at < ?
		)`, statusArgs...); err != nil {
		return 0, fmt.Errorf("prune actions of terminal plans: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM plans WHERE status IN (?, ?, ?, ?) AND updated_at < ?`, statusArgs...)
	if err != nil {
		return 0, fmt.Errorf("prune terminal plans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned plans: %w", err)
	}
	return int(n), tx.Commit()
}

func upsertAction(ctx context.Context, tx *sql.Tx, planID string, a *model.ActionState) error {
	resultJSON, err := marshalNullable(a.Result)
	if err != nil {
		return fmt.Errorf("marshal action result: %w", err)
	}
	altJSON, err := marshalNullable(a.Alternatives)
	if err != nil {
		return fmt.Errorf("marshal action alternatives: %w", err)
	}
	approvalJSON, err := marshalNullable(a.ApprovalMetadata)
	if err != nil {
		return fmt.Errorf("marshal approval metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO actions (plan_id, action_id, status, started_at, finished_at, result_json, error, attempt, alternatives_json, approval_metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id, action_id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			result_json = excluded.result_json,
			error = excluded.error,
			attempt = excluded.attempt,
			alternatives_json = excluded.alternatives_json,
			approval_metadata_json = excluded.approval_metadata_json
	`, planID, a.ActionID, string(a.Status), formatTimePtr(a.StartedAt), formatTimePtr(a.FinishedAt),
		resultJSON, a.Error, a.Attempt, altJSON, approvalJSON)
	if err != nil {
		return fmt.Errorf("upsert action %q: %w", a.ActionID, err)
	}
	return nil
}

func scanAction(rows *sql.Rows) (*model.ActionState, error) {
	var a model.ActionState
	var startedAt, finishedAt, resultJSON, altJSON, approvalJSON sql.NullString
	var errStr sql.NullString
	if err := rows.Scan(&a.ActionID, &a.Status, &startedAt, &finishedAt, &resultJSON, &errStr, &a.Attempt, &altJSON, &approvalJSON); err != nil {
		return nil, fmt.Errorf("scan action: %w", err)
	}
	a.Error = errStr.String
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		a.StartedAt = &t
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		a.FinishedAt = &t
	}
	if resultJSON.Valid && resultJSON.String != "" {
		_ = json.Unmarshal([]byte(resultJSON.String), &a.Result)
	}
	if altJSON.Valid && altJSON.String != "" {
		_ = json.Unmarshal([]byte(altJSON.String), &a.Alternatives)
	}
	if approvalJSON.Valid && approvalJSON.String != "" {
		var meta model.ApprovalMetadata
		if err := json.Unmarshal([]byte(approvalJSON.String), &meta); err == nil {
			a.ApprovalMetadata = &meta
		}
	}
	return &a, nil
}

func marshalRejection(rd *model.RejectionDetails) sql.NullString {
	if rd == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(rd)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}
