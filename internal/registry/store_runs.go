package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateRun inserts a new pending run for the entity. The partial unique
// index turns a second non-terminal run into ErrRunActive.
func (s *Store) CreateRun(ctx context.Context, entityID, runToken, paramsJSON string) (*Run, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(runToken) == "" {
		return nil, errors.New("run token is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO runs (
            entity_id, run_token, status, params_json,
            created_at, updated_at, last_heartbeat
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entityID,
		runToken,
		StatusPending,
		nullableString(paramsJSON),
		timestamp,
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunActive, entityID)
		}
		return nil, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.runByID(ctx, id)
}

// MarkRunning transitions a pending run to running.
func (s *Store) MarkRunning(ctx context.Context, runToken string) (*Run, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs
         SET status = ?, started_at = ?, updated_at = ?, last_heartbeat = ?
         WHERE run_token = ? AND status = ?`,
		StatusRunning,
		timestamp,
		timestamp,
		timestamp,
		runToken,
		StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotActive, runToken)
	}
	return s.RunByToken(ctx, runToken)
}

// CompleteRun terminates a run successfully: it stores the final artifact and
// assigns the next per-entity version in the same statement, so a reader who
// observes the completed status always observes the result and version too.
// The compare-and-set predicate guarantees a run terminates at most once.
func (s *Store) CompleteRun(ctx context.Context, runToken, resultJSON string) (*Run, error) {
	if strings.TrimSpace(resultJSON) == "" {
		return nil, errors.New("result is required to complete a run")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs
         SET status = ?,
             version = (SELECT COALESCE(MAX(r2.version), 0) + 1 FROM runs AS r2 WHERE r2.entity_id = runs.entity_id),
             result_json = ?,
             error_message = NULL,
             finished_at = ?,
             updated_at = ?,
             last_heartbeat = NULL
         WHERE run_token = ? AND status IN (?, ?)`,
		StatusCompleted,
		resultJSON,
		timestamp,
		timestamp,
		runToken,
		StatusPending,
		StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("complete run: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotActive, runToken)
	}
	return s.RunByToken(ctx, runToken)
}

// FailRun terminates a run with an error message. Same compare-and-set
// discipline as CompleteRun; version is not bumped on failure.
func (s *Store) FailRun(ctx context.Context, runToken, message string) (*Run, error) {
	if strings.TrimSpace(message) == "" {
		message = "run failed"
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs
         SET status = ?, error_message = ?, finished_at = ?, updated_at = ?, last_heartbeat = NULL
         WHERE run_token = ? AND status IN (?, ?)`,
		StatusFailed,
		message,
		timestamp,
		timestamp,
		runToken,
		StatusPending,
		StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("fail run: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	} else if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotActive, runToken)
	}
	return s.RunByToken(ctx, runToken)
}

// UpdateHeartbeat refreshes the liveness marker of an active run.
func (s *Store) UpdateHeartbeat(ctx context.Context, runToken string, at time.Time) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE runs SET last_heartbeat = ?, updated_at = ?
         WHERE run_token = ? AND status IN (?, ?)`,
		at.UTC().Format(time.RFC3339Nano),
		at.UTC().Format(time.RFC3339Nano),
		runToken,
		StatusPending,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runToken)
	}
	return nil
}

// RunByToken fetches a run by its token.
func (s *Store) RunByToken(ctx context.Context, runToken string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_token = ?`, runToken)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run by token: %w", err)
	}
	return run, nil
}

func (s *Store) runByID(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recently created run for the entity, nil when
// the entity has never been ingested.
func (s *Store) LatestRun(ctx context.Context, entityID string) (*Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE entity_id = ? ORDER BY id DESC LIMIT 1`,
		entityID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// ActiveRun returns the entity's pending or running run, nil when none.
func (s *Store) ActiveRun(ctx context.Context, entityID string) (*Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE entity_id = ? AND status IN (?, ?) LIMIT 1`,
		entityID,
		StatusPending,
		StatusRunning,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active run: %w", err)
	}
	return run, nil
}

// LatestCompleted returns the entity's newest completed run, which carries the
// highest version and the current durable artifact. Nil when none completed.
func (s *Store) LatestCompleted(ctx context.Context, entityID string) (*Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE entity_id = ? AND status = ? ORDER BY version DESC LIMIT 1`,
		entityID,
		StatusCompleted,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed run: %w", err)
	}
	return run, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	EntityID string
	Statuses []Status
	Limit    int
}

// List returns runs newest-first, optionally filtered by entity and status.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var (
		clauses []string
		args    []any
	)
	if filter.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Stats returns a count of runs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// ReclaimStale fails active runs whose heartbeat predates the cutoff. A run
// in that state belongs to a runner that no longer exists, typically after a
// daemon crash. Returns the reclaimed runs.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time, reason string) ([]*Run, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs
         WHERE status IN (?, ?) AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		StatusPending,
		StatusRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("find stale runs: %w", err)
	}
	stale, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}

	var reclaimed []*Run
	for _, run := range stale {
		failed, err := s.FailRun(ctx, run.RunToken, reason)
		if errors.Is(err, ErrRunNotActive) {
			// The owning runner terminated it in the window between the
			// select and the update. Not stale after all.
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		reclaimed = append(reclaimed, failed)
	}
	return reclaimed, nil
}

// FailActive fails every non-terminal run with the given reason. Used on
// daemon shutdown so no run is left dangling in running state.
func (s *Store) FailActive(ctx context.Context, reason string) ([]*Run, error) {
	return s.ReclaimStale(ctx, time.Now().UTC().Add(time.Hour), reason)
}

// Clear deletes terminal runs, optionally narrowed to specific terminal
// statuses. Active runs are never deleted.
func (s *Store) Clear(ctx context.Context, statuses ...Status) (int64, error) {
	targets := make([]Status, 0, 2)
	if len(statuses) == 0 {
		targets = append(targets, StatusCompleted, StatusFailed)
	} else {
		for _, status := range statuses {
			if !status.IsTerminal() {
				return 0, fmt.Errorf("cannot clear non-terminal status %q", status)
			}
			targets = append(targets, status)
		}
	}
	args := make([]any, len(targets))
	for i, status := range targets {
		args[i] = status
	}
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM runs WHERE status IN (`+makePlaceholders(len(targets))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("clear runs: %w", err)
	}
	return res.RowsAffected()
}

const runColumns = "id, entity_id, run_token, status, version, params_json, result_json, error_message, created_at, updated_at, started_at, finished_at, last_heartbeat"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id           int64
		entityID     string
		runToken     string
		statusStr    string
		version      int64
		params       sql.NullString
		result       sql.NullString
		errorMessage sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		heartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&entityID,
		&runToken,
		&statusStr,
		&version,
		&params,
		&result,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	run := &Run{
		ID:           id,
		EntityID:     entityID,
		RunToken:     runToken,
		Status:       Status(statusStr),
		Version:      version,
		ParamsJSON:   params.String,
		ResultJSON:   result.String,
		ErrorMessage: errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		run.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			run.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			run.LastHeartbeat = &heartbeat
		}
	}
	return run, nil
}

func collectRuns(rows *sql.Rows) ([]*Run, error) {
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
