package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"switchyard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertRun(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	changeSet, err := json.Marshal(run.ChangeSet)
	if err != nil {
		return fmt.Errorf("marshal change set: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs(id,pipeline_id,state,change_set_json,concurrency,started_at,finished_at) VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.PipelineID, run.State, string(changeSet), run.Concurrency, run.StartedAt, nullable(run.FinishedAt))
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,pipeline_id,state,change_set_json,concurrency,started_at,COALESCE(finished_at,'') FROM runs WHERE id=?`, id)
	return scanRun(row)
}

func scanRun(row *sql.Row) (domain.Run, error) {
	var run domain.Run
	var changeSet string
	err := row.Scan(&run.ID, &run.PipelineID, &run.State, &changeSet, &run.Concurrency, &run.StartedAt, &run.FinishedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	if err != nil {
		return run, err
	}
	if err := json.Unmarshal([]byte(changeSet), &run.ChangeSet); err != nil {
		return run, fmt.Errorf("run %s change set: %w", run.ID, err)
	}
	return run, nil
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,pipeline_id,state,change_set_json,concurrency,started_at,COALESCE(finished_at,'') FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []domain.Run
	for rows.Next() {
		var run domain.Run
		var changeSet string
		if err := rows.Scan(&run.ID, &run.PipelineID, &run.State, &changeSet, &run.Concurrency, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(changeSet), &run.ChangeSet); err != nil {
			return nil, fmt.Errorf("run %s change set: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r Repo) InsertNodeResult(ctx context.Context, tx *sql.Tx, res domain.NodeResult) error {
	var blockedBy any
	if len(res.BlockedBy) > 0 {
		data, err := json.Marshal(res.BlockedBy)
		if err != nil {
			return fmt.Errorf("marshal blocked_by: %w", err)
		}
		blockedBy = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO node_results(run_id,node,state,attempts,reason,blocked_by_json,started_at,finished_at) VALUES (?,?,?,?,?,?,?,?)`,
		res.RunID, res.Node, res.State, res.Attempts, nullable(res.Reason), blockedBy, nullable(res.StartedAt), nullable(res.FinishedAt))
	return err
}

func (r Repo) ListNodeResults(ctx context.Context, runID string) ([]domain.NodeResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,node,state,attempts,COALESCE(reason,''),COALESCE(blocked_by_json,''),COALESCE(started_at,''),COALESCE(finished_at,'') FROM node_results WHERE run_id=? ORDER BY node`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []domain.NodeResult
	for rows.Next() {
		var res domain.NodeResult
		var blockedBy string
		if err := rows.Scan(&res.RunID, &res.Node, &res.State, &res.Attempts, &res.Reason, &blockedBy, &res.StartedAt, &res.FinishedAt); err != nil {
			return nil, err
		}
		if blockedBy != "" {
			if err := json.Unmarshal([]byte(blockedBy), &res.BlockedBy); err != nil {
				return nil, fmt.Errorf("node %s blocked_by: %w", res.Node, err)
			}
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// ListEvents returns the newest events first, up to limit.
func (r Repo) ListEvents(ctx context.Context, runID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,COALESCE(run_id,''),COALESCE(node,''),payload_json FROM events`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id=?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.Node, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("event %d payload: %w", e.ID, err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
