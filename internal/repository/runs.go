package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

func (s *Store) CreateRun(ctx context.Context, run *models.TakeoffRun) error {
	now := s.now()
	run.CreatedAt, run.UpdatedAt = now, now
	if run.Status == "" {
		run.Status = models.RunQueued
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO takeoff_runs (id, plan_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, run.ID, run.PlanID, string(run.Status), millis(now), millis(now))
	if err != nil {
		return fmt.Errorf("failed to create takeoff run: %w", err)
	}
	return nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus) error {
	return s.updateRun(ctx, runID,
		`UPDATE takeoff_runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), millis(s.now()), runID)
}

func (s *Store) SaveRunResult(ctx context.Context, runID string, result *models.TakeoffResult, exportURL string) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode takeoff result: %w", err)
	}
	return s.updateRun(ctx, runID,
		`UPDATE takeoff_runs SET status = $1, result = $2, export_url = $3, updated_at = $4 WHERE id = $5`,
		string(models.RunCompleted), string(data), exportURL, millis(s.now()), runID)
}

func (s *Store) GetRun(ctx context.Context, runID string) (*models.TakeoffRun, error) {
	var (
		run                models.TakeoffRun
		status             string
		result             sql.NullString
		createdAt, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, plan_id, status, result, export_url, created_at, updated_at
		FROM takeoff_runs WHERE id = $1
	`, runID).Scan(&run.ID, &run.PlanID, &status, &result, &run.ExportURL, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load takeoff run: %w", err)
	}
	run.Status = models.RunStatus(status)
	run.CreatedAt = fromMillis(createdAt)
	run.UpdatedAt = fromMillis(updated)
	if result.Valid && result.String != "" {
		run.Result = &models.TakeoffResult{}
		if err := json.Unmarshal([]byte(result.String), run.Result); err != nil {
			return nil, fmt.Errorf("failed to decode takeoff result: %w", err)
		}
	}
	return &run, nil
}

func (s *Store) updateRun(ctx context.Context, id, q string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to update takeoff run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
