package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

func (s *Store) SavePlan(ctx context.Context, plan *models.Plan) error {
	if plan == nil {
		return errors.New("nil plan")
	}
	now := s.now()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	if plan.Status == "" {
		plan.Status = models.PlanStatusDraft
	}

	linked, err := json.Marshal(nonNil(plan.LinkedFileRefs))
	if err != nil {
		return fmt.Errorf("failed to encode linked files: %w", err)
	}

	const q = `
		INSERT INTO plans
			(id, job_id, file_ref, file_name, page_count, status, error_message, linked_file_refs,
			 project_name, project_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			job_id = excluded.job_id,
			file_ref = excluded.file_ref,
			file_name = excluded.file_name,
			page_count = excluded.page_count,
			status = excluded.status,
			error_message = excluded.error_message,
			linked_file_refs = excluded.linked_file_refs,
			project_name = excluded.project_name,
			project_address = excluded.project_address,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, q,
		plan.ID, plan.JobID, plan.FileRef, plan.FileName, plan.PageCount, string(plan.Status),
		plan.ErrorMessage, string(linked), plan.ProjectName, plan.ProjectAddress,
		millis(plan.CreatedAt), millis(plan.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	const q = `
		SELECT id, job_id, file_ref, file_name, page_count, status, error_message, linked_file_refs,
		       project_name, project_address, created_at, updated_at
		FROM plans WHERE id = $1
	`
	var (
		p                  models.Plan
		status, linked     string
		createdAt, updated int64
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.JobID, &p.FileRef, &p.FileName, &p.PageCount, &status, &p.ErrorMessage, &linked,
		&p.ProjectName, &p.ProjectAddress, &createdAt, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	p.Status = models.PlanStatus(status)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updated)
	if err := json.Unmarshal([]byte(linked), &p.LinkedFileRefs); err != nil {
		return nil, fmt.Errorf("failed to decode linked files: %w", err)
	}
	return &p, nil
}

func (s *Store) UpdatePlanStatus(ctx context.Context, id string, status models.PlanStatus, errMsg string) error {
	return s.updatePlan(ctx, id,
		`UPDATE plans SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, millis(s.now()), id)
}

func (s *Store) SetPageCount(ctx context.Context, id string, pages int) error {
	return s.updatePlan(ctx, id,
		`UPDATE plans SET page_count = $1, updated_at = $2 WHERE id = $3`,
		pages, millis(s.now()), id)
}

func (s *Store) SetProject(ctx context.Context, info models.ProjectInfo) error {
	return s.updatePlan(ctx, info.PlanID,
		`UPDATE plans SET project_name = $1, project_address = $2, updated_at = $3 WHERE id = $4`,
		info.Name, info.Address, millis(s.now()), info.PlanID)
}

func (s *Store) SaveStatus(ctx context.Context, planID string, status *models.ProcessingStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}
	return s.updatePlan(ctx, planID,
		`UPDATE plans SET processing_status = $1, updated_at = $2 WHERE id = $3`,
		string(data), millis(s.now()), planID)
}

func (s *Store) GetStatus(ctx context.Context, planID string) (*models.ProcessingStatus, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT processing_status FROM plans WHERE id = $1`, planID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load status: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var status models.ProcessingStatus
	if err := json.Unmarshal([]byte(raw.String), &status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

func (s *Store) updatePlan(ctx context.Context, id, q string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
