package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

// ReplaceSheets swaps the plan's sheet index in one transaction, so readers
// never observe a plan without an index mid-update.
func (s *Store) ReplaceSheets(ctx context.Context, planID string, sheets []models.SheetIndexEntry) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sheet_index WHERE plan_id = $1`, planID); err != nil {
			return fmt.Errorf("failed to clear sheet index: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sheet_index
				(plan_id, page_no, sheet_id, title, discipline, scale, scale_ratio, units, sheet_type,
				 rotation, has_text, has_image, keywords)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare sheet insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range sheets {
			keywords, err := json.Marshal(nonNil(e.Keywords))
			if err != nil {
				return fmt.Errorf("failed to encode keywords: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				planID, e.PageNo, e.SheetID, e.Title, string(e.Discipline), e.Scale, e.ScaleRatio,
				string(e.Units), string(e.SheetType), e.Rotation, e.HasText, e.HasImage, string(keywords),
			); err != nil {
				return fmt.Errorf("failed to insert sheet %d: %w", e.PageNo, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Replaced sheet index",
		logger.String("planId", planID),
		logger.Int("sheets", len(sheets)),
	)
	return nil
}

func (s *Store) ListSheets(ctx context.Context, planID string) ([]models.SheetIndexEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_no, sheet_id, title, discipline, scale, scale_ratio, units, sheet_type,
		       rotation, has_text, has_image, keywords
		FROM sheet_index WHERE plan_id = $1 ORDER BY page_no
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sheet index: %w", err)
	}
	defer rows.Close()

	sheets := []models.SheetIndexEntry{}
	for rows.Next() {
		var (
			e                                  models.SheetIndexEntry
			discipline, units, sheetType, keys string
		)
		if err := rows.Scan(&e.PageNo, &e.SheetID, &e.Title, &discipline, &e.Scale, &e.ScaleRatio,
			&units, &sheetType, &e.Rotation, &e.HasText, &e.HasImage, &keys); err != nil {
			return nil, fmt.Errorf("failed to scan sheet: %w", err)
		}
		e.PlanID = planID
		e.Discipline = models.Discipline(discipline)
		e.Units = models.Units(units)
		e.SheetType = models.SheetType(sheetType)
		if err := json.Unmarshal([]byte(keys), &e.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords: %w", err)
		}
		sheets = append(sheets, e)
	}
	return sheets, rows.Err()
}
