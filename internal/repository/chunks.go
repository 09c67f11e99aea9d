package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

// ReplaceChunks swaps the plan's chunks in one transaction. The full chunk
// is kept as a JSON payload next to the queryable columns.
func (s *Store) ReplaceChunks(ctx context.Context, planID string, chunks []models.Chunk) error {
	now := millis(s.now())
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE plan_id = $1`, planID); err != nil {
			return fmt.Errorf("failed to clear chunks: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks
				(id, plan_id, chunk_index, page_start, page_end, token_count, text, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			payload, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("failed to encode chunk %d: %w", c.Index, err)
			}
			if _, err := stmt.ExecContext(ctx,
				c.ID, planID, c.Index, c.PageStart, c.PageEnd, c.TokenCount, c.Text, string(payload), now,
			); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", c.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("Replaced chunks",
		logger.String("planId", planID),
		logger.Int("chunks", len(chunks)),
	)
	return nil
}

func (s *Store) ListChunks(ctx context.Context, planID string) ([]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM chunks WHERE plan_id = $1 ORDER BY chunk_index`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []models.Chunk{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		var c models.Chunk
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("failed to decode chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
