package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnalysisRun is one recorded analysis request and its outcome.
type AnalysisRun struct {
	ID              uuid.UUID `json:"id"`
	Query           string    `json:"query"`
	Days            int       `json:"days"`
	Model           string    `json:"model"`
	Status          string    `json:"status"`
	Content         string    `json:"content,omitempty"`
	Error           string    `json:"error,omitempty"`
	TranscriptChars int       `json:"transcript_chars"`
	LoadID          string    `json:"load_id"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Store) RecordAnalysis(ctx context.Context, run AnalysisRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_runs (id, query, days, model, status, content, error, transcript_chars, load_id, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Query, run.Days, run.Model, run.Status, run.Content, run.Error,
		run.TranscriptChars, run.LoadID, run.DurationMS, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis run: %w", err)
	}
	return nil
}

// ListAnalyses returns the most recent runs, newest first.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, query, days, model, status, content, error, transcript_chars, load_id, duration_ms, created_at
		FROM analysis_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query analysis runs: %w", err)
	}
	defer rows.Close()

	var runs []AnalysisRun
	for rows.Next() {
		var r AnalysisRun
		if err := rows.Scan(&r.ID, &r.Query, &r.Days, &r.Model, &r.Status, &r.Content, &r.Error,
			&r.TranscriptChars, &r.LoadID, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
