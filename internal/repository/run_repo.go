package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SolveRun is one row of solve history.
type SolveRun struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	ObjectiveValue float64   `json:"objective_value"`
	SolveSeconds   float64   `json:"solve_seconds"`
	ProductCount   int       `json:"product_count"`
	RoundCount     int       `json:"round_count"`
	ViolationCount int       `json:"violation_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// RunRepository persists solve history.
type RunRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

// Record inserts one solve run.
func (r *RunRepository) Record(ctx context.Context, run *SolveRun) error {
	query := `
		INSERT INTO solve_run (run_id, status, objective_value, solve_seconds,
			product_count, round_count, violation_count, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created
	`
	err := r.pool.QueryRow(ctx, query,
		run.RunID, run.Status, run.ObjectiveValue, run.SolveSeconds,
		run.ProductCount, run.RoundCount, run.ViolationCount,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record solve run: %w", err)
	}
	return nil
}

// Recent returns the most recent solve runs, newest first.
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]SolveRun, error) {
	query := `
		SELECT run_id, status, objective_value, solve_seconds,
			product_count, round_count, violation_count, created
		FROM solve_run
		ORDER BY created DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list solve runs: %w", err)
	}
	defer rows.Close()

	var runs []SolveRun
	for rows.Next() {
		var run SolveRun
		if err := rows.Scan(
			&run.RunID, &run.Status, &run.ObjectiveValue, &run.SolveSeconds,
			&run.ProductCount, &run.RoundCount, &run.ViolationCount, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan solve run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
