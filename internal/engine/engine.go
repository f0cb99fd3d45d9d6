package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/leyuan/allocsrv/internal/models"
)

// Engine errors surfaced to callers.
var (
	ErrEmptyDataset = errors.New("dataset has no products or rounds")
	ErrInfeasible   = errors.New("model is infeasible under the current constraints")
	ErrUnbounded    = errors.New("model is unbounded")
	ErrSolverFailed = errors.New("solver failed")
)

// Engine builds, solves, and materializes one allocation model per call.
// It is stateless; concurrency control belongs to the caller.
type Engine struct {
	timeLimit float64
}

// New creates an engine with the given solver time limit in seconds.
func New(timeLimitSeconds float64) *Engine {
	return &Engine{timeLimit: timeLimitSeconds}
}

// Solve runs the full pipeline: normalize the configuration, build the
// model, compose the objective, invoke the solver, and materialize the
// allocation. On Infeasible, Unbounded, or solver failure the returned
// Solution carries the status and a nil Result alongside the error, so
// callers can report the status without re-deriving it.
func (e *Engine) Solve(ctx context.Context, ds *models.Dataset, cfg *models.SolveConfig) (*models.Solution, error) {
	if ds == nil || len(ds.Products) == 0 || len(ds.Rounds) == 0 {
		return nil, ErrEmptyDataset
	}

	cons, obj, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	logger := log.WithField("run_id", runID)

	space := newModelSpace(ds)
	NewConstraintBuilder(space, cons).Build()
	NewObjectiveComposer(space, cons, obj).Compose()
	logger.WithFields(log.Fields{
		"products": len(ds.Products),
		"rounds":   len(ds.Rounds),
		"cols":     space.cols,
		"rows":     space.rows,
	}).Info("model built")

	adapter := &SolverAdapter{TimeLimit: e.timeLimit}
	raw := adapter.Solve(ctx, space.hm)

	sol := &models.Solution{
		RunID:          runID,
		Status:         raw.status,
		ObjectiveValue: raw.objective,
		SolveSeconds:   raw.elapsed.Seconds(),
		ModelVars:      space.cols,
		ModelRows:      space.rows,
	}

	switch raw.status {
	case models.StatusOptimal:
		sol.Result = NewMaterializer(space).Materialize(raw.values)
		return sol, nil
	case models.StatusTimedOut:
		// A timed-out solve with an incumbent is still usable.
		if len(raw.values) > 0 {
			sol.Result = NewMaterializer(space).Materialize(raw.values)
			return sol, nil
		}
		return sol, fmt.Errorf("%w: time limit reached with no incumbent", ErrSolverFailed)
	case models.StatusInfeasible:
		return sol, ErrInfeasible
	case models.StatusUnbounded:
		return sol, ErrUnbounded
	default:
		if raw.message != "" {
			return sol, fmt.Errorf("%w: %s", ErrSolverFailed, raw.message)
		}
		return sol, ErrSolverFailed
	}
}
