package engine

import (
	"context"
	"time"

	"github.com/bartolsthoorn/gohighs/highs"
	log "github.com/sirupsen/logrus"

	"github.com/leyuan/allocsrv/internal/models"
)

// SolverAdapter hands an assembled model to HiGHS under a wall-clock budget
// and normalizes the solver outcome. The budget must stay strictly below the
// upstream request timeout so materialization has headroom.
type SolverAdapter struct {
	// TimeLimit is the solver budget in seconds.
	TimeLimit float64
}

// rawSolution is the adapter's normalized view of one solver run.
type rawSolution struct {
	status    models.SolveStatus
	objective float64
	values    []float64
	elapsed   time.Duration
	message   string
}

// Solve runs the model once, retrying a single time on a solver-process
// error (retrying an unchanged LP/MILP beyond that is deterministic waste).
// Context cancellation is honored between attempts; HiGHS itself terminates
// at the time limit.
func (a *SolverAdapter) Solve(ctx context.Context, hm *highs.Model) rawSolution {
	start := time.Now()

	sol, err := a.run(hm)
	if err != nil {
		if ctx.Err() != nil {
			return rawSolution{status: models.StatusSolverError, elapsed: time.Since(start), message: ctx.Err().Error()}
		}
		log.WithError(err).Warn("solver run failed, retrying once")
		sol, err = a.run(hm)
	}
	elapsed := time.Since(start)
	if err != nil {
		return rawSolution{status: models.StatusSolverError, elapsed: elapsed, message: err.Error()}
	}

	out := rawSolution{elapsed: elapsed, objective: sol.Objective}
	switch sol.Status {
	case highs.ModelStatusOptimal:
		out.status = models.StatusOptimal
		out.values = sol.ColValues
	case highs.ModelStatusInfeasible:
		out.status = models.StatusInfeasible
	case highs.ModelStatusUnbounded:
		out.status = models.StatusUnbounded
	case highs.ModelStatusTimeLimit:
		out.status = models.StatusTimedOut
		// keep the incumbent when the solver surfaced one
		if len(sol.ColValues) > 0 {
			out.values = sol.ColValues
		}
	default:
		out.status = models.StatusSolverError
		out.message = "unexpected solver status"
	}

	log.WithFields(log.Fields{
		"status":  out.status,
		"elapsed": elapsed.Seconds(),
	}).Info("solve finished")
	return out
}

func (a *SolverAdapter) run(hm *highs.Model) (*highs.Solution, error) {
	return hm.Solve(
		highs.WithOutput(false),
		highs.WithTimeLimit(a.TimeLimit),
	)
}
