package services

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/leyuan/allocsrv/internal/engine"
	"github.com/leyuan/allocsrv/internal/models"
	"github.com/leyuan/allocsrv/internal/repository"
)

var (
	ErrNoDataset       = errors.New("no dataset uploaded")
	ErrNoResult        = errors.New("no solve result available")
	ErrSolveBusy       = errors.New("a solve is already in progress")
	ErrHistoryDisabled = errors.New("run history is not enabled")
)

// RunStore persists and lists solve history. Optional; a nil store disables
// history.
type RunStore interface {
	Record(ctx context.Context, run *repository.SolveRun) error
	Recent(ctx context.Context, limit int) ([]repository.SolveRun, error)
}

// Outcome is one published solve: the solution, its validation report, and
// the dataset snapshot it was computed against. Immutable once published.
type Outcome struct {
	Solution    *models.Solution
	Validation  *models.ValidationReport
	Dataset     *models.Dataset
	CompletedAt time.Time
}

// AllocationService owns the uploaded dataset and the current outcome.
// At most one solve runs at a time; readers only ever see fully published
// outcomes.
type AllocationService struct {
	engine *engine.Engine
	runs   RunStore

	solveSem *semaphore.Weighted

	mu      sync.RWMutex
	dataset *models.Dataset
	outcome *Outcome
}

// NewAllocationService creates a new AllocationService. runs may be nil.
func NewAllocationService(eng *engine.Engine, runs RunStore) *AllocationService {
	return &AllocationService{
		engine:   eng,
		runs:     runs,
		solveSem: semaphore.NewWeighted(1),
	}
}

// LoadDataset replaces the current dataset and clears any previous outcome,
// which was computed against data that no longer applies.
func (s *AllocationService) LoadDataset(ds *models.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataset = ds
	s.outcome = nil
	log.WithFields(log.Fields{
		"products": len(ds.Products),
		"rounds":   len(ds.Rounds),
	}).Info("dataset loaded")
}

// Dataset returns the current dataset.
func (s *AllocationService) Dataset() (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dataset == nil {
		return nil, ErrNoDataset
	}
	return s.dataset, nil
}

// Result returns the current published outcome.
func (s *AllocationService) Result() (*Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.outcome == nil {
		return nil, ErrNoResult
	}
	return s.outcome, nil
}

// Solve runs one optimization over the current dataset. Concurrent calls
// are rejected with ErrSolveBusy rather than queued. The published outcome
// is replaced only when the solve produced a usable allocation; a failed
// solve leaves the previous outcome in place.
func (s *AllocationService) Solve(ctx context.Context, cfg *models.SolveConfig) (*Outcome, error) {
	defer TrackTime("AllocationService.Solve", time.Now())

	if !s.solveSem.TryAcquire(1) {
		return nil, ErrSolveBusy
	}
	defer s.solveSem.Release(1)

	s.mu.RLock()
	ds := s.dataset
	s.mu.RUnlock()
	if ds == nil {
		return nil, ErrNoDataset
	}

	// Validate the configuration before building anything; the constraint
	// set is also what the validator checks against afterwards.
	cons, _, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}

	sol, err := s.engine.Solve(ctx, ds, cfg)
	if err != nil {
		if sol != nil {
			s.recordRun(sol, ds, 0)
		}
		return nil, err
	}

	report := engine.NewValidator(ds, cons).Validate(sol.Result)
	s.recordRun(sol, ds, report.Summary.TotalViolations)

	out := &Outcome{
		Solution:    sol,
		Validation:  report,
		Dataset:     ds,
		CompletedAt: time.Now(),
	}
	s.publish(ds, out)
	return out, nil
}

// publish stores an outcome unless the dataset it was computed against has
// been replaced mid-solve; an outcome for unloaded data must never surface.
func (s *AllocationService) publish(ds *models.Dataset, out *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset == ds {
		s.outcome = out
	}
}

// recordRun persists solve history best-effort; failures are logged, never
// surfaced to the caller.
func (s *AllocationService) recordRun(sol *models.Solution, ds *models.Dataset, violations int) {
	if s.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run := &repository.SolveRun{
		RunID:          sol.RunID,
		Status:         string(sol.Status),
		ObjectiveValue: sol.ObjectiveValue,
		SolveSeconds:   sol.SolveSeconds,
		ProductCount:   len(ds.Products),
		RoundCount:     len(ds.Rounds),
		ViolationCount: violations,
	}
	if err := s.runs.Record(ctx, run); err != nil {
		log.WithError(err).WithField("run_id", sol.RunID).Warn("failed to record solve run")
	}
}

// RecentRuns lists the most recent solve history, newest first.
func (s *AllocationService) RecentRuns(ctx context.Context, limit int) ([]repository.SolveRun, error) {
	if s.runs == nil {
		return nil, ErrHistoryDisabled
	}
	return s.runs.Recent(ctx, limit)
}

// Validation returns the report computed for the current outcome.
func (s *AllocationService) Validation() (*models.ValidationReport, error) {
	out, err := s.Result()
	if err != nil {
		return nil, err
	}
	return out.Validation, nil
}
