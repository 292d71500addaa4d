package optimization

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Strategy bundles the lifecycle services shared by sequential optimizer
// variants: constraint checking, objective evaluation, best-solution
// tracking, the generic windowed convergence test, history and progress
// events. Concrete drivers embed it and run their own loop on top.
//
// A Strategy is scoped to a single run and is not safe for concurrent use;
// concurrent runs each own their own instance.
type Strategy struct {
	cfg    Config
	dim    int
	best   *Solution
	hist   []Snapshot
	start  time.Time
	logger *zap.Logger
}

// NewStrategy validates the strategy-independent parts of cfg, applies
// defaults and returns the shared services. Missing objective or bounds is a
// fail-fast configuration error: without bounds the problem dimension cannot
// be inferred.
func NewStrategy(cfg Config, logger *zap.Logger) (*Strategy, error) {
	const op = "NewStrategy"

	if cfg.Objective == nil {
		return nil, NewConfigError("objective function is required").WithOperation(op)
	}
	if len(cfg.Bounds) == 0 {
		return nil, NewConfigError("box constraints are required: dimension cannot be inferred").WithOperation(op)
	}
	for i, b := range cfg.Bounds {
		if b[0] > b[1] {
			return nil, NewConfigErrorf("bounds[%d]: min %v exceeds max %v", i, b[0], b[1]).WithOperation(op)
		}
	}

	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 100
	}
	if cfg.InitialPoints <= 0 {
		cfg.InitialPoints = 10
	}
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = 1000
	}
	if cfg.ConvergenceWindow <= 0 {
		cfg.ConvergenceWindow = 10
	}
	if cfg.ImprovementTol <= 0 {
		cfg.ImprovementTol = 1e-6
	}
	if cfg.StdTol <= 0 {
		cfg.StdTol = 1e-3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Strategy{
		cfg:    cfg,
		dim:    len(cfg.Bounds),
		hist:   make([]Snapshot, 0, cfg.MaxIterations),
		logger: logger,
	}, nil
}

// Config returns the run configuration with defaults applied.
func (s *Strategy) Config() Config { return s.cfg }

// Dim returns the problem dimension inferred from the bounds.
func (s *Strategy) Dim() int { return s.dim }

// CheckConstraints reports whether x lies inside every [min, max] pair and
// satisfies the caller's extra predicate, if any.
func (s *Strategy) CheckConstraints(x []float64) bool {
	if len(x) != s.dim {
		return false
	}
	for i, v := range x {
		if v < s.cfg.Bounds[i][0] || v > s.cfg.Bounds[i][1] {
			return false
		}
	}
	if s.cfg.Feasible != nil && !s.cfg.Feasible(x) {
		return false
	}
	return true
}

// EvaluateObjective invokes the caller-supplied objective at x. There is no
// internal timeout; the call blocks until the objective returns or ctx is
// cancelled beforehand. Objective failures are wrapped with operation context
// and abort the run.
func (s *Strategy) EvaluateObjective(ctx context.Context, x []float64) (float64, error) {
	const op = "EvaluateObjective"

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	v, err := s.cfg.Objective(x)
	if err != nil {
		return 0, WrapEvalError(err, op)
	}
	return v, nil
}

// UpdateBest replaces the incumbent when value is strictly smaller. Ties keep
// the incumbent, which makes repeated runs deterministically stable. The
// parameter slice is copied.
func (s *Strategy) UpdateBest(x []float64, value float64) {
	if s.best == nil || value < s.best.Value {
		s.best = &Solution{
			Parameters: append([]float64(nil), x...),
			Value:      value,
		}
	}
}

// BestSolution returns the incumbent, or nil before the first evaluation.
func (s *Strategy) BestSolution() *Solution { return s.best }

// CheckConvergence reports whether the best value improved by less than the
// configured tolerance across the trailing window. It is false while the
// history is shorter than the window.
func (s *Strategy) CheckConvergence() bool {
	w := s.cfg.ConvergenceWindow
	if len(s.hist) < w {
		return false
	}
	oldest := s.hist[len(s.hist)-w].BestValue
	newest := s.hist[len(s.hist)-1].BestValue
	return oldest-newest < s.cfg.ImprovementTol
}

// RecordIteration appends a snapshot of the incumbent and emits the
// iterationComplete event. The event send never blocks: a slow or absent
// consumer drops events rather than stalling the loop.
func (s *Strategy) RecordIteration(iteration int) {
	snap := Snapshot{
		Iteration: iteration,
		BestValue: math.Inf(1),
	}
	if s.best != nil {
		snap.BestValue = s.best.Value
		snap.BestParameters = append([]float64(nil), s.best.Parameters...)
	}
	s.hist = append(s.hist, snap)

	if s.cfg.ProgressChan != nil {
		select {
		case s.cfg.ProgressChan <- snap:
		default:
			s.logger.Debug("progress event dropped", zap.Int("iteration", iteration))
		}
	}
}

// History returns the per-iteration snapshots recorded so far.
func (s *Strategy) History() []Snapshot { return s.hist }

// StartRun marks the beginning of the run for elapsed-time accounting.
func (s *Strategy) StartRun() { s.start = time.Now() }

// Result builds the terminal snapshot for the given termination reason.
func (s *Strategy) Result(iterations int, reason string) *Result {
	return &Result{
		BestSolution: s.best,
		Iterations:   iterations,
		Elapsed:      time.Since(s.start),
		Reason:       reason,
		History:      s.hist,
	}
}
