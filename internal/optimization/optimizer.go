package optimization

import (
	"context"
	"time"
)

// StrategyBayesian is the only optimization type implemented by this module.
// Sibling strategies (e.g. evolutionary variants) share the same contract but
// live elsewhere.
const StrategyBayesian = "bayesian"

// Acquisition function selectors.
const (
	AcquisitionUCB = "ucb" // confidence bound: mean - k*std
	AcquisitionEI  = "ei"  // expected improvement
	AcquisitionPOI = "poi" // probability of improvement
)

// Kernel selectors.
const (
	KernelRBF      = "rbf"
	KernelMatern52 = "matern52"
)

// Termination reasons reported in a Result.
const (
	ReasonConverged       = "converged"
	ReasonBudgetExhausted = "budget-exhausted"
)

// ObjectiveFunction is the caller-supplied function being minimized. It may be
// long-running; the driver waits for completion with no internal timeout.
// Failures abort the run and propagate to the caller of Optimize.
type ObjectiveFunction func(x []float64) (float64, error)

// Optimizer is the contract shared by sequential optimization strategies.
type Optimizer interface {
	// Optimize runs one optimization and returns the terminal result.
	Optimize(ctx context.Context) (*Result, error)

	// BestSolution returns the incumbent, or nil before the first evaluation.
	BestSolution() *Solution

	// History returns the per-iteration snapshots recorded so far.
	History() []Snapshot
}

// Config describes one optimization run. Type, Objective, Bounds, Kernel and
// Acquisition are required; everything else has a default applied at
// construction.
type Config struct {
	// Type selects the strategy. Must be StrategyBayesian.
	Type string

	// Objective is the function to minimize.
	Objective ObjectiveFunction

	// Bounds holds [min, max] per dimension. The problem dimension is
	// inferred from len(Bounds) and fixed for the run.
	Bounds [][2]float64

	// Feasible is an optional extra predicate on top of the box constraints.
	Feasible func(x []float64) bool

	// Acquisition selects the acquisition function (ucb, ei, poi).
	Acquisition string

	// Kernel selects the covariance function (rbf, matern52).
	Kernel string

	// MaxIterations is the iteration budget after warming. Default 100.
	MaxIterations int

	// InitialPoints is the requested warming size; the driver draws
	// min(10, InitialPoints) points. Default 10.
	InitialPoints int

	// CandidatePool is the number of random candidates scored per iteration.
	// Default 1000.
	CandidatePool int

	// ConvergenceWindow is the trailing window for the improvement test.
	// Default 10.
	ConvergenceWindow int

	// ImprovementTol is the minimum best-value improvement over the window
	// below which the run is declared converged. Default 1e-6.
	ImprovementTol float64

	// StdTol stops the run when the surrogate's predicted standard deviation
	// at the most recently evaluated point falls below it. Default 1e-3.
	StdTol float64

	// RandomSeed fixes all random draws for reproducible runs. Zero means
	// seed from the clock.
	RandomSeed int64

	// LocalRefinement enables a Nelder-Mead polish of the candidate argmax
	// before evaluation. Off by default; the refined point is used only if it
	// is still feasible.
	LocalRefinement bool

	// ProgressChan, if set, receives a ProgressEvent after every iteration.
	// Sends never block: a full channel drops the event.
	ProgressChan chan<- ProgressEvent
}

// Solution is a parameter vector with its objective value.
type Solution struct {
	Parameters []float64
	Value      float64
}

// Snapshot records the incumbent after one iteration. The history of
// snapshots feeds the windowed convergence test.
type Snapshot struct {
	Iteration      int
	BestValue      float64
	BestParameters []float64
}

// ProgressEvent is the payload of the iterationComplete notification.
type ProgressEvent = Snapshot

// Result is the terminal snapshot of one run.
type Result struct {
	BestSolution *Solution
	Iterations   int
	Elapsed      time.Duration
	Reason       string
	History      []Snapshot
}
