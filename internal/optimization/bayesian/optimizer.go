// Package bayesian implements sequential Bayesian optimization: a Gaussian
// Process surrogate fit to all past observations, an acquisition function
// ranking random candidates, and a driver loop that evaluates the most
// promising point until the run converges or the budget runs out.
package bayesian

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/quantforge/bayesopt/internal/optimization"
	"github.com/quantforge/bayesopt/internal/optimization/acquisition"
	"github.com/quantforge/bayesopt/internal/optimization/kernels"
)

// maxWarmingPoints caps the warming phase regardless of the configured
// initial-population size.
const maxWarmingPoints = 10

// Optimizer drives one Bayesian optimization run. It owns its observations,
// surrogate and random source, so concurrent runs need no shared state.
type Optimizer struct {
	*optimization.Strategy

	gp  *GP
	acq acquisition.Function
	rng *rand.Rand

	// Accumulated observations. Append-only; the surrogate is refit on the
	// full set every iteration.
	obsX [][]float64
	obsY []float64

	logger *zap.Logger
}

// New validates cfg and constructs a run. Missing type, bounds, kernel or
// acquisition selector is a fail-fast configuration error raised here, never
// deferred into the loop.
func New(cfg optimization.Config, logger *zap.Logger) (*Optimizer, error) {
	const op = "bayesian.New"

	if cfg.Type != optimization.StrategyBayesian {
		return nil, optimization.NewConfigErrorf("unsupported optimization type %q", cfg.Type).WithOperation(op)
	}
	if cfg.Kernel == "" {
		return nil, optimization.NewConfigError("kernel selector is required").WithOperation(op)
	}
	if cfg.Acquisition == "" {
		return nil, optimization.NewConfigError("acquisition function selector is required").WithOperation(op)
	}

	kernel, err := kernels.ForName(cfg.Kernel)
	if err != nil {
		return nil, optimization.NewConfigError(err.Error()).WithOperation(op)
	}
	acq, err := acquisition.ForName(cfg.Acquisition, math.Inf(1))
	if err != nil {
		return nil, optimization.NewConfigError(err.Error()).WithOperation(op)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("bayesian")

	base, err := optimization.NewStrategy(cfg, logger)
	if err != nil {
		return nil, err
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	budget := base.Config().MaxIterations
	return &Optimizer{
		Strategy: base,
		gp:       NewGP(kernel, 1e-6, logger),
		acq:      acq,
		rng:      rand.New(rand.NewSource(seed)),
		obsX:     make([][]float64, 0, budget+maxWarmingPoints),
		obsY:     make([]float64, 0, budget+maxWarmingPoints),
		logger:   logger,
	}, nil
}

// Optimize runs the warming and iteration phases and returns the terminal
// result. Objective failures abort the run with no result; the original
// error stays reachable through errors.Unwrap.
func (bo *Optimizer) Optimize(ctx context.Context) (*optimization.Result, error) {
	bo.StartRun()
	cfg := bo.Config()

	if err := bo.warmUp(ctx); err != nil {
		return nil, err
	}

	iterations := 0
	reason := optimization.ReasonBudgetExhausted

	for i := 0; i < cfg.MaxIterations; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		evaluated, lastStd, err := bo.step(ctx)
		if err != nil {
			return nil, err
		}
		iterations = i + 1

		converged := bo.CheckConvergence()
		if evaluated && lastStd < cfg.StdTol {
			bo.logger.Debug("surrogate certain at last point",
				zap.Float64("std", lastStd),
				zap.Float64("threshold", cfg.StdTol))
			converged = true
		}

		bo.RecordIteration(i)

		if converged {
			reason = optimization.ReasonConverged
			break
		}
	}

	res := bo.Result(iterations, reason)
	bo.logger.Info("optimization finished",
		zap.Int("iterations", iterations),
		zap.String("reason", reason),
		zap.Int("observations", len(bo.obsY)),
	)
	return res, nil
}

// warmUp evaluates min(10, InitialPoints) uniform draws from the box,
// strictly sequentially: the objective is not assumed safe to invoke
// concurrently. Draws rejected by the extra feasibility predicate are
// discarded without retry.
func (bo *Optimizer) warmUp(ctx context.Context) error {
	n := bo.Config().InitialPoints
	if n > maxWarmingPoints {
		n = maxWarmingPoints
	}

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		x := bo.uniformSample()
		if !bo.CheckConstraints(x) {
			bo.logger.Debug("discarding infeasible warming draw", zap.Int("draw", i))
			continue
		}
		if err := bo.observe(ctx, x); err != nil {
			return err
		}
	}

	bo.logger.Debug("warming complete", zap.Int("observations", len(bo.obsY)))
	return nil
}

// step runs one iteration: refit the surrogate, select the next point by
// acquisition arg-max over a random candidate pool, and evaluate it. It
// returns whether a point was evaluated and, if so, the surrogate's predicted
// standard deviation there.
func (bo *Optimizer) step(ctx context.Context) (bool, float64, error) {
	if len(bo.obsY) == 0 {
		// Nothing observed yet (warming rejected every draw): fall back to
		// the first feasible candidate so the surrogate gets its first point.
		x, ok := bo.firstFeasibleCandidate()
		if !ok {
			bo.logger.Warn("no feasible candidate found, skipping iteration")
			return false, 0, nil
		}
		if err := bo.observe(ctx, x); err != nil {
			return false, 0, err
		}
		return true, math.Inf(1), nil
	}

	if err := bo.fitSurrogate(); err != nil {
		return false, 0, err
	}
	if best := bo.BestSolution(); best != nil {
		bo.acq.UpdateBest(best.Value)
	}

	next, std, ok, err := bo.selectNext()
	if err != nil {
		return false, 0, err
	}
	if !ok {
		bo.logger.Warn("no feasible candidate found, skipping iteration")
		return false, 0, nil
	}

	if err := bo.observe(ctx, next); err != nil {
		return false, 0, err
	}
	return true, std, nil
}

// selectNext scores a pool of random feasible candidates with the acquisition
// function and returns the first-encountered arg-max, so ties under a flat
// surrogate resolve deterministically. ok is false when no candidate in the
// pool was feasible.
func (bo *Optimizer) selectNext() (next []float64, std float64, ok bool, err error) {
	cfg := bo.Config()
	bestScore := math.Inf(-1)

	for i := 0; i < cfg.CandidatePool; i++ {
		x := bo.uniformSample()
		if !bo.CheckConstraints(x) {
			continue
		}

		mean, sd, perr := bo.gp.PredictOne(x)
		if perr != nil {
			return nil, 0, false, perr
		}

		if score := bo.acq.Compute(mean, sd); score > bestScore {
			bestScore = score
			next = x
			std = sd
			ok = true
		}
	}

	if ok && cfg.LocalRefinement {
		next, std = bo.refine(next, std)
	}
	return next, std, ok, nil
}

// refine polishes the Monte Carlo arg-max with a derivative-free local search
// over the negated acquisition score. The refined point is used only when it
// is still feasible and scores at least as well as the starting point.
func (bo *Optimizer) refine(start []float64, startStd float64) ([]float64, float64) {
	cfg := bo.Config()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			for i := range x {
				x[i] = math.Max(cfg.Bounds[i][0], math.Min(x[i], cfg.Bounds[i][1]))
			}
			mean, sd, err := bo.gp.PredictOne(x)
			if err != nil {
				return math.Inf(1)
			}
			return -bo.acq.Compute(mean, sd)
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 100,
		},
	}

	init := append([]float64(nil), start...)
	result, err := optimize.Minimize(problem, init, settings, &optimize.NelderMead{})
	if err != nil {
		return start, startStd
	}

	refined := result.X
	for i := range refined {
		refined[i] = math.Max(cfg.Bounds[i][0], math.Min(refined[i], cfg.Bounds[i][1]))
	}
	if !bo.CheckConstraints(refined) {
		return start, startStd
	}

	mean, sd, err := bo.gp.PredictOne(refined)
	if err != nil {
		return start, startStd
	}
	startMean, startSd, err := bo.gp.PredictOne(start)
	if err != nil || bo.acq.Compute(mean, sd) < bo.acq.Compute(startMean, startSd) {
		return start, startStd
	}
	return refined, sd
}

// observe evaluates the objective at x, records the observation and updates
// the incumbent. x must already be feasible.
func (bo *Optimizer) observe(ctx context.Context, x []float64) error {
	value, err := bo.EvaluateObjective(ctx, x)
	if err != nil {
		return err
	}
	bo.obsX = append(bo.obsX, append([]float64(nil), x...))
	bo.obsY = append(bo.obsY, value)
	bo.UpdateBest(x, value)
	return nil
}

// fitSurrogate refits the GP on the full accumulated observation set.
func (bo *Optimizer) fitSurrogate() error {
	n := len(bo.obsY)
	X := mat.NewDense(n, bo.Dim(), nil)
	y := mat.NewVecDense(n, nil)
	for i, x := range bo.obsX {
		X.SetRow(i, x)
		y.SetVec(i, bo.obsY[i])
	}
	return bo.gp.Fit(X, y)
}

// uniformSample draws one uniform point inside the box.
func (bo *Optimizer) uniformSample() []float64 {
	bounds := bo.Config().Bounds
	x := make([]float64, len(bounds))
	for i, b := range bounds {
		x[i] = b[0] + bo.rng.Float64()*(b[1]-b[0])
	}
	return x
}

// firstFeasibleCandidate draws up to one candidate pool's worth of points and
// returns the first feasible one.
func (bo *Optimizer) firstFeasibleCandidate() ([]float64, bool) {
	for i := 0; i < bo.Config().CandidatePool; i++ {
		x := bo.uniformSample()
		if bo.CheckConstraints(x) {
			return x, true
		}
	}
	return nil, false
}
