// Package acquisition scores candidate points from the surrogate posterior,
// balancing exploitation (low predicted value) and exploration (high
// uncertainty). Higher scores are better; the driver evaluates the arg-max.
// The objective itself is minimized.
package acquisition

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"
)

// Default exploration parameters.
const (
	// DefaultBeta is the uncertainty weight of the confidence bound.
	DefaultBeta = 2.0
	// DefaultXi is the minimum-improvement margin of expected improvement.
	DefaultXi = 0.01
)

// Function scores a candidate from its posterior mean and standard deviation.
// Implementations must be stable across thousands of comparisons per
// iteration, including deep in the normal tails, and must never emit NaN for
// std == 0.
type Function interface {
	// Compute returns the acquisition score at a point with posterior mean mu
	// and standard deviation sigma.
	Compute(mu, sigma float64) float64

	// UpdateBest informs the function of the best observed objective value.
	UpdateBest(best float64)
}

// stdNormal provides the erf-based standard-normal CDF and density shared by
// EI and POI.
var stdNormal = distuv.UnitNormal

// ConfidenceBound implements the lower-confidence-bound family for
// minimization: maximizing beta*sigma - mu favors low mean and high
// uncertainty.
type ConfidenceBound struct {
	beta float64
}

// NewConfidenceBound creates a confidence-bound function with the given
// exploration weight.
func NewConfidenceBound(beta float64) *ConfidenceBound {
	return &ConfidenceBound{beta: beta}
}

// Compute returns -(mu - beta*sigma).
func (cb *ConfidenceBound) Compute(mu, sigma float64) float64 {
	return cb.beta*sigma - mu
}

// UpdateBest is a no-op: the confidence bound does not use the incumbent.
func (cb *ConfidenceBound) UpdateBest(float64) {}

// ExpectedImprovement implements the EI acquisition function for
// minimization.
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
}

// NewExpectedImprovement creates an EI function with the given incumbent and
// improvement margin.
func NewExpectedImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{bestObserved: bestObserved, xi: xi}
}

// Compute returns the expected improvement at a point, always >= 0.
//
// With improvement = best - mu - xi and z = improvement/sigma:
//
//	EI = improvement*Phi(z) + sigma*phi(z)
//
// A zero sigma takes the limit of the formula: max(improvement, 0).
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := ei.bestObserved - mu - ei.xi

	if sigma <= 0 {
		if improvement > 0 {
			return improvement
		}
		return 0
	}

	z := improvement / sigma
	return improvement*stdNormal.CDF(z) + sigma*stdNormal.Prob(z)
}

// UpdateBest updates the best observed value.
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// BestObserved returns the best observed value.
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}

// ProbabilityOfImprovement implements the POI acquisition function for
// minimization: Phi((best - mu) / sigma).
type ProbabilityOfImprovement struct {
	bestObserved float64
}

// NewProbabilityOfImprovement creates a POI function with the given
// incumbent.
func NewProbabilityOfImprovement(bestObserved float64) *ProbabilityOfImprovement {
	return &ProbabilityOfImprovement{bestObserved: bestObserved}
}

// Compute returns the probability that a point improves on the incumbent.
// A zero sigma collapses the posterior to its mean: the probability is 0 when
// mu >= best and 1 otherwise, so a flat surrogate scores every candidate
// identically and ties resolve to the first one encountered.
func (poi *ProbabilityOfImprovement) Compute(mu, sigma float64) float64 {
	if sigma <= 0 {
		if mu >= poi.bestObserved {
			return 0
		}
		return 1
	}
	return stdNormal.CDF((poi.bestObserved - mu) / sigma)
}

// UpdateBest updates the best observed value.
func (poi *ProbabilityOfImprovement) UpdateBest(best float64) {
	poi.bestObserved = best
}

// ForName builds the acquisition function selected by name with its default
// parameters. The incumbent starts at +Inf and is kept current by the driver
// through UpdateBest.
func ForName(name string, initialBest float64) (Function, error) {
	switch name {
	case "ucb":
		return NewConfidenceBound(DefaultBeta), nil
	case "ei":
		return NewExpectedImprovement(initialBest, DefaultXi), nil
	case "poi":
		return NewProbabilityOfImprovement(initialBest), nil
	default:
		return nil, fmt.Errorf("unknown acquisition function %q", name)
	}
}
