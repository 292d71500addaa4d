package bayesian

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/quantforge/bayesopt/internal/optimization"
	"github.com/quantforge/bayesopt/internal/optimization/kernels"
)

// GP is the Gaussian Process surrogate: a probabilistic regression model over
// the observed (point, value) pairs that answers cheap (mean, std) estimates
// of the objective at arbitrary points. It is refit from scratch on every
// Fit call and does not own the observation list.
type GP struct {
	// Kernel function
	kernel kernels.Kernel

	// Noise variance added to the covariance diagonal. Keeps the kernel
	// matrix invertible even for duplicate observations.
	noiseVar float64

	// Training data from the last Fit
	X *mat.Dense
	y *mat.VecDense

	// Precomputed solve: alpha = K^-1 y and the Cholesky factor of K
	alpha *mat.VecDense
	chol  *mat.Cholesky

	// Matrix pool for reusing allocations across per-iteration refits
	pool *MatrixPool

	logger *zap.Logger
}

// NewGP creates a Gaussian Process surrogate with the given kernel and noise
// variance. A nil logger disables logging.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		pool:     NewMatrixPool(),
		logger:   logger.Named("gaussian_process"),
	}
}

// Trained reports whether the model has been fit at least once.
func (gp *GP) Trained() bool { return gp.alpha != nil }

// Fit refits the model on the full observation set: it builds the kernel
// matrix with the noise term on the diagonal, factorizes it and stores the
// solve used by Predict. Fitting on an empty set is a fail-fast error.
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return optimization.WrapError(errors.New("input matrices must not be nil"), "gaussian_process: "+op)
	}

	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return optimization.WrapError(errors.New("observation set must not be empty"), "gaussian_process: "+op)
	}
	if yLen := y.Len(); nSamples != yLen {
		err := fmt.Errorf("dimension mismatch: X has %d samples but y has length %d", nSamples, yLen)
		return optimization.WrapError(err, "gaussian_process: "+op)
	}

	gp.X = mat.DenseCopyOf(X)
	gp.y = mat.VecDenseCopyOf(y)

	K := gp.pool.GetSymDense(nSamples)
	defer gp.pool.PutSymDense(K)

	for i := 0; i < nSamples; i++ {
		xi := gp.X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(xi, xi)+gp.noiseVar)
		for j := i + 1; j < nSamples; j++ {
			K.SetSym(i, j, gp.kernel.Eval(xi, gp.X.RawRowView(j)))
		}
	}

	chol, err := gp.factorize(K, nSamples)
	if err != nil {
		return optimization.WrapError(err, "gaussian_process: "+op)
	}

	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, gp.y); err != nil {
		return optimization.WrapError(fmt.Errorf("failed to solve for alpha: %w", err), "gaussian_process: "+op)
	}

	gp.chol = chol
	gp.alpha = alpha

	gp.logger.Debug("fitted surrogate",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
	)
	return nil
}

// factorize computes the Cholesky decomposition of K, escalating a diagonal
// jitter when the factorization fails. The noise term normally guarantees
// positive definiteness; the escalation covers near-duplicate observation
// sets where rounding still defeats it.
func (gp *GP) factorize(K *mat.SymDense, n int) (*mat.Cholesky, error) {
	const maxAttempts = 10

	jitter := 0.0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		work := K
		if jitter > 0 {
			work = mat.NewSymDense(n, nil)
			work.CopySym(K)
			for i := 0; i < n; i++ {
				work.SetSym(i, i, K.At(i, i)+jitter)
			}
		}

		var chol mat.Cholesky
		if chol.Factorize(work) {
			if jitter > 0 {
				gp.logger.Debug("factorized with jitter",
					zap.Int("attempt", attempt+1),
					zap.Float64("jitter", jitter))
			}
			return &chol, nil
		}

		if jitter == 0 {
			jitter = 1e-10
		} else {
			jitter *= 10
		}
	}

	return nil, fmt.Errorf("Cholesky factorization failed after %d jitter attempts", maxAttempts)
}

// Predict returns the posterior mean and standard deviation at each row of X.
// Calling Predict before Fit is an error; the driver guarantees at least one
// observation before the first prediction.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, optimization.WrapError(errors.New("input matrix X is nil"), "gaussian_process: "+op)
	}
	if !gp.Trained() {
		return nil, nil, optimization.WrapError(errors.New("model not trained"), "gaussian_process: "+op)
	}

	nTest, _ := X.Dims()
	nTrain, _ := gp.X.Dims()

	mean := mat.NewVecDense(nTest, nil)
	std := mat.NewVecDense(nTest, nil)

	kstar := mat.NewVecDense(nTrain, nil)
	v := mat.NewVecDense(nTrain, nil)

	for i := 0; i < nTest; i++ {
		x := X.RawRowView(i)
		for j := 0; j < nTrain; j++ {
			kstar.SetVec(j, gp.kernel.Eval(x, gp.X.RawRowView(j)))
		}

		// Posterior mean: k*^T alpha
		mean.SetVec(i, mat.Dot(kstar, gp.alpha))

		// Posterior variance: prior variance minus the variance explained by
		// the observations, k(x,x) - k*^T K^-1 k*.
		if err := gp.chol.SolveVecTo(v, kstar); err != nil {
			return nil, nil, optimization.WrapError(fmt.Errorf("failed to solve for variance: %w", err), "gaussian_process: "+op)
		}
		variance := gp.kernel.Eval(x, x) - mat.Dot(kstar, v)

		// Clamp tiny negative numerical artifacts.
		std.SetVec(i, math.Sqrt(math.Max(variance, 0)))
	}

	return mean, std, nil
}

// PredictOne returns the posterior mean and standard deviation at a single
// point.
func (gp *GP) PredictOne(x []float64) (float64, float64, error) {
	X := mat.NewDense(1, len(x), nil)
	X.SetRow(0, x)
	mean, std, err := gp.Predict(X)
	if err != nil {
		return 0, 0, err
	}
	return mean.AtVec(0), std.AtVec(0), nil
}
