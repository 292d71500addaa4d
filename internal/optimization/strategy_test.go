package optimization

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quadratic(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

func TestNewStrategyValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing objective",
			cfg: Config{
				Bounds: [][2]float64{{0, 1}},
			},
		},
		{
			name: "missing bounds",
			cfg: Config{
				Objective: quadratic,
			},
		},
		{
			name: "inverted bounds",
			cfg: Config{
				Objective: quadratic,
				Bounds:    [][2]float64{{1, -1}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStrategy(tt.cfg, nil)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestNewStrategyDefaults(t *testing.T) {
	s, err := NewStrategy(Config{
		Objective: quadratic,
		Bounds:    [][2]float64{{-1, 1}, {-1, 1}, {-1, 1}},
	}, nil)
	require.NoError(t, err)

	cfg := s.Config()
	assert.Equal(t, 100, cfg.MaxIterations)
	assert.Equal(t, 10, cfg.InitialPoints)
	assert.Equal(t, 1000, cfg.CandidatePool)
	assert.Equal(t, 10, cfg.ConvergenceWindow)
	assert.Equal(t, 1e-6, cfg.ImprovementTol)
	assert.Equal(t, 1e-3, cfg.StdTol)
	assert.Equal(t, 3, s.Dim())
}

func TestCheckConstraints(t *testing.T) {
	s, err := NewStrategy(Config{
		Objective: quadratic,
		Bounds:    [][2]float64{{-1, 1}, {0, 2}},
		Feasible: func(x []float64) bool {
			return x[0]+x[1] <= 2
		},
	}, nil)
	require.NoError(t, err)

	assert.True(t, s.CheckConstraints([]float64{0, 1}))
	assert.True(t, s.CheckConstraints([]float64{-1, 0}))

	// box violations
	assert.False(t, s.CheckConstraints([]float64{1.5, 1}))
	assert.False(t, s.CheckConstraints([]float64{0, -0.1}))

	// predicate violation inside the box
	assert.False(t, s.CheckConstraints([]float64{1, 2}))

	// dimension mismatch
	assert.False(t, s.CheckConstraints([]float64{0}))
	assert.False(t, s.CheckConstraints([]float64{0, 0, 0}))
}

func TestUpdateBestKeepsIncumbentOnTie(t *testing.T) {
	s, err := NewStrategy(Config{
		Objective: quadratic,
		Bounds:    [][2]float64{{-1, 1}},
	}, nil)
	require.NoError(t, err)

	s.UpdateBest([]float64{0.5}, 1.0)
	s.UpdateBest([]float64{-0.5}, 1.0)
	require.NotNil(t, s.BestSolution())
	assert.Equal(t, []float64{0.5}, s.BestSolution().Parameters)

	s.UpdateBest([]float64{0.1}, 0.5)
	assert.Equal(t, []float64{0.1}, s.BestSolution().Parameters)
	assert.Equal(t, 0.5, s.BestSolution().Value)

	// worse value never replaces
	s.UpdateBest([]float64{0.9}, 2.0)
	assert.Equal(t, 0.5, s.BestSolution().Value)
}

func TestUpdateBestCopiesParameters(t *testing.T) {
	s, err := NewStrategy(Config{
		Objective: quadratic,
		Bounds:    [][2]float64{{-1, 1}},
	}, nil)
	require.NoError(t, err)

	x := []float64{0.25}
	s.UpdateBest(x, 1.0)
	x[0] = 99

	assert.Equal(t, []float64{0.25}, s.BestSolution().Parameters)
}

func TestEvaluateObjectiveWrapsFailures(t *testing.T) {
	sentinel := errors.New("simulation backend unavailable")
	s, err := NewStrategy(Config{
		Objective: func(x []float64) (float64, error) {
			return 0, sentinel
		},
		Bounds: [][2]float64{{-1, 1}},
	}, nil)
	require.NoError(t, err)

	_, err = s.EvaluateObjective(context.Background(), []float64{0})
	require.Error(t, err)
	assert.True(t, IsEvalError(err))
	assert.True(t, errors.Is(err, sentinel), "original error must stay reachable through Unwrap")
}

func TestEvaluateObjectiveHonorsContext(t *testing.T) {
	called := false
	s, err := NewStrategy(Config{
		Objective: func(x []float64) (float64, error) {
			called = true
			return 0, nil
		},
		Bounds: [][2]float64{{-1, 1}},
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.EvaluateObjective(ctx, []float64{0})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCheckConvergenceWindow(t *testing.T) {
	s, err := NewStrategy(Config{
		Objective:         quadratic,
		Bounds:            [][2]float64{{-1, 1}},
		ConvergenceWindow: 3,
		ImprovementTol:    1e-6,
	}, nil)
	require.NoError(t, err)

	// Not enough history yet
	s.UpdateBest([]float64{0}, 10)
	s.RecordIteration(0)
	s.RecordIteration(1)
	assert.False(t, s.CheckConvergence())

	// Still improving faster than the tolerance across the window
	s.UpdateBest([]float64{0}, 5)
	s.RecordIteration(2)
	assert.False(t, s.CheckConvergence())

	// Window [5, 5, 5]: no improvement left
	s.RecordIteration(3)
	s.RecordIteration(4)
	assert.True(t, s.CheckConvergence())
}

func TestRecordIterationProgressEvents(t *testing.T) {
	progress := make(chan ProgressEvent, 2)
	s, err := NewStrategy(Config{
		Objective:    quadratic,
		Bounds:       [][2]float64{{-1, 1}},
		ProgressChan: progress,
	}, nil)
	require.NoError(t, err)

	s.UpdateBest([]float64{0.5}, 0.25)
	s.RecordIteration(0)

	ev := <-progress
	assert.Equal(t, 0, ev.Iteration)
	assert.Equal(t, 0.25, ev.BestValue)
	assert.Equal(t, []float64{0.5}, ev.BestParameters)
}

func TestRecordIterationNeverBlocks(t *testing.T) {
	// Unbuffered channel with no consumer: the send must be dropped, not
	// stall the loop.
	progress := make(chan ProgressEvent)
	s, err := NewStrategy(Config{
		Objective:    quadratic,
		Bounds:       [][2]float64{{-1, 1}},
		ProgressChan: progress,
	}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.RecordIteration(i)
		}
	}()
	<-done

	assert.Len(t, s.History(), 100)
}

func TestRecordIterationBeforeFirstEvaluation(t *testing.T) {
	s, err := NewStrategy(Config{
		Objective: quadratic,
		Bounds:    [][2]float64{{-1, 1}},
	}, nil)
	require.NoError(t, err)

	s.RecordIteration(0)
	require.Len(t, s.History(), 1)
	assert.True(t, math.IsInf(s.History()[0].BestValue, 1))
	assert.Nil(t, s.History()[0].BestParameters)
}

func TestResult(t *testing.T) {
	s, err := NewStrategy(Config{
		Objective: quadratic,
		Bounds:    [][2]float64{{-1, 1}},
	}, nil)
	require.NoError(t, err)

	s.StartRun()
	s.UpdateBest([]float64{0.1}, 0.01)
	s.RecordIteration(0)

	res := s.Result(1, ReasonBudgetExhausted)
	require.NotNil(t, res.BestSolution)
	assert.Equal(t, 0.01, res.BestSolution.Value)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, ReasonBudgetExhausted, res.Reason)
	assert.Len(t, res.History, 1)
	assert.GreaterOrEqual(t, res.Elapsed.Nanoseconds(), int64(0))
}
