package server

import (
	"fmt"
	"math"

	"github.com/quantforge/bayesopt/internal/optimization"
)

// Builtin demo objectives, selectable by name in job requests. The service
// has no sandbox for caller-supplied code, so jobs pick from this registry;
// embedding callers use the library directly with their own objective.
var objectives = map[string]optimization.ObjectiveFunction{
	"sphere": func(x []float64) (float64, error) {
		sum := 0.0
		for _, v := range x {
			sum += v * v
		}
		return sum, nil
	},
	"rosenbrock": func(x []float64) (float64, error) {
		if len(x) < 2 {
			return 0, fmt.Errorf("rosenbrock needs at least 2 dimensions, got %d", len(x))
		}
		sum := 0.0
		for i := 0; i < len(x)-1; i++ {
			a := x[i+1] - x[i]*x[i]
			b := 1 - x[i]
			sum += 100*a*a + b*b
		}
		return sum, nil
	},
	"rastrigin": func(x []float64) (float64, error) {
		sum := 10.0 * float64(len(x))
		for _, v := range x {
			sum += v*v - 10*math.Cos(2*math.Pi*v)
		}
		return sum, nil
	},
}

// objectiveForName returns the builtin objective registered under name.
func objectiveForName(name string) (optimization.ObjectiveFunction, error) {
	obj, ok := objectives[name]
	if !ok {
		return nil, fmt.Errorf("unknown objective %q", name)
	}
	return obj, nil
}
