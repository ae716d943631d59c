package opt

import "math/rand"

// Objective maps a parameter vector to a value to minimize.
type Objective func(params []float64) float64

// Optimizer minimizes an objective over a box-bounded parameter space.
type Optimizer interface {
	// Minimize searches dim parameters in [lower, upper] for the lowest objective.
	// rng drives every random choice, so equal seeds give equal results.
	// Returns the best parameters and their objective value.
	Minimize(objective Objective, dim int, lower, upper float64, rng *rand.Rand) ([]float64, float64, error)
}
