package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minPopulation is the smallest population mayfly v0.1.0 accepts.
const minPopulation = 20

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
}

// NewMayfly creates a new Mayfly optimizer adapter.
// Population sizes below the library minimum are raised to it.
func NewMayfly(maxIters, popSize int) *MayflyAdapter {
	if popSize < minPopulation {
		popSize = minPopulation
	}
	if maxIters < 1 {
		maxIters = 1
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
	}
}

// Minimize runs one Mayfly optimization.
func (m *MayflyAdapter) Minimize(objective Objective, dim int, lower, upper float64, rng *rand.Rand) ([]float64, float64, error) {
	if dim <= 0 {
		return nil, 0, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if lower >= upper {
		return nil, 0, fmt.Errorf("invalid bounds [%g, %g]", lower, upper)
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = mayfly.ObjectiveFunction(objective)
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize

	// External library uses scalar bounds shared by every dimension
	config.LowerBound = lower
	config.UpperBound = upper
	config.Rand = rand.New(rand.NewSource(rng.Int63()))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	best := make([]float64, len(result.GlobalBest.Position))
	copy(best, result.GlobalBest.Position)
	return best, result.GlobalBest.Cost, nil
}
