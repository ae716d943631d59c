package opt

import (
	"math"
	"math/rand"
	"testing"
)

// Sphere function: f(x) = sum((x_i - 1.5)^2), minimum at (1.5, ..., 1.5)
func shiftedSphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		d := v - 1.5
		sum += d * d
	}
	return sum
}

func TestMayflyAdapter_ShiftedSphere(t *testing.T) {
	optimizer := NewMayfly(100, 20)

	best, cost, err := optimizer.Minimize(shiftedSphere, 3, -10, 10, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}

	if len(best) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(best))
	}
	if cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}
	for i, v := range best {
		if math.Abs(v-1.5) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 1.5", i, v)
		}
	}
}

func TestMayflyAdapter_Deterministic(t *testing.T) {
	_, cost1, err := NewMayfly(50, 20).Minimize(shiftedSphere, 2, -5, 5, rand.New(rand.NewSource(123)))
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	_, cost2, err := NewMayfly(50, 20).Minimize(shiftedSphere, 2, -5, 5, rand.New(rand.NewSource(123)))
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestMayflyAdapter_RejectsBadInput(t *testing.T) {
	optimizer := NewMayfly(10, 5)
	rng := rand.New(rand.NewSource(1))

	if _, _, err := optimizer.Minimize(shiftedSphere, 0, -1, 1, rng); err == nil {
		t.Error("Expected error for zero dimension")
	}
	if _, _, err := optimizer.Minimize(shiftedSphere, 2, 1, 1, rng); err == nil {
		t.Error("Expected error for empty bounds")
	}
	if optimizer.popSize != minPopulation {
		t.Errorf("Expected population raised to %d, got %d", minPopulation, optimizer.popSize)
	}
}

func TestMayflyAdapter_ObjectiveType(t *testing.T) {
	var optimizer Optimizer = NewMayfly(10, 20)
	var objective Objective = shiftedSphere

	best, cost, err := optimizer.Minimize(objective, 2, -5, 5, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	if len(best) != 2 {
		t.Fatalf("Expected 2 parameters, got %d", len(best))
	}
	if got := objective(best); math.Abs(got-cost) > 1e-9 {
		t.Errorf("Expected reported cost %f to match objective %f", cost, got)
	}
}
