package search

import "fmt"

const (
	// MaxTotalCycles bounds Iterations*Populations, the planned work of a run
	MaxTotalCycles = 1<<31 - 1

	// MaxMembers bounds Populations*PopulationSize, the candidates held in memory
	MaxMembers = 1 << 20
)

// Configuration holds the parameters of a single search run.
// It is passed by value so a running search can never observe a change to it.
type Configuration struct {
	Seed               int64 `json:"seed" toml:"seed" env:"SEED"`
	Iterations         int   `json:"niterations" toml:"iterations" env:"ITERATIONS"`
	Populations        int   `json:"populations" toml:"populations" env:"POPULATIONS"`
	PopulationSize     int   `json:"population_size" toml:"population_size" env:"POPULATION_SIZE"`
	CyclesPerIteration int   `json:"ncycles_per_iteration" toml:"cycles_per_iteration" env:"CYCLES_PER_ITERATION"`
	MaxComplexity      int   `json:"maxsize" toml:"max_complexity" env:"MAX_COMPLEXITY"`
	TopN               int   `json:"topn" toml:"top_n" env:"TOP_N"`
	HasHeader          bool  `json:"has_headers" toml:"has_header" env:"HAS_HEADER"`
}

// DefaultConfiguration returns the defaults used when an operator leaves a field untouched.
func DefaultConfiguration() Configuration {
	return Configuration{
		Seed:               0,
		Iterations:         100,
		Populations:        8,
		PopulationSize:     64,
		CyclesPerIteration: 200,
		MaxComplexity:      30,
		TopN:               12,
		HasHeader:          true,
	}
}

// Clamp raises every numeric bound below its minimum of 1 to 1.
// This is the correction applied by the interactive surface before a run starts.
func (c Configuration) Clamp() Configuration {
	c.Iterations = atLeastOne(c.Iterations)
	c.Populations = atLeastOne(c.Populations)
	c.PopulationSize = atLeastOne(c.PopulationSize)
	c.CyclesPerIteration = atLeastOne(c.CyclesPerIteration)
	c.MaxComplexity = atLeastOne(c.MaxComplexity)
	c.TopN = atLeastOne(c.TopN)
	return c
}

// Validate checks that every numeric bound is a positive integer and that the
// planned work and population fit within MaxTotalCycles and MaxMembers.
func (c Configuration) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"Iterations", c.Iterations},
		{"Populations", c.Populations},
		{"PopulationSize", c.PopulationSize},
		{"CyclesPerIteration", c.CyclesPerIteration},
		{"MaxComplexity", c.MaxComplexity},
		{"TopN", c.TopN},
	}
	for _, f := range fields {
		if f.value < 1 {
			return &ConfigurationError{Field: f.name, Reason: fmt.Sprintf("must be at least 1, got %d", f.value)}
		}
	}

	// quotients, so the checks cannot overflow themselves
	if c.Iterations > MaxTotalCycles/c.Populations {
		return &ConfigurationError{Field: "Iterations", Reason: fmt.Sprintf("times Populations exceeds %d cycles", MaxTotalCycles)}
	}
	if c.PopulationSize > MaxMembers/c.Populations {
		return &ConfigurationError{Field: "PopulationSize", Reason: fmt.Sprintf("times Populations exceeds %d members", MaxMembers)}
	}
	return nil
}

// TotalCycles is the planned amount of work for a run with this configuration.
func (c Configuration) TotalCycles() int {
	return c.Iterations * c.Populations
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// ErrConfiguration matches any *ConfigurationError with errors.Is.
var ErrConfiguration = &ConfigurationError{}

// ConfigurationError reports an invalid numeric bound.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error"
	}
	return "configuration error: " + e.Field + " " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}
