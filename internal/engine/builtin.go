package engine

import (
	"math"
	"math/rand"
	"sort"

	"github.com/cwbudde/symregweb/internal/opt"
	"github.com/cwbudde/symregweb/internal/search"
)

const (
	// parsimony scales the complexity penalty in cost
	parsimony = 0.01

	// constantBound limits the search box for constant fitting
	constantBound = 10.0
)

// Builtin is a genetic-programming engine with island populations and
// Mayfly-based constant fitting.
//
// One cycle evolves one island for CyclesPerIteration generations of
// tournament selection and mutation. An iteration visits every island once,
// so a run has Iterations*Populations cycles in total.
type Builtin struct {
	optimizer opt.Optimizer
}

// NewBuiltin creates the built-in engine.
func NewBuiltin() *Builtin {
	return &Builtin{optimizer: opt.NewMayfly(25, 20)}
}

// NewBuiltinWithOptimizer creates the built-in engine with a custom constant optimizer.
func NewBuiltinWithOptimizer(o opt.Optimizer) *Builtin {
	return &Builtin{optimizer: o}
}

// Initialize implements Engine.
func (b *Builtin) Initialize(data string, cfg search.Configuration, operators []string) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &InitializationError{Cause: err}
	}
	ds, err := ParseCSV(data, cfg.HasHeader)
	if err != nil {
		return nil, &InitializationError{Cause: err}
	}
	ops, err := ResolveOperators(operators)
	if err != nil {
		return nil, &InitializationError{Cause: err}
	}

	s := &gpSearch{
		cfg:       cfg,
		data:      ds,
		ops:       ops,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		optimizer: b.optimizer,
		hof:       make(map[int]*member),
	}
	s.seedIslands()
	return s, nil
}

// member is one scored candidate.
type member struct {
	tree       Node
	loss       float64
	cost       float64
	complexity int
	birth      int64
}

// gpSearch is the handle returned by Builtin. It is not safe for concurrent use.
type gpSearch struct {
	cfg       search.Configuration
	data      *Dataset
	ops       OperatorSet
	rng       *rand.Rand
	optimizer opt.Optimizer

	islands    [][]*member
	nextIsland int
	births     int64

	cyclesCompleted int
	evaluations     int64

	// hof keeps the best member seen for each complexity
	hof map[int]*member
}

func (s *gpSearch) seedIslands() {
	s.islands = make([][]*member, s.cfg.Populations)
	for i := range s.islands {
		pop := make([]*member, s.cfg.PopulationSize)
		for j := range pop {
			pop[j] = s.score(s.randomTree(3))
		}
		s.islands[i] = pop
	}
}

// Step implements Handle.
func (s *gpSearch) Step(cycles int) (search.Snapshot, error) {
	for i := 0; i < cycles && !s.IsFinished(); i++ {
		s.evolveIsland(s.islands[s.nextIsland])
		s.nextIsland = (s.nextIsland + 1) % len(s.islands)
		s.cyclesCompleted++

		if s.cyclesCompleted%s.cfg.Populations == 0 {
			if err := s.fitBestConstants(); err != nil {
				return search.Snapshot{}, err
			}
		}
	}
	return s.snapshot(), nil
}

// IsFinished implements Handle.
func (s *gpSearch) IsFinished() bool {
	return s.cyclesCompleted >= s.cfg.TotalCycles()
}

// score evaluates a tree and records it in the hall of fame.
func (s *gpSearch) score(tree Node) *member {
	loss := s.loss(tree)
	complexity := tree.NodeCount()
	s.births++
	m := &member{
		tree:       tree,
		loss:       loss,
		cost:       costOf(loss, complexity),
		complexity: complexity,
		birth:      s.births,
	}
	s.record(m)
	return m
}

// loss is the mean squared error of tree over the dataset.
// Any non-finite prediction makes the loss +Inf.
func (s *gpSearch) loss(tree Node) float64 {
	s.evaluations++
	var sum float64
	for i, row := range s.data.X {
		pred := tree.Eval(row)
		if math.IsNaN(pred) || math.IsInf(pred, 0) {
			return math.Inf(1)
		}
		d := pred - s.data.Y[i]
		sum += d * d
	}
	mse := sum / float64(s.data.Rows())
	if math.IsNaN(mse) || math.IsInf(mse, 0) {
		return math.Inf(1)
	}
	return mse
}

func costOf(loss float64, complexity int) float64 {
	return loss * (1 + parsimony*float64(complexity))
}

// record updates the hall of fame. An equal loss keeps the existing entry.
func (s *gpSearch) record(m *member) {
	if math.IsInf(m.loss, 0) || m.complexity > s.cfg.MaxComplexity {
		return
	}
	if cur, ok := s.hof[m.complexity]; ok && cur.loss <= m.loss {
		return
	}
	s.hof[m.complexity] = &member{
		tree:       m.tree.Clone(),
		loss:       m.loss,
		cost:       m.cost,
		complexity: m.complexity,
		birth:      m.birth,
	}
}

// frontier returns hall-of-fame members by ascending complexity, keeping an
// entry only if it strictly improves on the loss of every simpler entry.
func (s *gpSearch) frontier() []*member {
	complexities := make([]int, 0, len(s.hof))
	for c := range s.hof {
		complexities = append(complexities, c)
	}
	sort.Ints(complexities)

	var front []*member
	for _, c := range complexities {
		m := s.hof[c]
		if len(front) == 0 || m.loss < front[len(front)-1].loss {
			front = append(front, m)
		}
	}
	return front
}

// best returns the lowest-cost hall-of-fame member; ties go to the simpler one.
func (s *gpSearch) best() *member {
	var best *member
	for _, m := range s.hof {
		if best == nil || m.cost < best.cost || (m.cost == best.cost && m.complexity < best.complexity) {
			best = m
		}
	}
	return best
}

func (s *gpSearch) summarize(m *member) search.EquationSummary {
	return search.EquationSummary{
		Complexity: m.complexity,
		Loss:       m.loss,
		Cost:       m.cost,
		Equation:   m.tree.Format(s.data.VariableNames),
	}
}

// snapshot builds a fresh value; nothing in it aliases search state.
func (s *gpSearch) snapshot() search.Snapshot {
	snap := search.Snapshot{
		TotalCycles:      s.cfg.TotalCycles(),
		CyclesCompleted:  s.cyclesCompleted,
		TotalEvaluations: s.evaluations,
		Best:             search.EquationSummary{Loss: math.Inf(1), Cost: math.Inf(1)},
		Frontier:         []search.EquationSummary{},
	}
	if b := s.best(); b != nil {
		snap.Best = s.summarize(b)
	}

	front := s.frontier()
	if len(front) > s.cfg.TopN {
		front = front[len(front)-s.cfg.TopN:]
	}
	for _, m := range front {
		snap.Frontier = append(snap.Frontier, s.summarize(m))
	}
	return snap
}
