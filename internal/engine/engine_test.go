package engine

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/symregweb/internal/opt"
	"github.com/cwbudde/symregweb/internal/search"
)

const linearCSV = `x,y
0,1
1,3
2,5
3,7
4,9
5,11
`

func smallConfig() search.Configuration {
	cfg := search.DefaultConfiguration()
	cfg.Seed = 3
	cfg.Iterations = 3
	cfg.Populations = 2
	cfg.PopulationSize = 16
	cfg.CyclesPerIteration = 10
	cfg.MaxComplexity = 12
	cfg.TopN = 4
	return cfg
}

// noopOptimizer returns its start point so tests do not depend on Mayfly's convergence.
type noopOptimizer struct{ calls int }

func (n *noopOptimizer) Minimize(objective opt.Objective, dim int, lower, upper float64, rng *rand.Rand) ([]float64, float64, error) {
	n.calls++
	params := make([]float64, dim)
	return params, objective(params), nil
}

func TestParseCSV_HeaderAndTarget(t *testing.T) {
	ds, err := ParseCSV("a, b ,y\n1, 2, 3\n4,5,6\n", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, ds.VariableNames)
	assert.Equal(t, [][]float64{{1, 2}, {4, 5}}, ds.X)
	assert.Equal(t, []float64{3, 6}, ds.Y)
}

func TestParseCSV_NoHeader(t *testing.T) {
	ds, err := ParseCSV("1,2\n3,4\n", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"x1"}, ds.VariableNames)
	assert.Equal(t, 2, ds.Rows())
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantMsg string
	}{
		{"no rows", "x,y\n", "no data rows"},
		{"one column", "y\n1\n2\n", "at least 2 columns"},
		{"ragged", "x,y\n1,2\n3\n", "row 1 has 1 columns but expected 2"},
		{"not a number", "x,y\n1,abc\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(tt.text, true)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestResolveOperators(t *testing.T) {
	set, err := ResolveOperators([]string{" add", "SIN", "+", "", "divide"})
	require.NoError(t, err)
	assert.Equal(t, []BinaryOp{OpAdd, OpDiv}, set.Binary)
	assert.Equal(t, []UnaryOp{OpSin}, set.Unary)

	_, err = ResolveOperators([]string{"foo", "bar"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown operator "foo"`)

	_, err = ResolveOperators(nil)
	assert.Error(t, err)
}

func TestExprFormatAndEval(t *testing.T) {
	tree := &BinaryNode{
		Op:    OpAdd,
		Left:  &BinaryNode{Op: OpMul, Left: &ConstNode{Val: 2}, Right: &VarNode{Index: 0}},
		Right: &UnaryNode{Op: OpCos, Child: &ConstNode{Val: 0}},
	}

	assert.Equal(t, "((2 * x) + cos(0))", tree.Format([]string{"x"}))
	assert.Equal(t, "((2 * x1) + cos(0))", tree.Format(nil))
	assert.InDelta(t, 7.0, tree.Eval([]float64{3}), 1e-12)
	assert.Equal(t, 6, tree.NodeCount())

	clone := tree.Clone()
	constants(clone)[0].Val = 5
	assert.Equal(t, 2.0, constants(tree)[0].Val, "clone must not share constants")

	logOfNegative := &UnaryNode{Op: OpLog, Child: &ConstNode{Val: -1}}
	assert.True(t, math.IsNaN(logOfNegative.Eval(nil)))
}

func TestBuiltin_InitializationErrors(t *testing.T) {
	b := NewBuiltinWithOptimizer(&noopOptimizer{})

	_, err := b.Initialize("x,y\n", smallConfig(), DefaultOperators)
	assert.True(t, errors.Is(err, ErrInitialization))

	_, err = b.Initialize(linearCSV, smallConfig(), []string{"frobnicate"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInitialization))
	assert.True(t, strings.HasPrefix(err.Error(), "failed to initialize search: "))

	cfg := smallConfig()
	cfg.TopN = 0
	_, err = b.Initialize(linearCSV, cfg, DefaultOperators)
	assert.True(t, errors.Is(err, search.ErrConfiguration))
}

func TestBuiltin_RunsToCompletion(t *testing.T) {
	optimizer := &noopOptimizer{}
	h, err := NewBuiltinWithOptimizer(optimizer).Initialize(linearCSV, smallConfig(), DefaultOperators)
	require.NoError(t, err)

	first, err := h.Step(0)
	require.NoError(t, err)
	assert.Equal(t, 0, first.CyclesCompleted)
	assert.Equal(t, 6, first.TotalCycles)
	assert.Equal(t, int64(32), first.TotalEvaluations, "seeding scores every member once")

	prev := first
	for !h.IsFinished() {
		snap, err := h.Step(1)
		require.NoError(t, err)

		assert.Equal(t, prev.CyclesCompleted+1, snap.CyclesCompleted)
		assert.GreaterOrEqual(t, snap.TotalEvaluations, prev.TotalEvaluations)
		assert.LessOrEqual(t, snap.CyclesCompleted, snap.TotalCycles)
		prev = snap
	}
	assert.Equal(t, 6, prev.CyclesCompleted)
	assert.LessOrEqual(t, optimizer.calls, 3, "constants are fitted at most once per iteration")

	// stepping a finished search does not advance it
	after, err := h.Step(5)
	require.NoError(t, err)
	assert.Equal(t, 6, after.CyclesCompleted)
	assert.Equal(t, prev.TotalEvaluations, after.TotalEvaluations)
}

func TestBuiltin_FrontierContract(t *testing.T) {
	h, err := NewBuiltinWithOptimizer(&noopOptimizer{}).Initialize(linearCSV, smallConfig(), DefaultOperators)
	require.NoError(t, err)

	snap, err := h.Step(6)
	require.NoError(t, err)

	require.NotEmpty(t, snap.Frontier)
	assert.LessOrEqual(t, len(snap.Frontier), 4)
	for i := 1; i < len(snap.Frontier); i++ {
		prev, cur := snap.Frontier[i-1], snap.Frontier[i]
		assert.Less(t, prev.Complexity, cur.Complexity, "ascending complexity")
		assert.Less(t, cur.Loss, prev.Loss, "each entry strictly improves loss")
	}
	for _, e := range snap.Frontier {
		assert.LessOrEqual(t, e.Complexity, 12)
		assert.GreaterOrEqual(t, e.Loss, 0.0)
		assert.NotEmpty(t, e.Equation)
	}
	assert.False(t, math.IsInf(snap.Best.Loss, 0))
	assert.LessOrEqual(t, snap.Best.Cost, snap.Frontier[len(snap.Frontier)-1].Cost+1e-12)
}

func TestBuiltin_Deterministic(t *testing.T) {
	run := func() search.Snapshot {
		h, err := NewBuiltinWithOptimizer(&noopOptimizer{}).Initialize(linearCSV, smallConfig(), DefaultOperators)
		require.NoError(t, err)
		snap, err := h.Step(6)
		require.NoError(t, err)
		return snap
	}
	assert.Equal(t, run(), run())
}

func TestBuiltin_SnapshotsDoNotAlias(t *testing.T) {
	h, err := NewBuiltinWithOptimizer(&noopOptimizer{}).Initialize(linearCSV, smallConfig(), DefaultOperators)
	require.NoError(t, err)

	a, err := h.Step(1)
	require.NoError(t, err)
	kept := a.Clone()
	if len(a.Frontier) > 0 {
		a.Frontier[0].Equation = "mutated"
	}

	b, err := h.Step(0)
	require.NoError(t, err)
	if len(b.Frontier) > 0 && len(kept.Frontier) > 0 {
		assert.Equal(t, kept.Frontier[0].Equation, b.Frontier[0].Equation)
	}
}

func TestBuiltin_WithMayfly(t *testing.T) {
	cfg := smallConfig()
	cfg.Iterations = 2
	h, err := NewBuiltin().Initialize(linearCSV, cfg, []string{"+", "*"})
	require.NoError(t, err)

	snap, err := h.Step(cfg.TotalCycles())
	require.NoError(t, err)
	assert.True(t, h.IsFinished())
	assert.True(t, snap.Finished())
}

func TestCost(t *testing.T) {
	assert.InDelta(t, 1.05, costOf(1, 5), 1e-12)
	assert.Equal(t, 0.0, costOf(0, 9))
}
