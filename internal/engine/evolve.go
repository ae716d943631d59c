package engine

const (
	tournamentSize = 5
	mutationDepth  = 2
	crossoverRate  = 0.2
)

// evolveIsland runs CyclesPerIteration generations on one island. Each
// generation breeds one child, which replaces the oldest member.
func (s *gpSearch) evolveIsland(pop []*member) {
	for g := 0; g < s.cfg.CyclesPerIteration; g++ {
		parent := s.tournament(pop)
		child := parent.tree.Clone()

		if s.rng.Float64() < crossoverRate {
			child = s.crossover(child, s.tournament(pop).tree)
		} else {
			child = s.mutate(child)
		}
		if child.NodeCount() > s.cfg.MaxComplexity {
			continue
		}

		pop[oldest(pop)] = s.score(child)
	}
}

func (s *gpSearch) tournament(pop []*member) *member {
	best := pop[s.rng.Intn(len(pop))]
	for i := 1; i < tournamentSize; i++ {
		c := pop[s.rng.Intn(len(pop))]
		if c.cost < best.cost {
			best = c
		}
	}
	return best
}

func oldest(pop []*member) int {
	idx := 0
	for i, m := range pop {
		if m.birth < pop[idx].birth {
			idx = i
		}
	}
	return idx
}

// mutate applies one random mutation and returns the (possibly new) root.
func (s *gpSearch) mutate(root Node) Node {
	switch s.rng.Intn(5) {
	case 0:
		return s.pointMutate(root)
	case 1:
		return s.subtreeMutate(root)
	case 2:
		return s.perturbConstant(root)
	case 3:
		return s.growMutate(root)
	default:
		return s.shrinkMutate(root)
	}
}

// pointMutate swaps the operation or leaf at a random node, keeping children.
func (s *gpSearch) pointMutate(root Node) Node {
	slots := collectNodes(&root)
	slot := slots[s.rng.Intn(len(slots))]

	switch n := (*slot).(type) {
	case *ConstNode, *VarNode:
		*slot = s.randomLeaf()
	case *UnaryNode:
		if len(s.ops.Unary) > 0 {
			n.Op = s.ops.Unary[s.rng.Intn(len(s.ops.Unary))]
		}
	case *BinaryNode:
		if len(s.ops.Binary) > 0 {
			n.Op = s.ops.Binary[s.rng.Intn(len(s.ops.Binary))]
		}
	}
	return root
}

// subtreeMutate replaces a random subtree with a new random tree.
func (s *gpSearch) subtreeMutate(root Node) Node {
	slots := collectNodes(&root)
	*slots[s.rng.Intn(len(slots))] = s.randomTree(mutationDepth)
	return root
}

// perturbConstant nudges one constant, or swaps in a leaf when there is none.
func (s *gpSearch) perturbConstant(root Node) Node {
	consts := constants(root)
	if len(consts) == 0 {
		return s.pointMutate(root)
	}
	c := consts[s.rng.Intn(len(consts))]
	c.Val = c.Val*(1+0.1*s.rng.NormFloat64()) + 0.1*s.rng.NormFloat64()
	return root
}

// growMutate wraps a random node in a new operation.
func (s *gpSearch) growMutate(root Node) Node {
	slots := collectNodes(&root)
	slot := slots[s.rng.Intn(len(slots))]
	*slot = s.wrap(*slot)
	return root
}

// shrinkMutate replaces a random operation with one of its children.
func (s *gpSearch) shrinkMutate(root Node) Node {
	slots := collectNodes(&root)
	slot := slots[s.rng.Intn(len(slots))]

	switch n := (*slot).(type) {
	case *UnaryNode:
		*slot = n.Child
	case *BinaryNode:
		if s.rng.Intn(2) == 0 {
			*slot = n.Left
		} else {
			*slot = n.Right
		}
	}
	return root
}

// crossover replaces a random subtree of root with a copy of a random subtree of donor.
func (s *gpSearch) crossover(root, donor Node) Node {
	donorSlots := collectNodes(&donor)
	graft := (*donorSlots[s.rng.Intn(len(donorSlots))]).Clone()

	slots := collectNodes(&root)
	*slots[s.rng.Intn(len(slots))] = graft
	return root
}

// randomTree builds a tree of at most depth levels that fits MaxComplexity.
func (s *gpSearch) randomTree(depth int) Node {
	tree := s.grow(depth)
	if tree.NodeCount() > s.cfg.MaxComplexity {
		return s.randomLeaf()
	}
	return tree
}

func (s *gpSearch) grow(depth int) Node {
	if depth <= 1 || s.rng.Float64() < 0.3 {
		return s.randomLeaf()
	}

	useUnary := len(s.ops.Binary) == 0 || (len(s.ops.Unary) > 0 && s.rng.Float64() < 0.3)
	if useUnary {
		return &UnaryNode{
			Op:    s.ops.Unary[s.rng.Intn(len(s.ops.Unary))],
			Child: s.grow(depth - 1),
		}
	}
	return &BinaryNode{
		Op:    s.ops.Binary[s.rng.Intn(len(s.ops.Binary))],
		Left:  s.grow(depth - 1),
		Right: s.grow(depth - 1),
	}
}

// wrap puts n under a new operation chosen from the vocabulary.
func (s *gpSearch) wrap(n Node) Node {
	useUnary := len(s.ops.Binary) == 0 || (len(s.ops.Unary) > 0 && s.rng.Intn(2) == 0)
	if useUnary {
		return &UnaryNode{Op: s.ops.Unary[s.rng.Intn(len(s.ops.Unary))], Child: n}
	}

	op := s.ops.Binary[s.rng.Intn(len(s.ops.Binary))]
	if s.rng.Intn(2) == 0 {
		return &BinaryNode{Op: op, Left: n, Right: s.randomLeaf()}
	}
	return &BinaryNode{Op: op, Left: s.randomLeaf(), Right: n}
}

func (s *gpSearch) randomLeaf() Node {
	if s.data.Features() > 0 && s.rng.Float64() < 0.7 {
		return &VarNode{Index: s.rng.Intn(s.data.Features())}
	}
	return &ConstNode{Val: s.rng.NormFloat64()}
}
