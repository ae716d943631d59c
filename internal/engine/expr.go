package engine

import (
	"math"
	"strconv"
)

// Node is an expression tree node.
type Node interface {
	Eval(x []float64) float64
	Format(names []string) string
	Clone() Node
	NodeCount() int
}

// UnaryOp identifies a unary operation.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpSin
	OpCos
	OpTan
	OpExp
	OpLog
	OpSqrt
	OpAbs
)

// BinaryOp identifies a binary operation.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
)

var unaryNames = map[UnaryOp]string{
	OpNeg:  "-",
	OpSin:  "sin",
	OpCos:  "cos",
	OpTan:  "tan",
	OpExp:  "exp",
	OpLog:  "log",
	OpSqrt: "sqrt",
	OpAbs:  "abs",
}

var binarySymbols = map[BinaryOp]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
}

// ConstNode is a tunable real constant.
type ConstNode struct {
	Val float64
}

// VarNode reads predictor column Index.
type VarNode struct {
	Index int
}

// UnaryNode applies a unary operation to a child expression.
type UnaryNode struct {
	Op    UnaryOp
	Child Node
}

// BinaryNode applies a binary operation to two child expressions.
type BinaryNode struct {
	Op          BinaryOp
	Left, Right Node
}

func (c *ConstNode) Eval(_ []float64) float64 { return c.Val }
func (v *VarNode) Eval(x []float64) float64   { return x[v.Index] }

func (u *UnaryNode) Eval(x []float64) float64 {
	a := u.Child.Eval(x)
	switch u.Op {
	case OpNeg:
		return -a
	case OpSin:
		return math.Sin(a)
	case OpCos:
		return math.Cos(a)
	case OpTan:
		return math.Tan(a)
	case OpExp:
		return math.Exp(a)
	case OpLog:
		// NaN for a <= 0 is handled by the loss as an invalid candidate
		if a <= 0 {
			return math.NaN()
		}
		return math.Log(a)
	case OpSqrt:
		return math.Sqrt(a)
	case OpAbs:
		return math.Abs(a)
	}
	return math.NaN()
}

func (b *BinaryNode) Eval(x []float64) float64 {
	l := b.Left.Eval(x)
	r := b.Right.Eval(x)
	switch b.Op {
	case OpAdd:
		return l + r
	case OpSub:
		return l - r
	case OpMul:
		return l * r
	case OpDiv:
		return l / r
	}
	return math.NaN()
}

func (c *ConstNode) Format(_ []string) string {
	return strconv.FormatFloat(c.Val, 'g', 5, 64)
}

func (v *VarNode) Format(names []string) string {
	if v.Index < len(names) && names[v.Index] != "" {
		return names[v.Index]
	}
	return "x" + strconv.Itoa(v.Index+1)
}

func (u *UnaryNode) Format(names []string) string {
	child := u.Child.Format(names)
	if u.Op == OpNeg {
		return "(-" + child + ")"
	}
	return unaryNames[u.Op] + "(" + child + ")"
}

func (b *BinaryNode) Format(names []string) string {
	return "(" + b.Left.Format(names) + " " + binarySymbols[b.Op] + " " + b.Right.Format(names) + ")"
}

func (c *ConstNode) Clone() Node { return &ConstNode{Val: c.Val} }
func (v *VarNode) Clone() Node   { return &VarNode{Index: v.Index} }
func (u *UnaryNode) Clone() Node { return &UnaryNode{Op: u.Op, Child: u.Child.Clone()} }
func (b *BinaryNode) Clone() Node {
	return &BinaryNode{Op: b.Op, Left: b.Left.Clone(), Right: b.Right.Clone()}
}

func (c *ConstNode) NodeCount() int { return 1 }
func (v *VarNode) NodeCount() int   { return 1 }
func (u *UnaryNode) NodeCount() int { return 1 + u.Child.NodeCount() }
func (b *BinaryNode) NodeCount() int {
	return 1 + b.Left.NodeCount() + b.Right.NodeCount()
}

// collectNodes returns pointers to every node slot in the tree, root first,
// so callers can replace a subtree in place.
func collectNodes(root *Node) []*Node {
	slots := []*Node{root}
	switch n := (*root).(type) {
	case *UnaryNode:
		slots = append(slots, collectNodes(&n.Child)...)
	case *BinaryNode:
		slots = append(slots, collectNodes(&n.Left)...)
		slots = append(slots, collectNodes(&n.Right)...)
	}
	return slots
}

// constants returns the constant leaves of the tree in a stable order.
func constants(root Node) []*ConstNode {
	var out []*ConstNode
	var walk func(n Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *ConstNode:
			out = append(out, v)
		case *UnaryNode:
			walk(v.Child)
		case *BinaryNode:
			walk(v.Left)
			walk(v.Right)
		}
	}
	walk(root)
	return out
}
