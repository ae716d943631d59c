package engine

import (
	"fmt"
	"strings"
)

// DefaultOperators is the operator vocabulary used when none is given.
var DefaultOperators = []string{"+", "-", "*", "/", "sin", "cos", "exp", "log"}

// OperatorSet is the resolved vocabulary a search may build candidates from.
type OperatorSet struct {
	Unary  []UnaryOp
	Binary []BinaryOp
}

var unaryTokens = map[string]UnaryOp{
	"neg":         OpNeg,
	"sin":         OpSin,
	"sine":        OpSin,
	"cos":         OpCos,
	"cosine":      OpCos,
	"tan":         OpTan,
	"exp":         OpExp,
	"exponential": OpExp,
	"log":         OpLog,
	"logarithm":   OpLog,
	"sqrt":        OpSqrt,
	"abs":         OpAbs,
}

var binaryTokens = map[string]BinaryOp{
	"+":        OpAdd,
	"add":      OpAdd,
	"-":        OpSub,
	"sub":      OpSub,
	"subtract": OpSub,
	"*":        OpMul,
	"mul":      OpMul,
	"multiply": OpMul,
	"/":        OpDiv,
	"div":      OpDiv,
	"divide":   OpDiv,
}

// ResolveOperators maps operator tokens to an OperatorSet. Tokens are
// case-insensitive and blank tokens are ignored. Duplicates collapse.
func ResolveOperators(tokens []string) (OperatorSet, error) {
	var set OperatorSet
	seenUnary := make(map[UnaryOp]bool)
	seenBinary := make(map[BinaryOp]bool)

	for _, raw := range tokens {
		tok := strings.ToLower(strings.TrimSpace(raw))
		if tok == "" {
			continue
		}
		if op, ok := binaryTokens[tok]; ok {
			if !seenBinary[op] {
				seenBinary[op] = true
				set.Binary = append(set.Binary, op)
			}
			continue
		}
		if op, ok := unaryTokens[tok]; ok {
			if !seenUnary[op] {
				seenUnary[op] = true
				set.Unary = append(set.Unary, op)
			}
			continue
		}
		return OperatorSet{}, fmt.Errorf("unknown operator %q", raw)
	}

	if len(set.Unary) == 0 && len(set.Binary) == 0 {
		return OperatorSet{}, fmt.Errorf("no operators given")
	}
	return set, nil
}
