// Package tree interprets decision-tree artifacts.
//
// A tree is compiled into an arena of nodes indexed by int. Children always
// have a higher index than their parent, so every root-to-leaf walk
// terminates.
package tree

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrInvalidTree is returned when an artifact does not describe a well-formed tree
var ErrInvalidTree = errors.New("invalid decision tree")

// MaxDepth bounds compiled trees; deeper artifacts are rejected
const MaxDepth = 256

// Op is a branch comparison operator
type Op string

const (
	OpDefault Op = ""
	OpEq      Op = "=="
	OpNe      Op = "!="
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
)

func (o Op) valid() bool {
	switch o {
	case OpDefault, OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// ThresholdKind is the JSON type a branch threshold was declared with
type ThresholdKind uint8

const (
	ThresholdNull ThresholdKind = iota
	ThresholdNumber
	ThresholdBool
	ThresholdString
)

// Threshold is a typed branch threshold
type Threshold struct {
	Kind   ThresholdKind
	Number float64
	Bool   bool
	String string
}

// Number returns a numeric threshold
func Number(v float64) Threshold { return Threshold{Kind: ThresholdNumber, Number: v} }

// Boolean returns a boolean threshold
func Boolean(v bool) Threshold { return Threshold{Kind: ThresholdBool, Bool: v} }

// Text returns a string threshold
func Text(v string) Threshold { return Threshold{Kind: ThresholdString, String: v} }

func (t Threshold) format() string {
	switch t.Kind {
	case ThresholdNumber:
		return strconv.FormatFloat(t.Number, 'g', -1, 64)
	case ThresholdBool:
		return strconv.FormatBool(t.Bool)
	case ThresholdString:
		return strconv.Quote(t.String)
	default:
		return "null"
	}
}

// effectiveOp resolves the default operator: "<=" for numbers, equality otherwise
func (t Threshold) effectiveOp(op Op) Op {
	if op != OpDefault {
		return op
	}
	if t.Kind == ThresholdNumber {
		return OpLe
	}
	return OpEq
}

// NodeKind distinguishes leaves from branches
type NodeKind uint8

const (
	KindLeaf NodeKind = iota
	KindBranch
)

// Node is one arena entry. Left/Right are only meaningful for branches.
type Node struct {
	Kind      NodeKind
	Feature   string
	Op        Op
	Threshold Threshold
	Left      int
	Right     int
	Value     float64
	Reason    string
}

// Tree is an immutable compiled decision tree
type Tree struct {
	nodes   []Node
	Version string
}

// Len returns the number of nodes
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node at index i
func (t *Tree) Node(i int) Node { return t.nodes[i] }

// Features returns every feature name referenced by a branch
func (t *Tree) Features() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, n := range t.nodes {
		if n.Kind != KindBranch {
			continue
		}
		if _, ok := seen[n.Feature]; ok {
			continue
		}
		seen[n.Feature] = struct{}{}
		out = append(out, n.Feature)
	}
	return out
}

// Shape is the recursive, pre-compilation form of a tree
type Shape struct {
	Leaf      bool
	Value     float64
	Reason    string
	Feature   string
	Op        Op
	Threshold Threshold
	Left      *Shape
	Right     *Shape
}

// Leaf builds a leaf shape
func Leaf(value float64, reason string) *Shape {
	return &Shape{Leaf: true, Value: value, Reason: reason}
}

// Branch builds a branch shape
func Branch(feature string, op Op, threshold Threshold, left, right *Shape) *Shape {
	return &Shape{Feature: feature, Op: op, Threshold: threshold, Left: left, Right: right}
}

// Compile validates a shape and flattens it into an arena
func Compile(root *Shape) (*Tree, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: empty tree", ErrInvalidTree)
	}
	t := &Tree{}
	if _, err := t.add(root, 0); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) add(s *Shape, depth int) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("%w: missing child node", ErrInvalidTree)
	}
	if depth > MaxDepth {
		return 0, fmt.Errorf("%w: depth exceeds %d", ErrInvalidTree, MaxDepth)
	}

	idx := len(t.nodes)
	if s.Leaf {
		reason := s.Reason
		if reason == "" {
			reason = "leaf"
		}
		t.nodes = append(t.nodes, Node{Kind: KindLeaf, Value: s.Value, Reason: reason})
		return idx, nil
	}

	if s.Feature == "" {
		return 0, fmt.Errorf("%w: branch without feature", ErrInvalidTree)
	}
	if !s.Op.valid() {
		return 0, fmt.Errorf("%w: unsupported operator %q", ErrInvalidTree, s.Op)
	}
	t.nodes = append(t.nodes, Node{Kind: KindBranch, Feature: s.Feature, Op: s.Op, Threshold: s.Threshold})

	left, err := t.add(s.Left, depth+1)
	if err != nil {
		return 0, err
	}
	right, err := t.add(s.Right, depth+1)
	if err != nil {
		return 0, err
	}
	t.nodes[idx].Left = left
	t.nodes[idx].Right = right
	return idx, nil
}

// clampScore maps a leaf value into [0, 1]; non-finite values become 0
func clampScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
