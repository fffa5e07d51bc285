package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonNode accepts both exporter encodings:
//
//	verbose:  {"type":"node","feature":"x","threshold":0.5,"operator":"<=","left":{...},"right":{...}}
//	          {"type":"leaf","value":0.9,"reason":"p=0.90 (9/10)"}
//	minified: {"t":"n","f":"x","v":0.5,"l":{...},"r":{...}} / {"t":"l","v":0.9}
type jsonNode struct {
	Type      string          `json:"type"`
	T         string          `json:"t"`
	Feature   string          `json:"feature"`
	F         string          `json:"f"`
	Threshold json.RawMessage `json:"threshold"`
	Value     json.RawMessage `json:"value"`
	V         json.RawMessage `json:"v"`
	Operator  string          `json:"operator"`
	Op        string          `json:"op"`
	Left      *jsonNode       `json:"left"`
	L         *jsonNode       `json:"l"`
	Right     *jsonNode       `json:"right"`
	R         *jsonNode       `json:"r"`
	Reason    string          `json:"reason"`
}

type wrappedDocument struct {
	Forest []json.RawMessage `json:"forest"`
	Trees  []json.RawMessage `json:"trees"`
	Meta   struct {
		Version string `json:"version"`
	} `json:"meta"`
	Version string `json:"version"`
}

// Decode parses a decision_tree.json artifact.
//
// Forest-wrapped documents ({"forest":[...]} or {"trees":[...]}) are accepted
// and only their first tree is used.
func Decode(data []byte) (*Tree, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}

	_, hasForest := probe["forest"]
	_, hasTrees := probe["trees"]
	if !hasForest && !hasTrees {
		t, err := DecodeNode(data)
		if err != nil {
			return nil, err
		}
		if raw, ok := probe["version"]; ok {
			_ = json.Unmarshal(raw, &t.Version)
		}
		return t, nil
	}

	var doc wrappedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	trees := doc.Forest
	if len(trees) == 0 {
		trees = doc.Trees
	}
	if len(trees) == 0 {
		return nil, fmt.Errorf("%w: forest-wrapped document has no trees", ErrInvalidTree)
	}

	t, err := DecodeNode(trees[0])
	if err != nil {
		return nil, err
	}
	t.Version = doc.Meta.Version
	if t.Version == "" {
		t.Version = doc.Version
	}
	return t, nil
}

// DecodeNode parses and compiles a single tree root node
func DecodeNode(data []byte) (*Tree, error) {
	var root jsonNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	shape, err := root.shape(0)
	if err != nil {
		return nil, err
	}
	return Compile(shape)
}

func (n *jsonNode) shape(depth int) (*Shape, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: missing child node", ErrInvalidTree)
	}
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: depth exceeds %d", ErrInvalidTree, MaxDepth)
	}

	kind := n.Type
	if kind == "" {
		kind = n.T
	}
	feature := firstNonEmpty(n.Feature, n.F)
	if kind == "" {
		// Untagged nodes are classified by shape
		if feature != "" {
			kind = "node"
		} else {
			kind = "leaf"
		}
	}

	switch kind {
	case "leaf", "l":
		raw := n.Value
		if len(raw) == 0 {
			raw = n.V
		}
		var value float64
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("%w: leaf value must be a number", ErrInvalidTree)
		}
		return Leaf(value, n.Reason), nil

	case "node", "n", "branch":
		raw := n.Threshold
		if len(raw) == 0 {
			raw = n.V
		}
		th, err := parseThreshold(raw)
		if err != nil {
			return nil, err
		}
		left, err := pick(n.Left, n.L).shape(depth + 1)
		if err != nil {
			return nil, err
		}
		right, err := pick(n.Right, n.R).shape(depth + 1)
		if err != nil {
			return nil, err
		}
		if feature == "" {
			return nil, fmt.Errorf("%w: branch without feature", ErrInvalidTree)
		}
		return Branch(feature, Op(firstNonEmpty(n.Operator, n.Op)), th, left, right), nil
	}

	return nil, fmt.Errorf("%w: unknown node type %q", ErrInvalidTree, kind)
}

func parseThreshold(raw json.RawMessage) (Threshold, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Threshold{Kind: ThresholdNull}, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Threshold{}, fmt.Errorf("%w: threshold: %v", ErrInvalidTree, err)
	}
	switch x := v.(type) {
	case float64:
		return Number(x), nil
	case bool:
		return Boolean(x), nil
	case string:
		return Text(x), nil
	}
	return Threshold{}, fmt.Errorf("%w: unsupported threshold type %T", ErrInvalidTree, v)
}

func pick(a, b *jsonNode) *jsonNode {
	if a != nil {
		return a
	}
	return b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
