package element

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gofhir/retrieve/service"
)

// Evaluator implements service.ElementEvaluator. It is safe for concurrent
// use; split paths are memoized.
type Evaluator struct {
	paths sync.Map // string -> []string
}

// New creates an Evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

// node is one intermediate result: the raw JSON value plus the choice type
// that selected it, if any.
type node struct {
	value    any
	typeName string
}

// EvaluateFirst implements service.ElementEvaluator.
func (e *Evaluator) EvaluateFirst(root map[string]any, path string) (service.ElementValue, error) {
	nodes, err := e.walk(root, path)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return classify(nodes[0]), nil
}

// EvaluateAll implements service.ElementEvaluator.
func (e *Evaluator) EvaluateAll(root map[string]any, path string) ([]service.ElementValue, error) {
	nodes, err := e.walk(root, path)
	if err != nil {
		return nil, err
	}
	out := make([]service.ElementValue, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, classify(n))
	}
	return out, nil
}

func (e *Evaluator) walk(root map[string]any, path string) ([]node, error) {
	steps, err := e.split(path)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}

	current := []node{{value: root}}
	for _, step := range steps {
		var next []node
		for _, n := range current {
			obj, ok := n.value.(map[string]any)
			if !ok {
				continue
			}
			next = appendFlat(next, step, obj)
		}
		if len(next) == 0 {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// appendFlat adds the values of obj[step], or of its choice variant,
// flattening arrays.
func appendFlat(dst []node, step string, obj map[string]any) []node {
	raw, typeName, ok := lookup(obj, step)
	if !ok {
		return dst
	}
	if arr, ok := raw.([]any); ok {
		for _, item := range arr {
			if item != nil {
				dst = append(dst, node{value: item, typeName: typeName})
			}
		}
		return dst
	}
	if raw == nil {
		return dst
	}
	return append(dst, node{value: raw, typeName: typeName})
}

func lookup(obj map[string]any, step string) (any, string, bool) {
	if v, ok := obj[step]; ok {
		return v, "", true
	}
	for key, v := range obj {
		if typ, ok := choiceType(key, step); ok {
			return v, typ, true
		}
	}
	return nil, "", false
}

func (e *Evaluator) split(path string) ([]string, error) {
	if cached, ok := e.paths.Load(path); ok {
		return cached.([]string), nil
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("element: empty path")
	}
	steps := strings.Split(path, ".")
	for _, s := range steps {
		if s == "" {
			return nil, fmt.Errorf("element: invalid path %q", path)
		}
	}
	e.paths.Store(path, steps)
	return steps, nil
}

func classify(n node) service.ElementValue {
	switch v := n.value.(type) {
	case string:
		return service.Primitive{Value: v}
	case bool:
		return service.Primitive{Value: strconv.FormatBool(v)}
	case float64:
		return service.Primitive{Value: strconv.FormatFloat(v, 'f', -1, 64)}
	case json.Number:
		return service.Primitive{Value: v.String()}
	case map[string]any:
		if n.typeName == "Reference" || isReference(v) {
			ref, _ := v["reference"].(string)
			typ, _ := v["type"].(string)
			return service.Reference{Reference: ref, Type: typ}
		}
		return service.Composite{Type: n.typeName, Fields: v}
	default:
		return service.Primitive{Value: fmt.Sprint(v)}
	}
}

// isReference reports whether obj carries a reference string and nothing a
// Reference could not carry.
func isReference(obj map[string]any) bool {
	if _, ok := obj["reference"].(string); !ok {
		return false
	}
	for k := range obj {
		if !referenceKeys[k] {
			return false
		}
	}
	return true
}

// Verify interface compliance
var _ service.ElementEvaluator = (*Evaluator)(nil)
