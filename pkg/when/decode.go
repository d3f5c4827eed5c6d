package when

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Clause wraps an Expr so it can be embedded in YAML documents.
// A zero Clause has a nil Expr, which evaluates to true.
type Clause struct {
	Expr Expr
}

// UnmarshalYAML decodes the mapping form documented on the package.
func (c *Clause) UnmarshalYAML(node *yaml.Node) error {
	e, err := Decode(node)
	if err != nil {
		return err
	}
	c.Expr = e
	return nil
}

// MarshalYAML emits the string form; it is informational only.
func (c Clause) MarshalYAML() (any, error) {
	if c.Expr == nil {
		return nil, nil
	}
	return c.Expr.String(), nil
}

// Decode builds an expression tree from a YAML node.
func Decode(node *yaml.Node) (Expr, error) {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}

	switch node.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, fmt.Errorf("line %d: scalar predicate must be a boolean", node.Line)
		}
		return Const(b), nil
	case yaml.MappingNode:
	default:
		return nil, fmt.Errorf("line %d: predicate must be a boolean or a mapping", node.Line)
	}

	if len(node.Content) != 2 {
		return nil, fmt.Errorf("line %d: predicate mapping must have exactly one operator", node.Line)
	}
	op, arg := node.Content[0].Value, node.Content[1]

	switch op {
	case "has":
		if arg.Kind != yaml.ScalarNode || arg.Value == "" {
			return nil, fmt.Errorf("line %d: has expects a key", arg.Line)
		}
		return Has{Key: arg.Value}, nil
	case "equals", "not_equals":
		var kv struct {
			Key   string `yaml:"key"`
			Value any    `yaml:"value"`
		}
		if err := arg.Decode(&kv); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", arg.Line, op, err)
		}
		if kv.Key == "" {
			return nil, fmt.Errorf("line %d: %s requires a key", arg.Line, op)
		}
		if op == "equals" {
			return Equals{Key: kv.Key, Value: kv.Value}, nil
		}
		return NotEquals{Key: kv.Key, Value: kv.Value}, nil
	case "in":
		var kv struct {
			Key    string `yaml:"key"`
			Values []any  `yaml:"values"`
		}
		if err := arg.Decode(&kv); err != nil {
			return nil, fmt.Errorf("line %d: in: %w", arg.Line, err)
		}
		if kv.Key == "" {
			return nil, fmt.Errorf("line %d: in requires a key", arg.Line)
		}
		return In{Key: kv.Key, Values: kv.Values}, nil
	case "not":
		inner, err := Decode(arg)
		if err != nil {
			return nil, err
		}
		return Not{Expr: inner}, nil
	case "and", "or":
		if arg.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: %s expects a list", arg.Line, op)
		}
		exprs := make([]Expr, 0, len(arg.Content))
		for _, child := range arg.Content {
			e, err := Decode(child)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, e)
		}
		if op == "and" {
			return And(exprs), nil
		}
		return Or(exprs), nil
	default:
		return nil, fmt.Errorf("line %d: unknown predicate operator %q", node.Line, op)
	}
}
