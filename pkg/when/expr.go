// Package when implements enablement predicates for tools.
//
// A predicate is a small boolean expression tree evaluated against a
// key/value [Context]. Predicates are built in code or decoded from YAML
// manifests; they are never parsed from free-form strings.
//
// YAML form:
//
//	when: true
//	when: {has: workspace.trusted}
//	when: {equals: {key: chat.mode, value: agent}}
//	when: {not: {has: remote.name}}
//	when: {and: [{has: a}, {or: [{has: b}, {has: c}]}]}
package when

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Lookup resolves context keys during evaluation.
type Lookup interface {
	Value(key string) (any, bool)
}

// Expr is a node of a predicate tree.
type Expr interface {
	// Eval evaluates the expression against the given context.
	Eval(ctx Lookup) bool

	// Keys returns every context key the expression reads.
	Keys() []string

	String() string
}

// Const is a literal true or false.
type Const bool

func (c Const) Eval(Lookup) bool { return bool(c) }
func (c Const) Keys() []string   { return nil }
func (c Const) String() string   { return fmt.Sprintf("%t", bool(c)) }

// Has is true when the key is set to a truthy value.
type Has struct {
	Key string
}

func (h Has) Eval(ctx Lookup) bool {
	v, ok := ctx.Value(h.Key)
	return ok && truthy(v)
}

func (h Has) Keys() []string { return []string{h.Key} }
func (h Has) String() string { return h.Key }

// Equals compares the value of a key with a literal.
type Equals struct {
	Key   string
	Value any
}

func (e Equals) Eval(ctx Lookup) bool {
	v, ok := ctx.Value(e.Key)
	if !ok {
		return false
	}
	return looseEqual(v, e.Value)
}

func (e Equals) Keys() []string { return []string{e.Key} }
func (e Equals) String() string { return fmt.Sprintf("%s == %v", e.Key, e.Value) }

// NotEquals is the negation of Equals. An unset key is not equal to anything.
type NotEquals struct {
	Key   string
	Value any
}

func (e NotEquals) Eval(ctx Lookup) bool {
	v, ok := ctx.Value(e.Key)
	if !ok {
		return true
	}
	return !looseEqual(v, e.Value)
}

func (e NotEquals) Keys() []string { return []string{e.Key} }
func (e NotEquals) String() string { return fmt.Sprintf("%s != %v", e.Key, e.Value) }

// In is true when the key's value is one of the listed values.
type In struct {
	Key    string
	Values []any
}

func (e In) Eval(ctx Lookup) bool {
	v, ok := ctx.Value(e.Key)
	if !ok {
		return false
	}
	return slices.ContainsFunc(e.Values, func(c any) bool { return looseEqual(v, c) })
}

func (e In) Keys() []string { return []string{e.Key} }
func (e In) String() string { return fmt.Sprintf("%s in %v", e.Key, e.Values) }

// Not negates its operand.
type Not struct {
	Expr Expr
}

func (n Not) Eval(ctx Lookup) bool { return !n.Expr.Eval(ctx) }
func (n Not) Keys() []string       { return n.Expr.Keys() }
func (n Not) String() string       { return "!(" + n.Expr.String() + ")" }

// And is true when every operand is true. An empty And is true.
type And []Expr

func (a And) Eval(ctx Lookup) bool {
	for _, e := range a {
		if !e.Eval(ctx) {
			return false
		}
	}
	return true
}

func (a And) Keys() []string { return collectKeys(a) }
func (a And) String() string { return join(a, " && ") }

// Or is true when any operand is true. An empty Or is false.
type Or []Expr

func (o Or) Eval(ctx Lookup) bool {
	for _, e := range o {
		if e.Eval(ctx) {
			return true
		}
	}
	return false
}

func (o Or) Keys() []string { return collectKeys(o) }
func (o Or) String() string { return join(o, " || ") }

// Evaluate evaluates e against ctx, treating a nil expression as true.
func Evaluate(e Expr, ctx Lookup) bool {
	if e == nil {
		return true
	}
	return e.Eval(ctx)
}

func collectKeys(exprs []Expr) []string {
	var keys []string
	for _, e := range exprs {
		for _, k := range e.Keys() {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func join(exprs []Expr, sep string) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}

// looseEqual compares scalars across the numeric types YAML and JSON
// decoding produce, and compares everything else by string form.
func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
