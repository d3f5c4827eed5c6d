package settings

import "fmt"

// BoolOrMap is a setting that is either a single boolean for every key or a
// map from key to boolean.
type BoolOrMap struct {
	// All is set when the value is a plain boolean.
	All *bool
	// Keys is set when the value is a map.
	Keys map[string]bool
}

// ParseBoolOrMap interprets a raw setting value. It returns false for nil
// and for values of any other shape.
func ParseBoolOrMap(v any) (BoolOrMap, bool) {
	switch val := v.(type) {
	case bool:
		return BoolOrMap{All: &val}, true
	case map[string]bool:
		return BoolOrMap{Keys: val}, true
	case map[string]any:
		keys := make(map[string]bool, len(val))
		for k, raw := range val {
			b, ok := raw.(bool)
			if !ok {
				return BoolOrMap{}, false
			}
			keys[k] = b
		}
		return BoolOrMap{Keys: keys}, true
	}
	return BoolOrMap{}, false
}

// Lookup returns the boolean for key and whether the value decides it.
func (b BoolOrMap) Lookup(key string) (bool, bool) {
	if b.All != nil {
		return *b.All, true
	}
	v, ok := b.Keys[key]
	return v, ok
}

// IsTrue reports whether v is the boolean true.
func IsTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// String returns v as a string, or "" when it is not one.
func String(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case fmt.Stringer:
		return s.String()
	}
	return ""
}

// Map returns v as a string-keyed map, or nil.
func Map(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
