package records

import (
	"iter"
	"sort"
	"strings"
)

// DefaultMaxDepth bounds how deep WalkIDs descends
const DefaultMaxDepth = 32

// WalkOptions tunes WalkIDs
type WalkOptions struct {
	// MaxDepth stops the walk below this nesting level; 0 uses DefaultMaxDepth
	MaxDepth int

	// IsIDKey selects the object keys whose values hold ids; nil selects keys containing "ID"
	IsIDKey func(key string) bool
}

func (o WalkOptions) withDefaults() WalkOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}

	if o.IsIDKey == nil {
		o.IsIDKey = func(key string) bool { return strings.Contains(key, "ID") }
	}

	return o
}

// WalkIDs yields the id strings held by value. A string is an id, a list
// yields the ids of its elements, and an object yields the ids under its id
// keys in key order. The sequence can be ranged over more than once.
func WalkIDs(value interface{}, opts WalkOptions) iter.Seq[string] {
	opts = opts.withDefaults()

	return func(yield func(string) bool) {
		walkIDs(value, opts, 0, yield)
	}
}

func walkIDs(value interface{}, opts WalkOptions, depth int, yield func(string) bool) bool {
	if depth > opts.MaxDepth {
		return true
	}

	switch v := value.(type) {
	case string:
		return yield(v)
	case []string:
		for _, s := range v {
			if !yield(s) {
				return false
			}
		}
	case []interface{}:
		for _, item := range v {
			if !walkIDs(item, opts, depth+1, yield) {
				return false
			}
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			if opts.IsIDKey(k) {
				keys = append(keys, k)
			}
		}

		sort.Strings(keys)

		for _, k := range keys {
			if !walkIDs(v[k], opts, depth+1, yield) {
				return false
			}
		}
	}

	return true
}
