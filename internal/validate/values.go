package validate

import "sort"

// Values is a tree of allowed values: either a leaf string or a group of
// nested Values. Configuration files may nest lists to any depth.
type Values struct {
	leaf     string
	isLeaf   bool
	children []Values
}

// Leaf returns a single value.
func Leaf(v string) Values {
	return Values{leaf: v, isLeaf: true}
}

// Group returns a list of nested values.
func Group(children ...Values) Values {
	return Values{children: children}
}

// Strings returns a group of leaves.
func Strings(vs ...string) Values {
	children := make([]Values, len(vs))
	for i, v := range vs {
		children[i] = Leaf(v)
	}
	return Group(children...)
}

// IsLeaf reports whether v holds a single value.
func (v Values) IsLeaf() bool {
	return v.isLeaf
}

// Flatten returns the leaves in depth-first order.
func (v Values) Flatten() []string {
	var out []string
	v.walk(func(s string) { out = append(out, s) })
	return out
}

func (v Values) walk(fn func(string)) {
	if v.isLeaf {
		fn(v.leaf)
		return
	}
	for _, c := range v.children {
		c.walk(fn)
	}
}

// Set flattens v into a lookup set.
func (v Values) Set() Set {
	s := make(Set)
	v.walk(func(x string) { s[x] = struct{}{} })
	return s
}

// Set is a flat set of allowed values.
type Set map[string]struct{}

// NewSet builds a Set from vs.
func NewSet(vs ...string) Set {
	s := make(Set, len(vs))
	for _, v := range vs {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is a member.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
