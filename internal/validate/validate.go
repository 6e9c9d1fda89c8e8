// Package validate checks and rewrites untrusted string parameters against an
// ordered chain of optional rules: pattern, custom function, allowed values.
package validate

import (
	"fmt"
	"regexp"
)

// Func validates a value and may rewrite it. Returning false or an empty
// string rejects the value.
type Func func(value string) (string, bool)

// Pattern is a regular expression matched at the start of a value. When the
// expression has a capture group, a match replaces the value with group 1.
type Pattern struct {
	source string
	re     *regexp.Regexp
}

// CompilePattern compiles expr anchored at the start of the input. At most
// one capture group is allowed.
func CompilePattern(expr string) (*Pattern, error) {
	re, err := regexp.Compile(`^(?:` + expr + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	if re.NumSubexp() > 1 {
		return nil, fmt.Errorf("pattern %q has %d capture groups, at most 1 allowed", expr, re.NumSubexp())
	}
	return &Pattern{source: expr, re: re}, nil
}

// MustCompilePattern is like CompilePattern but panics on error.
func MustCompilePattern(expr string) *Pattern {
	p, err := CompilePattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string {
	return p.source
}

// apply returns the value to carry forward and whether the pattern matched.
func (p *Pattern) apply(value string) (string, bool) {
	m := p.re.FindStringSubmatchIndex(value)
	if m == nil {
		return "", false
	}
	if p.re.NumSubexp() == 0 {
		return value, true
	}
	// Group 1 did not take part in the match.
	if m[2] < 0 {
		return "", false
	}
	return value[m[2]:m[3]], true
}

// Rules is the chain applied by Validate. Every field is optional.
type Rules struct {
	Pattern *Pattern
	Func    Func
	Allowed Set
}

// Validate runs value through the pattern, then the function, then the
// allowed set. Each stage sees the value produced by the one before it. The
// second return is false when any stage rejects; there is no partial result.
func Validate(value string, rules Rules) (string, bool) {
	if rules.Pattern != nil {
		var ok bool
		if value, ok = rules.Pattern.apply(value); !ok {
			return "", false
		}
	}

	if rules.Func != nil {
		var ok bool
		value, ok = rules.Func(value)
		if !ok || value == "" {
			return "", false
		}
	}

	if len(rules.Allowed) > 0 && !rules.Allowed.Has(value) {
		return "", false
	}

	return value, true
}
