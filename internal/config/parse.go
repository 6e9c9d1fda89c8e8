package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"msggrabber/internal/ipmatch"
	"msggrabber/internal/validate"
)

// Parse decodes a configuration document. Node level decoding keeps the
// declaration order of params and reports the line of malformed entries.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("empty configuration document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nodeError(root, "document must be a mapping")
	}

	cfg := &Config{Handlers: map[string]*Endpoint{}}
	err := eachPair(root, func(key string, value *yaml.Node) error {
		switch key {
		case KeyHandlers:
			return parseHandlers(cfg, value)
		case KeyLogging:
			logging, err := parseLogging(value)
			if err != nil {
				return fmt.Errorf("%s: %w", KeyLogging, err)
			}
			cfg.Logging = logging
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseHandlers(cfg *Config, n *yaml.Node) error {
	if isNull(n) {
		return nil
	}
	return eachPair(n, func(name string, value *yaml.Node) error {
		if _, dup := cfg.Handlers[name]; dup {
			return nodeError(value, "duplicate handler %q", name)
		}
		ep, err := parseEndpoint(name, value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", KeyHandlers, name, err)
		}
		cfg.Handlers[name] = ep
		cfg.order = append(cfg.order, name)
		return nil
	})
}

func parseEndpoint(name string, n *yaml.Node) (*Endpoint, error) {
	ep := &Endpoint{Name: name, FailHard: DefaultFailHard}
	if isNull(n) {
		return ep, nil
	}

	err := eachPair(n, func(key string, value *yaml.Node) error {
		var err error
		switch key {
		case KeyProvider:
			ep.Provider, err = scalarText(value)
		case KeyIPs:
			if isNull(value) {
				return nil
			}
			var r ipmatch.Range
			if r, err = parseRange(value); err == nil {
				ep.AllowedIPs = &r
			}
		case KeyMethods:
			ep.Methods, err = parseMethods(value)
		case KeyParams:
			ep.HasParams = true
			ep.Params, err = parseParams(value)
		case KeyFields:
			ep.Fields, err = parseFields(value)
		case KeyFailHard:
			if !isNull(value) {
				err = value.Decode(&ep.FailHard)
			}
		case KeyResponse:
			ep.Response, err = scalarText(value)
		case KeyMaxOut:
			if !isNull(value) {
				err = value.Decode(&ep.MaxOut)
				if err == nil && ep.MaxOut < 0 {
					err = nodeError(value, "%s must not be negative", KeyMaxOut)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	})
	return ep, err
}

// parseRange accepts a single address, a CIDR block or an arbitrarily nested
// list of those.
func parseRange(n *yaml.Node) (ipmatch.Range, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		r, err := ipmatch.ParseRange(n.Value)
		if err != nil {
			return ipmatch.Range{}, nodeError(n, "%v", err)
		}
		return r, nil
	case yaml.SequenceNode:
		members := make([]ipmatch.Range, 0, len(n.Content))
		for _, child := range n.Content {
			r, err := parseRange(child)
			if err != nil {
				return ipmatch.Range{}, err
			}
			members = append(members, r)
		}
		return ipmatch.Group(members...), nil
	case yaml.AliasNode:
		return parseRange(n.Alias)
	default:
		return ipmatch.Range{}, nodeError(n, "address range must be a string or a list")
	}
}

func parseMethods(n *yaml.Node) ([]string, error) {
	if isNull(n) {
		return nil, nil
	}
	vals, err := parseValues(n)
	if err != nil {
		return nil, err
	}
	methods := vals.Flatten()
	for i, m := range methods {
		methods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	return methods, nil
}

func parseParams(n *yaml.Node) ([]ParamSpec, error) {
	if isNull(n) {
		return nil, nil
	}
	var specs []ParamSpec
	err := eachPair(n, func(name string, value *yaml.Node) error {
		spec, err := parseParam(name, value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		specs = append(specs, spec)
		return nil
	})
	return specs, err
}

func parseParam(name string, n *yaml.Node) (ParamSpec, error) {
	spec := ParamSpec{Name: name}
	if isNull(n) {
		return spec, nil
	}
	err := eachPair(n, func(key string, value *yaml.Node) error {
		var err error
		switch key {
		case KeyDefault:
			spec.Default, err = optionalText(value)
		case KeyRequired:
			if !isNull(value) {
				err = value.Decode(&spec.Required)
			}
		case KeyStore:
			spec.Store, err = scalarText(value)
		case KeyMatch:
			var expr string
			if expr, err = scalarText(value); err == nil && expr != "" {
				spec.Match, err = validate.CompilePattern(expr)
			}
		case KeyValues:
			if isNull(value) {
				return nil
			}
			var vals validate.Values
			if vals, err = parseValues(value); err == nil {
				spec.Values = vals.Set()
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	})
	return spec, err
}

func parseFields(n *yaml.Node) ([]FieldSpec, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, nodeError(n, "fields must be a list")
	}
	fields := make([]FieldSpec, 0, len(n.Content))
	for i, item := range n.Content {
		f, err := parseField(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseField(n *yaml.Node) (FieldSpec, error) {
	var f FieldSpec
	err := eachPair(n, func(key string, value *yaml.Node) error {
		var err error
		switch key {
		case KeyName:
			f.Name, err = scalarText(value)
		case KeyGenerator:
			f.Generator, err = scalarText(value)
		case KeyDefault:
			f.Default, err = optionalText(value)
		case KeyRequired:
			if !isNull(value) {
				err = value.Decode(&f.Required)
			}
		default:
			var v string
			if v, err = scalarText(value); err == nil {
				if f.Options == nil {
					f.Options = map[string]string{}
				}
				f.Options[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	})
	return f, err
}

func parseLogging(n *yaml.Node) (Logging, error) {
	var l Logging
	if isNull(n) {
		return l, nil
	}
	err := eachPair(n, func(key string, value *yaml.Node) error {
		var err error
		switch key {
		case KeyLevel:
			l.Level, err = scalarText(value)
		case KeyEmail:
			l.Email, err = parseEmailTargets(value)
		case KeySMTP:
			if !isNull(value) {
				err = value.Decode(&l.SMTP)
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	})
	return l, err
}

func parseEmailTargets(n *yaml.Node) ([]EmailTarget, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, nodeError(n, "email targets must be a list")
	}
	targets := make([]EmailTarget, 0, len(n.Content))
	for i, item := range n.Content {
		var (
			t               EmailTarget
			hasLevel, hasTo bool
		)
		err := eachPair(item, func(key string, value *yaml.Node) error {
			switch key {
			case KeyLevel:
				hasLevel = true
				lvl, err := scalarText(value)
				t.Level = lvl
				return err
			case KeyEmailTo:
				hasTo = true
				vals, err := parseValues(value)
				t.To = vals.Flatten()
				return err
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		if !hasLevel || !hasTo {
			return nil, nodeError(item, "email target needs both %s and %s", KeyLevel, KeyEmailTo)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// parseValues converts a scalar or nested list of scalars.
func parseValues(n *yaml.Node) (validate.Values, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if isNull(n) {
			return validate.Group(), nil
		}
		return validate.Leaf(n.Value), nil
	case yaml.SequenceNode:
		children := make([]validate.Values, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := parseValues(c)
			if err != nil {
				return validate.Values{}, err
			}
			children = append(children, v)
		}
		return validate.Group(children...), nil
	case yaml.AliasNode:
		return parseValues(n.Alias)
	default:
		return validate.Values{}, nodeError(n, "expected a value or a list of values")
	}
}

func eachPair(n *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	if n.Kind != yaml.MappingNode {
		return nodeError(n, "expected a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind == yaml.AliasNode {
			v = v.Alias
		}
		if err := fn(k.Value, v); err != nil {
			return err
		}
	}
	return nil
}

// scalarText returns the text of a scalar; numbers and booleans keep their
// literal spelling. Null is the empty string.
func scalarText(n *yaml.Node) (string, error) {
	if isNull(n) {
		return "", nil
	}
	if n.Kind != yaml.ScalarNode {
		return "", nodeError(n, "expected a single value")
	}
	return n.Value, nil
}

func optionalText(n *yaml.Node) (*string, error) {
	if isNull(n) {
		return nil, nil
	}
	s, err := scalarText(n)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

func nodeError(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
}
