package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	mainKeysMust = []string{KeyHandlers}

	loggingKeysCan = []string{KeyLevel, KeyEmail, KeySMTP}

	inHandlerKeysMust    = []string{KeyParams, KeyProvider}
	inHandlerKeysCan     = []string{KeyParams, KeyIPs, KeyResponse, KeyFailHard, KeyProvider, KeyFields, KeyMethods}
	otherHandlerKeysMust = []string{KeyParams}
	otherHandlerKeysCan  = []string{KeyParams, KeyIPs, KeyMaxOut, KeyMethods, KeyFailHard}

	inParamKeysCan    = []string{KeyDefault, KeyMatch, KeyRequired, KeyStore, KeyValues}
	otherParamKeysCan = []string{KeyDefault, KeyMatch, KeyRequired, KeyValues}

	emailKeysMust = []string{KeyEmailTo, KeyLevel}
)

// Report collects the findings of a configuration check.
type Report struct {
	Errors   []string
	Warnings []string
}

func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// CheckFile reads path and checks its structure. Files that cannot be read
// or parsed produce a single error in the report.
func CheckFile(path string) *Report {
	data, err := os.ReadFile(path)
	if err != nil {
		r := &Report{}
		r.errorf("%v", err)
		return r
	}
	return Check(data)
}

// Check reports missing mandatory keys as errors and unexpected keys as
// warnings. Documents that pass are then run through Parse so malformed
// addresses and patterns are reported too.
func Check(data []byte) *Report {
	r := &Report{}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		r.errorf("%v", err)
		return r
	}
	var root *yaml.Node
	if len(doc.Content) > 0 {
		root = doc.Content[0]
	}

	mustHaveKeys(r, root, mainKeysMust, "document")

	if logging := lookup(root, KeyLogging); logging != nil {
		canHaveKeys(r, logging, loggingKeysCan, KeyLogging)
		if email := lookup(logging, KeyEmail); email != nil && email.Kind == yaml.SequenceNode {
			ctx := KeyLogging + "." + KeyEmail
			for _, target := range email.Content {
				mustHaveKeys(r, target, emailKeysMust, ctx)
				canHaveKeys(r, target, emailKeysMust, ctx)
			}
		}
	}

	if handlers := lookup(root, KeyHandlers); handlers != nil && handlers.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(handlers.Content); i += 2 {
			name, data := handlers.Content[i].Value, handlers.Content[i+1]
			checkHandler(r, name, data)
		}
	}

	if r.OK() {
		if _, err := Parse(data); err != nil {
			r.errorf("%v", err)
		}
	}
	return r
}

func checkHandler(r *Report, name string, data *yaml.Node) {
	must, can, paramCan := otherHandlerKeysMust, otherHandlerKeysCan, otherParamKeysCan
	if strings.HasPrefix(name, "in") {
		must, can, paramCan = inHandlerKeysMust, inHandlerKeysCan, inParamKeysCan
	}

	ctx := KeyHandlers + "." + name
	mustHaveKeys(r, data, must, ctx)
	canHaveKeys(r, data, can, ctx)

	params := lookup(data, KeyParams)
	if params == nil || params.Kind != yaml.MappingNode {
		return
	}
	ctx += "." + KeyParams
	for i := 0; i+1 < len(params.Content); i += 2 {
		canHaveKeys(r, params.Content[i+1], paramCan, ctx+"."+params.Content[i].Value)
	}
}

func mustHaveKeys(r *Report, n *yaml.Node, keys []string, ctx string) {
	for _, k := range keys {
		if !hasKey(n, k) {
			r.errorf("Missing key %q in %s", k, ctx)
		}
	}
}

func canHaveKeys(r *Report, n *yaml.Node, keys []string, ctx string) {
	if n == nil || n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i < len(n.Content); i += 2 {
		k := n.Content[i].Value
		if !contains(keys, k) {
			r.warnf("Key %q in %s is unexpected", k, ctx)
		}
	}
}

func hasKey(n *yaml.Node, key string) bool {
	if n == nil || n.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}

func lookup(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
