// Package authorize runs the per-request admission and parameter pipeline:
// source address, method, declared parameters, then derived fields.
package authorize

import (
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"msggrabber/internal/config"
	"msggrabber/internal/ipmatch"
	"msggrabber/internal/validate"
)

// UndecodableValue replaces parameter values that are not valid UTF-8.
const UndecodableValue = "* Undecodeable unicode *"

// Request is the part of an inbound request the pipeline looks at.
type Request struct {
	SourceIP string
	Method   string
	Values   url.Values
}

// Authorizer is safe for concurrent use; it holds no per-request state.
type Authorizer struct {
	generators Registry
}

func New(generators Registry) *Authorizer {
	return &Authorizer{generators: generators}
}

// Authorize returns the normalized parameters for req, a *Rejection, or an
// error matching ErrSoftFailure.
func (a *Authorizer) Authorize(req Request, ep *config.Endpoint) (Params, error) {
	if err := a.Admit(req.SourceIP, req.Method, ep); err != nil {
		return nil, err
	}
	return a.Collect(req.Values, ep)
}

// Admit checks the source address and then the method. It needs nothing
// from the request body, so callers run it before reading parameters.
func (a *Authorizer) Admit(sourceIP, method string, ep *config.Endpoint) error {
	if ep == nil {
		return rejectf(ConfigurationFault, "", "No handler configured")
	}
	if err := admit(sourceIP, ep.AllowedIPs); err != nil {
		return err
	}
	return checkMethod(method, ep.AllowedMethods())
}

// Collect validates the declared parameters of an admitted request and adds
// the derived fields.
func (a *Authorizer) Collect(values url.Values, ep *config.Endpoint) (Params, error) {
	if ep == nil {
		return nil, rejectf(ConfigurationFault, "", "No handler configured")
	}
	params, err := collectParams(values, ep)
	if err != nil {
		return nil, err
	}

	if len(ep.Fields) > 0 {
		if err := a.addFields(params, ep); err != nil {
			return nil, err
		}
	}
	return params, nil
}

func admit(sourceIP string, allowed *ipmatch.Range) error {
	if allowed == nil {
		return nil
	}
	ip, err := ipmatch.ParseAddress(sourceIP)
	if err != nil {
		r := rejectf(Forbidden, "", "Invalid source address: %s", sourceIP)
		r.Err = err
		return r
	}
	if !ipmatch.Matches(ip, *allowed) {
		return rejectf(Forbidden, "", "Invalid source address: %s", sourceIP)
	}
	return nil
}

func checkMethod(method string, allowed []string) error {
	if !slices.Contains(allowed, strings.ToUpper(method)) {
		return rejectf(MethodNotAllowed, "", "Method Not Allowed")
	}
	return nil
}

func collectParams(values url.Values, ep *config.Endpoint) (Params, error) {
	if !ep.HasParams {
		return nil, rejectf(ConfigurationFault, "", "No API specification")
	}

	params := make(Params, len(ep.Params))
	for _, spec := range ep.Params {
		value, present := rawValue(values, spec)

		if spec.Required && value == "" {
			return nil, rejectf(MissingRequired, spec.Name, "Parameter %q: required but missing", spec.Name)
		}

		if !present {
			params.SetNull(spec.Key())
			continue
		}

		validated, ok := validate.Validate(value, spec.Rules())
		if !ok {
			reason := "Parameter \"" + spec.Name + "\": Value \"" + value + "\" failed validation"
			return nil, failure(ep.FailHard, ValidationFailed, spec.Name, reason)
		}
		params.Set(spec.Key(), validated)
	}
	return params, nil
}

// rawValue returns the first value supplied for spec, falling back to its
// default. present is false when neither exists.
func rawValue(values url.Values, spec config.ParamSpec) (value string, present bool) {
	if vs, ok := values[spec.Name]; ok && len(vs) > 0 {
		value = vs[0]
		if !utf8.ValidString(value) {
			log.Error("Undecodable parameter value", "param", spec.Name)
			value = UndecodableValue
		}
		return value, true
	}
	if spec.Default != nil {
		return *spec.Default, true
	}
	return "", false
}

func (a *Authorizer) addFields(params Params, ep *config.Endpoint) error {
	for _, field := range ep.Fields {
		if field.Name == "" {
			return rejectf(ConfigurationFault, "", "Field name missing")
		}

		var value string
		if field.Generator != "" {
			gen, ok := a.lookup(field.Generator)
			if !ok {
				return rejectf(ConfigurationFault, field.Name, "Missing field generator %q", field.Generator)
			}
			v, err := gen(params, field)
			if err != nil {
				reason := "Field generator " + field.Generator + " failed: " + err.Error()
				return failure(ep.FailHard, ValidationFailed, field.Name, reason)
			}
			value = v
		}

		if value == "" && field.Default != nil {
			value = *field.Default
		}

		if field.Required && value == "" {
			reason := "Required field \"" + field.Name + "\" has no value"
			return failure(ep.FailHard, MissingRequired, field.Name, reason)
		}

		if value == "" && field.Default == nil {
			params.SetNull(field.Name)
			continue
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (a *Authorizer) lookup(name string) (Generator, bool) {
	if a == nil || a.generators == nil {
		return nil, false
	}
	return a.generators.Lookup(name)
}

// failure applies the endpoint fail policy. Hard failures name the field;
// soft failures end the pipeline with ErrSoftFailure.
func failure(hard bool, kind Kind, field, reason string) error {
	if hard {
		return &Rejection{Kind: kind, Field: field, Reason: reason}
	}
	return &SoftFailure{Field: field, Reason: reason}
}
