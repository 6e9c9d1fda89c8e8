package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"msggrabber/internal/ipmatch"
	"msggrabber/internal/validate"
)

// Fixed key names in the YAML configuration file.
const (
	KeyHandlers  = "handlers"
	KeyLogging   = "logging"
	KeyProvider  = "provider"
	KeyIPs       = "allowed_IPs"
	KeyMethods   = "methods"
	KeyParams    = "params"
	KeyFields    = "fields"
	KeyFailHard  = "fail_hard"
	KeyResponse  = "response"
	KeyMaxOut    = "max_out"
	KeyDefault   = "default"
	KeyRequired  = "required"
	KeyStore     = "store"
	KeyMatch     = "match"
	KeyValues    = "values"
	KeyName      = "name"
	KeyGenerator = "generator"
	KeyLevel     = "level"
	KeyEmail     = "email"
	KeyEmailTo   = "to"
	KeySMTP      = "smtp"
)

const (
	DefaultConfigFile = "config.yaml"
	DefaultFailHard   = true
	DefaultProvider   = "----"
)

// DefaultMethods is used when an endpoint does not list its methods.
var DefaultMethods = []string{"GET"}

// Config is the whole configuration file. It is loaded once at startup and
// treated as read-only afterwards.
type Config struct {
	Logging  Logging
	Handlers map[string]*Endpoint

	order []string
}

// Logging holds the log level and email alerting targets.
type Logging struct {
	Level string
	Email []EmailTarget
	SMTP  SMTP
}

// EmailTarget mails every record at or above Level to the To addresses.
type EmailTarget struct {
	Level string
	To    []string
}

// SMTP is the mail relay used for alerts.
type SMTP struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Endpoint is the configuration of one request path.
type Endpoint struct {
	Name     string
	Provider string

	// AllowedIPs is nil when no restriction is configured. A non-nil empty
	// group admits no source at all.
	AllowedIPs *ipmatch.Range

	// Methods is nil when not configured; see AllowedMethods.
	Methods []string

	// Params is ordered as declared. HasParams distinguishes a missing
	// params section from an empty one.
	Params    []ParamSpec
	HasParams bool

	Fields   []FieldSpec
	FailHard bool
	Response string
	MaxOut   int
}

// AllowedMethods returns the configured methods, or DefaultMethods.
func (e *Endpoint) AllowedMethods() []string {
	if len(e.Methods) == 0 {
		return DefaultMethods
	}
	return e.Methods
}

// IsIngest reports whether the endpoint receives inbound messages.
func (e *Endpoint) IsIngest() bool {
	return strings.HasPrefix(e.Name, "in")
}

// ParamSpec describes one accepted request parameter.
type ParamSpec struct {
	Name     string
	Default  *string
	Required bool
	Store    string
	Match    *validate.Pattern
	Values   validate.Set
	Func     validate.Func
}

// Key returns the canonical name the validated value is stored under.
func (p ParamSpec) Key() string {
	if p.Store != "" {
		return p.Store
	}
	return p.Name
}

// Rules returns the validation chain for the parameter.
func (p ParamSpec) Rules() validate.Rules {
	return validate.Rules{Pattern: p.Match, Func: p.Func, Allowed: p.Values}
}

// FieldSpec describes one derived field. Keys not known to the loader are
// kept in Options for the generator.
type FieldSpec struct {
	Name      string
	Generator string
	Default   *string
	Required  bool
	Options   map[string]string
}

// GeneratorResolver reports whether a generator name is registered.
type GeneratorResolver interface {
	Has(name string) bool
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	log.Debug("Configuration loaded", "file", path, "handlers", len(cfg.Handlers))
	return cfg, nil
}

// Endpoint returns the configuration for the named path, if any.
func (c *Config) Endpoint(name string) (*Endpoint, bool) {
	if c == nil {
		return nil, false
	}
	ep, ok := c.Handlers[name]
	return ep, ok
}

// HandlerNames returns endpoint names in file order.
func (c *Config) HandlerNames() []string {
	if len(c.order) == len(c.Handlers) {
		return append([]string(nil), c.order...)
	}
	names := make([]string, 0, len(c.Handlers))
	for name := range c.Handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the parts of the configuration that can only fail at
// request time otherwise: field names, generator names and missing params.
func (c *Config) Validate(generators GeneratorResolver) error {
	var errs []error
	if len(c.Handlers) == 0 {
		errs = append(errs, errors.New("no handlers configured"))
	}
	for _, name := range c.HandlerNames() {
		ep := c.Handlers[name]
		if !ep.HasParams {
			errs = append(errs, fmt.Errorf("handler %q: no %s specification", name, KeyParams))
		}
		for i, f := range ep.Fields {
			if f.Name == "" {
				errs = append(errs, fmt.Errorf("handler %q: field %d: missing %s", name, i, KeyName))
			}
			if f.Generator != "" && generators != nil && !generators.Has(f.Generator) {
				errs = append(errs, fmt.Errorf("handler %q: field %q: unknown generator %q", name, f.Name, f.Generator))
			}
		}
	}
	return errors.Join(errs...)
}
