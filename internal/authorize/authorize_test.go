package authorize

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"msggrabber/internal/config"
	"msggrabber/internal/ipmatch"
)

type mapRegistry map[string]Generator

func (m mapRegistry) Lookup(name string) (Generator, bool) {
	g, ok := m[name]
	return g, ok
}

func mustParse(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("config.Parse returned error: %v", err)
	}
	return cfg
}

func endpoint(t *testing.T, cfg *config.Config, name string) *config.Endpoint {
	t.Helper()
	ep, ok := cfg.Endpoint(name)
	if !ok {
		t.Fatalf("endpoint %s missing", name)
	}
	return ep
}

func wantRejection(t *testing.T, err error, kind Kind, field string) *Rejection {
	t.Helper()
	r, ok := AsRejection(err)
	if !ok {
		t.Fatalf("got %v, want rejection %s", err, kind)
	}
	if r.Kind != kind || r.Field != field {
		t.Fatalf("got rejection %s on %q, want %s on %q", r.Kind, r.Field, kind, field)
	}
	return r
}

const testConfig = `
handlers:
  in-test:
    provider: test
    allowed_IPs: [10.1.0.0/16, 192.168.0.0/16]
    methods: [GET, POST]
    params:
      from:
        required: true
        store: src
      to:
        required: true
        store: dst
      text:
        store: msg
      code:
        match: '.*code (?<g>\d{6})'
      kind:
        default: sms
        values: [sms, [mms]]
  in-soft:
    provider: soft
    fail_hard: false
    params:
      to:
        required: true
        store: dst
      n:
        match: '\d+'
  closed:
    allowed_IPs: []
    params: {}
  broken:
    provider: x
`

func TestAuthorizeNormalizesParams(t *testing.T) {
	cfg := mustParse(t, testConfig)
	a := New(nil)

	req := Request{
		SourceIP: "10.1.2.5",
		Method:   "post",
		Values: url.Values{
			"from":  {"+6512345678"},
			"to":    {"+6587654321"},
			"code":  {"your code 482913 expires"},
			"extra": {"ignored"},
		},
	}
	params, err := a.Authorize(req, endpoint(t, cfg, "in-test"))
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}

	if params.Get("src") != "+6512345678" || params.Get("dst") != "+6587654321" {
		t.Fatalf("renamed params not stored: %v", params.Keys())
	}
	if got := params.Get("code"); got != "482913" {
		t.Fatalf("code = %q, want 482913", got)
	}
	if got := params.Get("kind"); got != "sms" {
		t.Fatalf("default not applied: kind = %q", got)
	}
	if v, ok := params["msg"]; !ok || v != nil {
		t.Fatal("absent optional param should be stored as null")
	}
	if _, ok := params["extra"]; ok {
		t.Fatal("undeclared param was stored")
	}
	if got := strings.Join(params.Keys(), ","); got != "code,dst,kind,msg,src" {
		t.Fatalf("Keys returned %s", got)
	}
}

func TestAuthorizeAdmission(t *testing.T) {
	cfg := mustParse(t, testConfig)
	a := New(nil)
	values := url.Values{"from": {"a"}, "to": {"b"}}

	for _, ip := range []string{"10.2.0.1", "172.16.0.1", "::1", "not-an-ip"} {
		_, err := a.Authorize(Request{SourceIP: ip, Method: "GET", Values: values}, endpoint(t, cfg, "in-test"))
		r := wantRejection(t, err, Forbidden, "")
		if r.Kind.Status() != 403 {
			t.Fatalf("Forbidden maps to %d", r.Kind.Status())
		}
	}

	if _, err := a.Authorize(Request{SourceIP: "192.168.9.9", Method: "GET", Values: values}, endpoint(t, cfg, "in-test")); err != nil {
		t.Fatalf("Authorize rejected an allowed source: %v", err)
	}

	// No allow-list admits everyone, an empty one admits nobody.
	if _, err := a.Authorize(Request{SourceIP: "203.0.113.7", Method: "GET", Values: url.Values{"to": {"x"}}}, endpoint(t, cfg, "in-soft")); err != nil {
		t.Fatalf("Authorize rejected a source on an unrestricted endpoint: %v", err)
	}
	_, err := a.Authorize(Request{SourceIP: "127.0.0.1", Method: "GET"}, endpoint(t, cfg, "closed"))
	wantRejection(t, err, Forbidden, "")
}

func TestAdmitThenCollect(t *testing.T) {
	cfg := mustParse(t, testConfig)
	a := New(nil)
	ep := endpoint(t, cfg, "in-test")

	err := a.Admit("203.0.113.9", "GET", ep)
	wantRejection(t, err, Forbidden, "")

	// Source is checked before method.
	err = a.Admit("203.0.113.9", "DELETE", ep)
	wantRejection(t, err, Forbidden, "")

	err = a.Admit("not-an-ip", "GET", ep)
	r := wantRejection(t, err, Forbidden, "")
	if !errors.Is(r, ipmatch.ErrMalformedAddress) {
		t.Fatalf("rejection %v does not wrap ErrMalformedAddress", r)
	}

	err = a.Admit("10.1.0.1", "DELETE", ep)
	wantRejection(t, err, MethodNotAllowed, "")

	if err := a.Admit("10.1.0.1", "post", ep); err != nil {
		t.Fatalf("Admit rejected an allowed request: %v", err)
	}
	params, err := a.Collect(url.Values{"from": {"a"}, "to": {"b"}}, ep)
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if params.Get("src") != "a" || params.Get("dst") != "b" {
		t.Fatalf("Collect returned %v", params.Keys())
	}
}

func TestAuthorizeMethod(t *testing.T) {
	cfg := mustParse(t, testConfig)
	a := New(nil)

	_, err := a.Authorize(Request{SourceIP: "10.1.0.1", Method: "DELETE"}, endpoint(t, cfg, "in-test"))
	r := wantRejection(t, err, MethodNotAllowed, "")
	if r.Kind.Status() != 405 {
		t.Fatalf("MethodNotAllowed maps to %d", r.Kind.Status())
	}

	// Only GET when methods are not configured.
	_, err = a.Authorize(Request{SourceIP: "10.1.0.1", Method: "POST", Values: url.Values{"to": {"x"}}}, endpoint(t, cfg, "in-soft"))
	wantRejection(t, err, MethodNotAllowed, "")
}

func TestAuthorizeMissingRequired(t *testing.T) {
	cfg := mustParse(t, testConfig)
	a := New(nil)
	ep := endpoint(t, cfg, "in-test")

	_, err := a.Authorize(Request{SourceIP: "10.1.0.1", Method: "GET", Values: url.Values{"from": {"a"}}}, ep)
	r := wantRejection(t, err, MissingRequired, "to")
	if r.Kind.Status() != 400 {
		t.Fatalf("MissingRequired maps to %d", r.Kind.Status())
	}

	_, err = a.Authorize(Request{SourceIP: "10.1.0.1", Method: "GET", Values: url.Values{"from": {"a"}, "to": {""}}}, ep)
	wantRejection(t, err, MissingRequired, "to")
}

func TestAuthorizeValidationFailed(t *testing.T) {
	cfg := mustParse(t, testConfig)
	a := New(nil)
	ep := endpoint(t, cfg, "in-test")

	cases := map[string]url.Values{
		"code": {"from": {"a"}, "to": {"b"}, "code": {"no digits here"}},
		"kind": {"from": {"a"}, "to": {"b"}, "kind": {"fax"}},
	}
	for field, values := range cases {
		_, err := a.Authorize(Request{SourceIP: "10.1.0.1", Method: "GET", Values: values}, ep)
		wantRejection(t, err, ValidationFailed, field)
		if errors.Is(err, ErrSoftFailure) {
			t.Fatal("hard failure reported as soft")
		}
	}
}

func TestAuthorizeSoftFailure(t *testing.T) {
	cfg := mustParse(t, testConfig)
	a := New(nil)

	_, err := a.Authorize(Request{SourceIP: "10.1.0.1", Method: "GET", Values: url.Values{"to": {"x"}, "n": {"abc"}}}, endpoint(t, cfg, "in-soft"))
	if !errors.Is(err, ErrSoftFailure) {
		t.Fatalf("got %v, want soft failure", err)
	}
	if _, ok := AsRejection(err); ok {
		t.Fatal("soft failure must not be a field rejection")
	}
	var soft *SoftFailure
	if !errors.As(err, &soft) || soft.Field != "n" {
		t.Fatalf("soft failure does not record the field: %v", err)
	}

	// Missing required values are rejected whatever the fail policy.
	_, err = a.Authorize(Request{SourceIP: "10.1.0.1", Method: "GET"}, endpoint(t, cfg, "in-soft"))
	wantRejection(t, err, MissingRequired, "to")
}

func TestAuthorizeUndecodableValue(t *testing.T) {
	cfg := mustParse(t, testConfig)
	params, err := New(nil).Authorize(Request{
		SourceIP: "10.1.0.1",
		Method:   "GET",
		Values:   url.Values{"from": {"a"}, "to": {"b"}, "text": {"caf\xe9"}},
	}, endpoint(t, cfg, "in-test"))
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if got := params.Get("msg"); got != UndecodableValue {
		t.Fatalf("msg = %q", got)
	}
}

func TestAuthorizeMissingParamSpec(t *testing.T) {
	cfg := mustParse(t, testConfig)
	_, err := New(nil).Authorize(Request{SourceIP: "10.1.0.1", Method: "GET"}, endpoint(t, cfg, "broken"))
	r := wantRejection(t, err, ConfigurationFault, "")
	if r.Kind.Status() != 500 {
		t.Fatalf("ConfigurationFault maps to %d", r.Kind.Status())
	}

	_, err = New(nil).Authorize(Request{}, nil)
	wantRejection(t, err, ConfigurationFault, "")
}

const fieldConfig = `
handlers:
  in-hard:
    provider: p
    params:
      text:
        store: msg
    fields:
      - name: upper
        generator: upper
      - name: code
        generator: failing
        default: "000000"
      - name: note
        default: hello
      - name: empty
  in-required:
    provider: p
    fail_hard: %s
    params:
      text:
        store: msg
    fields:
      - name: must
        generator: blank
        required: true
  in-unknown:
    provider: p
    params: {}
    fields:
      - name: x
        generator: nowhere
  in-noname:
    provider: p
    params: {}
    fields:
      - generator: upper
`

func fieldRegistry() mapRegistry {
	return mapRegistry{
		"upper": func(p Params, _ config.FieldSpec) (string, error) {
			return strings.ToUpper(p.Get("msg")), nil
		},
		"failing": func(Params, config.FieldSpec) (string, error) {
			return "", errors.New("boom")
		},
		"blank": func(Params, config.FieldSpec) (string, error) {
			return "", nil
		},
	}
}

func TestAuthorizeFields(t *testing.T) {
	doc := strings.Replace(fieldConfig, "%s", "true", 1)
	cfg := mustParse(t, doc)
	a := New(fieldRegistry())
	req := Request{SourceIP: "10.0.0.1", Method: "GET", Values: url.Values{"text": {"abc"}}}

	t.Run("generator failure is a hard rejection", func(t *testing.T) {
		_, err := a.Authorize(req, endpoint(t, cfg, "in-hard"))
		wantRejection(t, err, ValidationFailed, "code")
	})

	t.Run("generated and default values", func(t *testing.T) {
		reg := fieldRegistry()
		reg["failing"] = func(Params, config.FieldSpec) (string, error) { return "", nil }
		params, err := New(reg).Authorize(req, endpoint(t, cfg, "in-hard"))
		if err != nil {
			t.Fatalf("Authorize returned error: %v", err)
		}
		if params.Get("upper") != "ABC" || params.Get("code") != "000000" || params.Get("note") != "hello" {
			t.Fatalf("unexpected fields: upper=%q code=%q note=%q", params.Get("upper"), params.Get("code"), params.Get("note"))
		}
		if v, ok := params["empty"]; !ok || v != nil {
			t.Fatal("field without value should be stored as null")
		}
	})

	t.Run("required field", func(t *testing.T) {
		_, err := a.Authorize(req, endpoint(t, cfg, "in-required"))
		wantRejection(t, err, MissingRequired, "must")
	})

	t.Run("unknown generator", func(t *testing.T) {
		_, err := a.Authorize(Request{SourceIP: "10.0.0.1", Method: "GET"}, endpoint(t, cfg, "in-unknown"))
		wantRejection(t, err, ConfigurationFault, "x")
	})

	t.Run("missing field name", func(t *testing.T) {
		_, err := a.Authorize(Request{SourceIP: "10.0.0.1", Method: "GET"}, endpoint(t, cfg, "in-noname"))
		wantRejection(t, err, ConfigurationFault, "")
	})
}

func TestAuthorizeFieldsSoft(t *testing.T) {
	doc := strings.Replace(fieldConfig, "%s", "false", 1)
	cfg := mustParse(t, doc)
	_, err := New(fieldRegistry()).Authorize(
		Request{SourceIP: "10.0.0.1", Method: "GET", Values: url.Values{"text": {"abc"}}},
		endpoint(t, cfg, "in-required"),
	)
	if !errors.Is(err, ErrSoftFailure) {
		t.Fatalf("got %v, want soft failure", err)
	}
}
