package authorize

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a rejected request.
type Kind int

const (
	Forbidden Kind = iota + 1
	MethodNotAllowed
	MissingRequired
	ValidationFailed
	ConfigurationFault
)

func (k Kind) String() string {
	switch k {
	case Forbidden:
		return "forbidden"
	case MethodNotAllowed:
		return "method not allowed"
	case MissingRequired:
		return "missing required"
	case ValidationFailed:
		return "validation failed"
	case ConfigurationFault:
		return "configuration fault"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Status is the HTTP status code a caller should answer with.
func (k Kind) Status() int {
	switch k {
	case Forbidden:
		return http.StatusForbidden
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case MissingRequired, ValidationFailed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Rejection is a terminal outcome of Authorize. Field is empty when the
// rejection is not about a single parameter.
type Rejection struct {
	Kind   Kind
	Field  string
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	return r.Reason
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// ErrSoftFailure is returned, wrapped in a *SoftFailure, when validation
// fails on an endpoint with fail_hard disabled. Callers answer success and
// store nothing.
var ErrSoftFailure = errors.New("soft validation failure")

// SoftFailure records which field failed so it can be logged. It is not
// reported to clients.
type SoftFailure struct {
	Field  string
	Reason string
}

func (s *SoftFailure) Error() string {
	return s.Reason
}

func (s *SoftFailure) Is(target error) bool {
	return target == ErrSoftFailure
}

func rejectf(kind Kind, field, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a *Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
