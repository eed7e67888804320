package apiclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/Skotchmaster/blytz_client/pkg/transport"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrValidation     = errors.New("validation")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrServer         = errors.New("server error")
	ErrSessionExpired = errors.New("session expired")
	ErrNoRefreshToken = errors.New("no refresh token")
)

type Kind int

const (
	KindOther Kind = iota
	KindAuth
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindServer:
		return "server"
	}
	return "other"
}

// APIError is a non-2xx response, or a 2xx response whose envelope has
// success=false.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Details   []transport.ErrorDetail
	RequestID string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api: %d", e.Status)
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	for _, d := range e.Details {
		fmt.Fprintf(&b, "; %s: %s", d.Field, d.Message)
	}
	return b.String()
}

func (e *APIError) Kind() Kind {
	switch {
	case e.Status == http.StatusUnauthorized:
		return KindAuth
	case e.Status == http.StatusForbidden:
		return KindForbidden
	case e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity:
		return KindValidation
	case e.Status == http.StatusNotFound:
		return KindNotFound
	case e.Status == http.StatusConflict:
		return KindConflict
	case e.Status >= 500:
		return KindServer
	}
	return KindOther
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind() == KindAuth
	case ErrForbidden:
		return e.Kind() == KindForbidden
	case ErrValidation:
		return e.Kind() == KindValidation
	case ErrNotFound:
		return e.Kind() == KindNotFound
	case ErrConflict:
		return e.Kind() == KindConflict
	case ErrServer:
		return e.Kind() == KindServer
	}
	return false
}

// FieldErrors maps validation details by field name.
func (e *APIError) FieldErrors() map[string]string {
	if len(e.Details) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Details))
	for _, d := range e.Details {
		out[d.Field] = d.Message
	}
	return out
}

// NetworkError is a transport failure: dial, TLS, timeout, or cancellation.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// IsAuthFailure reports whether err means the session is no longer valid.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSessionExpired)
}

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
