package resilience

import "net/http"

// Class groups failed fetches by the recovery they get.
type Class int

const (
	// ClassTransport means no HTTP response arrived (status 0).
	ClassTransport Class = iota
	// ClassTransientServer covers 500 through 505.
	ClassTransientServer
	// ClassAuthChallenge is a 403 from an anti-bot layer.
	ClassAuthChallenge
	ClassNotFound
	ClassUnhandled
)

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassTransientServer:
		return "transient_server"
	case ClassAuthChallenge:
		return "auth_challenge"
	case ClassNotFound:
		return "not_found"
	default:
		return "unhandled"
	}
}

// Retryable reports whether the class has a recovery strategy.
func (c Class) Retryable() bool {
	return c == ClassTransientServer || c == ClassAuthChallenge
}

func Classify(status int) Class {
	switch {
	case status == 0:
		return ClassTransport
	case status >= http.StatusInternalServerError && status <= http.StatusHTTPVersionNotSupported:
		return ClassTransientServer
	case status == http.StatusForbidden:
		return ClassAuthChallenge
	case status == http.StatusNotFound:
		return ClassNotFound
	default:
		return ClassUnhandled
	}
}
