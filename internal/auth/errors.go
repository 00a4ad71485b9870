package auth

import (
	"errors"
	"net/http"
)

// Kind classifies auth failures for transport mapping and logging.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindThrottled      Kind = "throttled"
	KindAccountState   Kind = "account_state"
	KindDependency     Kind = "dependency"
	KindInternal       Kind = "internal"
)

// Error is the engine's error type. Message is safe to return to callers;
// cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the error kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication, KindAccountState:
		return http.StatusUnauthorized
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validationErr(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func authenticationErr(msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

func throttledErr(msg string) *Error {
	return &Error{Kind: KindThrottled, Message: msg}
}

func accountStateErr(msg string) *Error {
	return &Error{Kind: KindAccountState, Message: msg}
}

func dependencyErr(msg string, cause error) *Error {
	return &Error{Kind: KindDependency, Message: msg, cause: cause}
}

func internalErr(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "something went wrong", cause: cause}
}

// Caller-facing messages. Credential failures stay generic so responses never
// reveal whether an account exists.
const (
	msgInvalidCredentials = "invalid email or password"
	msgEmailUnverified    = "please verify your email address before logging in"
	msgTooManyRequests    = "too many attempts, please try again later"
	msgAccountLocked      = "account temporarily locked due to failed login attempts; reset your password or contact support"
	msgInvalidToken       = "invalid or expired token"
)

// KindOf returns the kind of an engine error, or KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError extracts the engine error, wrapping foreign errors as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internalErr(err)
}
