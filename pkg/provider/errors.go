package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies an error within the provider error taxonomy.
type ErrorKind string

const (
	KindNone                 ErrorKind = "ok"
	KindInvalidConfiguration ErrorKind = "invalid_configuration"
	KindSecretNotFound       ErrorKind = "secret_not_found"
	KindClient               ErrorKind = "client_error"
)

// InvalidConfigurationError reports configuration that is malformed or missing
// required fields. Detail describes the problem without quoting the
// configuration itself.
type InvalidConfigurationError struct {
	Detail string
}

func (e InvalidConfigurationError) Error() string {
	return "invalid configuration: " + e.Detail
}

// SecretNotFoundError reports that the backend definitively holds no secret
// with the requested name.
type SecretNotFoundError struct {
	Name string
}

func (e SecretNotFoundError) Error() string {
	return "secret not found: " + e.Name
}

// ClientError wraps any backend-internal failure: network, authentication,
// malformed responses, timeouts and cancellation. Err is kept for diagnostics
// and should not be matched on for control flow.
type ClientError struct {
	Err error
}

func (e ClientError) Error() string {
	if e.Err == nil {
		return "provider internal error"
	}
	return "provider internal error: " + e.Err.Error()
}

func (e ClientError) Unwrap() error {
	return e.Err
}

// InvalidConfiguration builds an InvalidConfigurationError. Callers must not
// interpolate configuration values into the detail.
func InvalidConfiguration(format string, args ...any) error {
	return InvalidConfigurationError{Detail: fmt.Sprintf(format, args...)}
}

// SecretNotFound builds a SecretNotFoundError for name.
func SecretNotFound(name string) error {
	return SecretNotFoundError{Name: name}
}

// NewClientError wraps err as a ClientError. It returns nil for a nil err and
// returns err unchanged when it already belongs to the taxonomy.
func NewClientError(err error) error {
	if err == nil {
		return nil
	}
	if IsInvalidConfiguration(err) || IsSecretNotFound(err) || IsClientError(err) {
		return err
	}
	return ClientError{Err: err}
}

// ClientErrorf formats a ClientError. Use %w to keep the cause inspectable.
func ClientErrorf(format string, args ...any) error {
	return ClientError{Err: fmt.Errorf(format, args...)}
}

// IsInvalidConfiguration reports whether err is an InvalidConfigurationError.
func IsInvalidConfiguration(err error) bool {
	var target InvalidConfigurationError
	return errors.As(err, &target)
}

// IsSecretNotFound reports whether err is a SecretNotFoundError.
func IsSecretNotFound(err error) bool {
	var target SecretNotFoundError
	return errors.As(err, &target)
}

// IsClientError reports whether err is a ClientError.
func IsClientError(err error) bool {
	var target ClientError
	return errors.As(err, &target)
}

// KindOf returns the taxonomy kind of err. Errors outside the taxonomy,
// including bare context errors, are classified as client errors.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case IsInvalidConfiguration(err):
		return KindInvalidConfiguration
	case IsSecretNotFound(err):
		return KindSecretNotFound
	default:
		return KindClient
	}
}

// IsTimeout reports whether err was caused by a deadline or cancellation.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
