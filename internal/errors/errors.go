package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/dsvault/pkg/provider"
)

// Exit codes returned by the CLI, one per error kind.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitInvalidConfig = 2
	ExitNotFound      = 3
	ExitClient        = 4
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context.
// Value must never carry vault configuration or secret content.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ProviderError enhances backend errors with context and a suggestion. The
// taxonomy kind of err is preserved through Unwrap.
func ProviderError(kind string, operation string, err error) error {
	if err == nil {
		return nil
	}
	return UserError{
		Message:    fmt.Sprintf("%s backend error during %s", kind, operation),
		Details:    err.Error(),
		Suggestion: getProviderSuggestion(kind, err),
		Err:        err,
	}
}

// getProviderSuggestion returns helpful suggestions based on backend kind and error
func getProviderSuggestion(kind string, err error) string {
	errStr := err.Error()

	switch provider.KindOf(err) {
	case provider.KindInvalidConfiguration:
		return fmt.Sprintf("Check the '%s' vault configuration. Run 'dsvault validate' to re-check it", kind)
	case provider.KindSecretNotFound:
		switch kind {
		case "aws.secretsmanager":
			return "Verify the secret name and region. List secrets with: 'aws secretsmanager list-secrets'"
		case "aws.ssm":
			return "Verify the parameter name and path_prefix. List parameters with: 'aws ssm describe-parameters'"
		case "gcp.secretmanager":
			return "Verify the secret exists: 'gcloud secrets list --project <project>'"
		case "azure.keyvault":
			return "Verify the secret exists: 'az keyvault secret list --vault-name <vault>'"
		case "vault":
			return "Check the mount and kv_version settings. Paths are relative to the mount"
		case "keychain":
			return "Names are 'service/account' or 'account' under the default service"
		}
		return "Verify the secret name exists in the backend"
	}

	switch kind {
	case "aws.secretsmanager", "aws.ssm":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue and ssm:GetParameter"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}

	case "gcp.secretmanager":
		if strings.Contains(errStr, "PermissionDenied") || strings.Contains(errStr, "Unauthenticated") {
			return "Run 'gcloud auth application-default login' or set credentials_file"
		}

	case "azure.keyvault":
		if strings.Contains(errStr, "Forbidden") || strings.Contains(errStr, "401") {
			return "Check the access policy or RBAC role for the identity: 'az login'"
		}

	case "vault":
		if strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "403") {
			return "Check the token policies or set VAULT_TOKEN"
		}

	case "akeyless":
		if strings.Contains(errStr, "authentication") || strings.Contains(errStr, "Unauthorized") {
			return "Verify access_id and auth.access_key for the Akeyless account"
		}

	case "keychain":
		if strings.Contains(errStr, "dbus") || strings.Contains(errStr, "secret service") {
			return "Start a Secret Service provider such as gnome-keyring"
		}

	case "sql":
		if strings.Contains(errStr, "authentication") || strings.Contains(errStr, "Access denied") {
			return "Check the database user and password in the dsn"
		}
	}

	// Generic suggestions
	if provider.IsTimeout(err) || strings.Contains(errStr, "timeout") {
		return "The operation timed out. Raise timeout_ms or check your network connection"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and backend address"
	}

	return ""
}

// ExitCode maps err to the CLI exit code for its taxonomy kind.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return ExitInvalidConfig
	}
	switch provider.KindOf(err) {
	case provider.KindInvalidConfiguration:
		return ExitInvalidConfig
	case provider.KindSecretNotFound:
		return ExitNotFound
	}
	if provider.IsClientError(err) {
		return ExitClient
	}
	return ExitFailure
}

// IsRetryable checks if an error is a transient client error. Configuration
// and not-found errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil || provider.KindOf(err) != provider.KindClient {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
		"unavailable",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
