package provider

import (
	"context"
	"io"

	"github.com/systmms/dsvault/pkg/secure"
)

// VaultProvider fetches secrets from one configured vault backend.
//
// Implementations must be safe for concurrent use. Each GetSecret call is
// independent: providers never hold a lock across backend I/O, and a failed
// call leaves the provider usable for later calls.
//
// Providers that own closable resources (database pools, long-lived clients)
// also implement io.Closer. Use Close to release them.
type VaultProvider interface {
	// GetSecret fetches the secret identified by name. The interpretation of
	// name is backend-defined (a path, an ARN, a key id).
	//
	// Errors:
	//   - SecretNotFoundError when the backend has no such secret
	//   - ClientError for any other backend failure, including timeouts
	//     and context cancellation
	GetSecret(ctx context.Context, name string) (*ProviderSecret, error)
}

// VaultProviderFactory builds VaultProvider instances for one backend kind
// from an opaque, sensitive configuration.
//
// Factories hold no per-call state and are safe for concurrent use. They must
// never log, retain, or echo the configuration they are given.
type VaultProviderFactory interface {
	// Kind returns the stable backend identifier, e.g. "memory" or "vault".
	Kind() string

	// Validate checks the configuration and performs a live reachability and
	// authentication check against the backend. The configuration is not
	// consumed; the caller keeps ownership.
	//
	// Errors:
	//   - InvalidConfigurationError when the configuration is malformed
	//   - ClientError when it is well-formed but the live check failed
	Validate(ctx context.Context, config *secure.String) error

	// Create builds a provider from the configuration. The configuration is
	// consumed: the factory destroys it before returning, on every path.
	//
	// Create repeats every check Validate makes, so callers may skip
	// Validate. An unreachable backend fails with ClientError.
	Create(ctx context.Context, config *secure.String) (VaultProvider, error)
}

// ProviderSecret is a secret returned by a provider. The caller owns it
// exclusively and should call Destroy once the value is no longer needed.
type ProviderSecret struct {
	// Value holds the secret in zeroizing memory.
	Value *secure.String

	// Version is the backend's opaque version identifier. Empty when the
	// backend does not version secrets.
	Version string
}

// NewProviderSecret wraps value and version. The value container is owned by
// the returned secret.
func NewProviderSecret(value *secure.String, version string) *ProviderSecret {
	return &ProviderSecret{Value: value, Version: version}
}

// HasVersion reports whether the backend supplied a version.
func (s *ProviderSecret) HasVersion() bool {
	return s != nil && s.Version != ""
}

// Destroy zeroizes the secret value. It is safe to call more than once.
func (s *ProviderSecret) Destroy() {
	if s == nil {
		return
	}
	s.Value.Destroy()
}

// String never reveals the secret value.
func (s *ProviderSecret) String() string {
	if s.HasVersion() {
		return "ProviderSecret{Value: [REDACTED], Version: " + s.Version + "}"
	}
	return "ProviderSecret{Value: [REDACTED]}"
}

// Close releases resources held by p when p implements io.Closer. Providers
// without closable resources are left untouched.
func Close(p VaultProvider) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
