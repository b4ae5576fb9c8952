package providers

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// secretEntry is a secret value with an optional version. In YAML it is
// either a plain scalar or a mapping with value and version keys.
type secretEntry struct {
	Value   string `yaml:"value"`
	Version string `yaml:"version"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (e *secretEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Value = node.Value
		return nil
	}
	type plain secretEntry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = secretEntry(p)
	return nil
}

// checkName rejects the empty name. No backend can hold an unnamed secret.
func checkName(name string) error {
	if name == "" {
		return provider.SecretNotFound("")
	}
	return nil
}

// newSecret moves value into protected memory, wiping the source slice.
func newSecret(value []byte, version string) *provider.ProviderSecret {
	return provider.NewProviderSecret(secure.NewStringFromBytes(value), version)
}

// newSecretString copies value into protected memory.
func newSecretString(value string, version string) *provider.ProviderSecret {
	return provider.NewProviderSecret(secure.NewString(value), version)
}

// clientError wraps a backend failure with the operation that failed.
func clientError(op string, err error) error {
	return provider.ClientError{Err: fmt.Errorf("%s: %w", op, err)}
}

// loggerOrDiscard keeps factories usable without a logger.
func loggerOrDiscard(logger *logging.Logger, kind string) *logging.Logger {
	if logger == nil {
		return logging.Discard().Named(kind)
	}
	return logger.Named(kind)
}
