package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/dsvault/internal/errors"
	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/secure"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "dsvault.yaml"

// DefaultTimeout bounds a vault operation when timeout_ms is unset.
const DefaultTimeout = 30 * time.Second

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the dsvault.yaml structure
type Definition struct {
	Version int                    `yaml:"version"`
	Vaults  map[string]VaultConfig `yaml:"vaults"`
}

// VaultConfig describes one configured vault. The backend configuration
// comes either inline under config (a mapping or a string) or from the
// environment variable named by config_env.
type VaultConfig struct {
	Kind      string    `yaml:"kind"`
	TimeoutMs int       `yaml:"timeout_ms,omitempty"`
	Config    yaml.Node `yaml:"config,omitempty"`
	ConfigEnv string    `yaml:"config_env,omitempty"`
}

// Load reads and parses the dsvault.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a dsvault.yaml with a 'vaults:' section or pass --config",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}
	// The file may hold inline backend credentials.
	defer secure.Wipe(data)

	def, err := Parse(data)
	if err != nil {
		return err
	}

	if c.Logger != nil {
		c.Logger.Debug("loaded %d vaults from %s", len(def.Vaults), c.Path)
	}
	c.Definition = def
	return nil
}

// Parse decodes and checks a dsvault.yaml document. Parse errors never
// quote the document.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 0 {
		return nil, dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your dsvault.yaml file",
		}
	}

	for _, name := range sortedNames(def.Vaults) {
		if err := def.Vaults[name].check(name); err != nil {
			return nil, err
		}
	}

	return &def, nil
}

func (v VaultConfig) check(name string) error {
	field := "vaults." + name
	if v.Kind == "" {
		return dserrors.ConfigError{
			Field:      field + ".kind",
			Message:    "vault kind is required",
			Suggestion: "Run 'dsvault backends' to list supported kinds",
		}
	}
	if v.TimeoutMs < 0 {
		return dserrors.ConfigError{
			Field:      field + ".timeout_ms",
			Value:      v.TimeoutMs,
			Message:    "timeout must not be negative",
			Suggestion: "Omit timeout_ms to use the 30s default",
		}
	}
	if v.ConfigEnv != "" && !v.Config.IsZero() {
		return dserrors.ConfigError{
			Field:      field,
			Message:    "config and config_env are mutually exclusive",
			Suggestion: "Keep the backend configuration in one place",
		}
	}
	if !v.Config.IsZero() && v.Config.Kind != yaml.MappingNode && v.Config.Kind != yaml.ScalarNode {
		return dserrors.ConfigError{
			Field:      field + ".config",
			Message:    "config must be a mapping or a string",
			Suggestion: "Write the backend settings as 'key: value' pairs under config:",
		}
	}
	return nil
}

// Vault returns the configuration for a named vault
func (c *Config) Vault(name string) (VaultConfig, error) {
	if c.Definition == nil {
		return VaultConfig{}, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	if v, ok := c.Definition.Vaults[name]; ok {
		return v, nil
	}

	suggestion := "Add the vault to the 'vaults:' section of your dsvault.yaml"
	if available := c.VaultNames(); len(available) > 0 {
		suggestion = fmt.Sprintf("Available vaults: %s", strings.Join(available, ", "))
	}

	return VaultConfig{}, dserrors.ConfigError{
		Field:      "vault",
		Value:      name,
		Message:    "vault not found in configuration",
		Suggestion: suggestion,
	}
}

// VaultNames returns the configured vault names, sorted
func (c *Config) VaultNames() []string {
	if c.Definition == nil {
		return nil
	}
	return sortedNames(c.Definition.Vaults)
}

// Timeout returns the per-operation timeout for the vault
func (v VaultConfig) Timeout() time.Duration {
	if v.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(v.TimeoutMs) * time.Millisecond
}

// Secret returns the backend configuration in zeroizing memory. The caller
// owns the result. Intermediate buffers are wiped.
func (v VaultConfig) Secret() (*secure.String, error) {
	if v.ConfigEnv != "" {
		value, ok := os.LookupEnv(v.ConfigEnv)
		if !ok {
			return nil, dserrors.ConfigError{
				Field:      "config_env",
				Value:      v.ConfigEnv,
				Message:    "environment variable is not set",
				Suggestion: fmt.Sprintf("Export %s with the backend configuration", v.ConfigEnv),
			}
		}
		return secure.NewString(value), nil
	}

	switch v.Config.Kind {
	case 0:
		return secure.NewString("{}"), nil
	case yaml.ScalarNode:
		return secure.NewString(v.Config.Value), nil
	}

	data, err := yaml.Marshal(&v.Config)
	if err != nil {
		return nil, dserrors.ConfigError{
			Field:   "config",
			Message: "backend configuration could not be encoded",
		}
	}
	return secure.NewStringFromBytes(data), nil
}

func sortedNames(vaults map[string]VaultConfig) []string {
	names := make([]string, 0, len(vaults))
	for name := range vaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
