// Package vault implements the HashiCorp Vault backend over the HTTP API.
//
// Names are KV paths under the configured mount, optionally followed by
// "#field" to select one key of the entry: "myapp/db#password". Without a
// field the whole entry is returned as a JSON object.
package vault

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/systmms/dsvault/internal/configschema"
	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// Kind is the Vault backend kind.
const Kind = "vault"

//go:embed schema.json
var schemaFS embed.FS

var schema = configschema.MustLoad(Kind, schemaFS, "schema.json")

// Factory builds Vault providers
type Factory struct {
	logger *logging.Logger
}

// NewFactory creates the vault factory
func NewFactory(logger *logging.Logger) *Factory {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Factory{logger: logger.Named(Kind)}
}

// Kind returns "vault"
func (f *Factory) Kind() string {
	return Kind
}

// Validate checks the configuration, authenticates, and looks up the
// resulting token
func (f *Factory) Validate(ctx context.Context, config *secure.String) error {
	client, err := f.connect(ctx, config)
	if err != nil {
		return err
	}
	return client.Close()
}

// Create makes the same checks as Validate and consumes the configuration.
// The provider keeps the token from that login.
func (f *Factory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	client, err := f.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, logger: f.logger}, nil
}

func (f *Factory) connect(ctx context.Context, config *secure.String) (*Client, error) {
	cfg, err := decode(config)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(cfg, f.logger)
	if err != nil {
		return nil, provider.InvalidConfiguration("%v", err)
	}

	if err := client.Authenticate(ctx); err != nil {
		_ = client.Close()
		return nil, clientError("authenticate", err)
	}
	if err := client.LookupSelf(ctx); err != nil {
		_ = client.Close()
		return nil, clientError("token lookup", err)
	}
	f.logger.Debug("authenticated with %s auth", cfg.AuthMethod)
	return client, nil
}

func decode(config *secure.String) (Config, error) {
	var cfg Config
	if err := schema.Decode(config, &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyEnvironment()
	if err := cfg.Check(); err != nil {
		return cfg, provider.InvalidConfiguration("%v", err)
	}
	return cfg, nil
}

// Provider reads KV entries from Vault
type Provider struct {
	client *Client
	logger *logging.Logger
}

// GetSecret reads a KV entry. The version is the KV v2 metadata version.
func (p *Provider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	path, field := parseName(name)
	if path == "" {
		return nil, provider.SecretNotFound(name)
	}

	if err := p.client.Authenticate(ctx); err != nil {
		return nil, clientError("authenticate", err)
	}

	p.logger.Debug("reading %s", path)
	secret, err := p.client.Get(ctx, path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, provider.SecretNotFound(name)
		}
		return nil, clientError("read", err)
	}

	value, err := fieldValue(secret.Data, field)
	if err != nil {
		if errors.Is(err, errFieldMissing) {
			return nil, provider.SecretNotFound(name)
		}
		return nil, clientError("encode", err)
	}

	var version string
	if secret.Version > 0 {
		version = strconv.Itoa(secret.Version)
	}
	return provider.NewProviderSecret(secure.NewStringFromBytes(value), version), nil
}

// Close discards the token
func (p *Provider) Close() error {
	return p.client.Close()
}

// parseName splits "path#field"
func parseName(name string) (path, field string) {
	path, field, _ = strings.Cut(name, "#")
	return strings.Trim(path, "/"), field
}

var errFieldMissing = errors.New("field not found")

func fieldValue(data map[string]interface{}, field string) ([]byte, error) {
	if field == "" {
		return json.Marshal(data)
	}

	v, ok := data[field]
	if !ok {
		return nil, errFieldMissing
	}

	switch v := v.(type) {
	case string:
		return []byte(v), nil
	case float64:
		return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case bool:
		return []byte(strconv.FormatBool(v)), nil
	case nil:
		return []byte{}, nil
	default:
		return json.Marshal(v)
	}
}

func clientError(op string, err error) error {
	if IsPermissionDenied(err) {
		op += " (permission denied)"
	}
	return provider.ClientError{Err: fmt.Errorf("%s: %w", op, err)}
}
