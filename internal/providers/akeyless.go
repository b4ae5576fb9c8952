package providers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindAkeyless is the Akeyless backend kind.
const KindAkeyless = "akeyless"

// Defaults for the Akeyless backend
const (
	DefaultAkeylessGateway = "https://api.akeyless.io"
	DefaultAkeylessTimeout = 30 * time.Second
)

var akeylessSchema = mustLoadSchema(KindAkeyless, "akeyless.json")

// ErrAkeylessSecretNotFound is returned by AkeylessClientAPI when the item
// does not exist
var ErrAkeylessSecretNotFound = errors.New("akeyless secret not found")

// AkeylessClientAPI abstracts the Akeyless SDK operations the backend needs
type AkeylessClientAPI interface {
	// Authenticate obtains an access token
	Authenticate(ctx context.Context) (token string, expiresIn time.Duration, err error)

	// GetSecretValue retrieves a static secret by path. A nil version means
	// the latest.
	GetSecretValue(ctx context.Context, token, path string, version *int) ([]byte, error)

	// ListItems lists item names under path
	ListItems(ctx context.Context, token, path string) ([]string, error)
}

// AkeylessConfig holds configuration for the Akeyless backend
type AkeylessConfig struct {
	// AccessID is the Akeyless access ID (required)
	AccessID string `yaml:"access_id"`

	// GatewayURL is the custom gateway URL for enterprise deployments
	// Defaults to "https://api.akeyless.io"
	GatewayURL string `yaml:"gateway_url"`

	// Auth contains authentication configuration
	Auth AkeylessAuth `yaml:"auth"`

	// Timeout for API requests (default: 30s)
	Timeout time.Duration `yaml:"timeout"`
}

// AkeylessAuth defines authentication method for Akeyless
type AkeylessAuth struct {
	// Method is one of "api_key", "aws_iam", "azure_ad", "gcp"
	Method string `yaml:"method"`

	// AccessKey for API key auth
	AccessKey string `yaml:"access_key"`

	// AzureADObjectID for Azure AD auth
	AzureADObjectID string `yaml:"azure_ad_object_id"`

	// GCPAudience for GCP auth
	GCPAudience string `yaml:"gcp_audience"`
}

func (c *AkeylessConfig) applyDefaults() {
	if c.GatewayURL == "" {
		c.GatewayURL = DefaultAkeylessGateway
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultAkeylessTimeout
	}
	if c.Auth.Method == "" {
		c.Auth.Method = "api_key"
	}
}

// AkeylessOption configures an AkeylessFactory
type AkeylessOption func(*AkeylessFactory)

// WithAkeylessClient sets a custom Akeyless client (for testing)
func WithAkeylessClient(client AkeylessClientAPI) AkeylessOption {
	return func(f *AkeylessFactory) {
		f.client = client
	}
}

// AkeylessFactory builds Akeyless providers
type AkeylessFactory struct {
	logger *logging.Logger
	client AkeylessClientAPI
}

// NewAkeylessFactory creates the akeyless factory
func NewAkeylessFactory(logger *logging.Logger, opts ...AkeylessOption) *AkeylessFactory {
	f := &AkeylessFactory{logger: loggerOrDiscard(logger, KindAkeyless)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind returns "akeyless"
func (f *AkeylessFactory) Kind() string {
	return KindAkeyless
}

// Validate authenticates and lists the root folder
func (f *AkeylessFactory) Validate(ctx context.Context, config *secure.String) error {
	_, err := f.connect(ctx, config)
	return err
}

// Create makes the same checks as Validate and consumes the configuration.
// The token obtained is kept for the provider's first fetches.
func (f *AkeylessFactory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	p, err := f.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *AkeylessFactory) connect(ctx context.Context, config *secure.String) (*AkeylessProvider, error) {
	cfg, err := decodeAkeylessConfig(config)
	if err != nil {
		return nil, err
	}

	p := f.newProvider(cfg)
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	defer token.Destroy()

	err = token.Use(func(b []byte) error {
		_, err := p.client.ListItems(ctx, string(b), "/")
		return err
	})
	if err != nil {
		p.tokenCache.Clear()
		return nil, akeylessClientError(ctx, "list items", err)
	}
	return p, nil
}

func (f *AkeylessFactory) newProvider(cfg AkeylessConfig) *AkeylessProvider {
	client := f.client
	if client == nil {
		client = newAkeylessSDKClient(cfg)
	}
	return &AkeylessProvider{
		client:     client,
		logger:     f.logger,
		tokenCache: NewTokenCache(),
	}
}

func decodeAkeylessConfig(config *secure.String) (AkeylessConfig, error) {
	var cfg AkeylessConfig
	if err := akeylessSchema.Decode(config, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	if cfg.Auth.Method == "api_key" && cfg.Auth.AccessKey == "" {
		return cfg, provider.InvalidConfiguration("api_key auth requires auth.access_key")
	}
	return cfg, nil
}

// AkeylessProvider fetches static secrets from Akeyless
type AkeylessProvider struct {
	client     AkeylessClientAPI
	logger     *logging.Logger
	tokenCache *TokenCache

	// authMu serializes logins so concurrent callers share one token.
	authMu sync.Mutex
}

// GetSecret fetches the item at name, "/path/to/secret" or
// "/path/to/secret@vN". The version is set only when pinned.
func (p *AkeylessProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	ref, err := ParseAkeylessReference(name)
	if err != nil {
		return nil, provider.SecretNotFound(name)
	}

	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}
	defer token.Destroy()

	p.logger.Debug("fetching %s", ref.Path)
	var value []byte
	err = token.Use(func(b []byte) error {
		var err error
		value, err = p.client.GetSecretValue(ctx, string(b), ref.Path, ref.Version)
		return err
	})
	if err != nil {
		if isAkeylessNotFoundError(err) {
			return nil, provider.SecretNotFound(name)
		}
		if isAkeylessAuthError(err) {
			p.tokenCache.Clear()
		}
		return nil, akeylessClientError(ctx, "fetch", err)
	}

	var version string
	if ref.Version != nil {
		version = strconv.Itoa(*ref.Version)
	}
	return newSecret(value, version), nil
}

// token returns a copy of the cached token, authenticating when it has
// expired. The caller destroys it.
func (p *AkeylessProvider) token(ctx context.Context) (*secure.String, error) {
	if token, ok := p.tokenCache.Get(); ok {
		return token, nil
	}

	p.authMu.Lock()
	defer p.authMu.Unlock()
	if token, ok := p.tokenCache.Get(); ok {
		return token, nil
	}

	token, ttl, err := p.client.Authenticate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, clientError("authenticate", ctx.Err())
		}
		return nil, clientError("akeyless authentication failed", err)
	}
	p.tokenCache.Set(token, ttl)
	p.logger.Debug("authenticated, token valid for %s", ttl)
	return secure.NewString(token), nil
}

// AkeylessReference represents a parsed Akeyless secret reference
type AkeylessReference struct {
	Path    string // e.g., "/prod/database/password"
	Version *int   // nil for latest
}

// ParseAkeylessReference parses an Akeyless reference string
// Format: /path/to/secret[@vN]
func ParseAkeylessReference(key string) (*AkeylessReference, error) {
	ref := &AkeylessReference{}

	if idx := strings.LastIndex(key, "@v"); idx != -1 {
		version, err := strconv.Atoi(key[idx+2:])
		if err == nil && version > 0 {
			ref.Version = &version
			key = key[:idx]
		}
	}

	if !strings.HasPrefix(key, "/") {
		key = "/" + key
	}
	ref.Path = key

	if strings.Trim(ref.Path, "/") == "" {
		return nil, errors.New("akeyless reference path cannot be empty")
	}
	return ref, nil
}

// isAkeylessNotFoundError checks if an error indicates secret not found
func isAkeylessNotFoundError(err error) bool {
	if errors.Is(err, ErrAkeylessSecretNotFound) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "itemNotFound")
}

func isAkeylessAuthError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unauthorized") ||
		(strings.Contains(errStr, "token") && strings.Contains(errStr, "expired"))
}

func akeylessClientError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return clientError(op, ctx.Err())
	}
	return clientError(op, err)
}
