package providers

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindKeychain is the OS keychain backend kind.
const KindKeychain = "keychain"

// keychainProbeAccount is looked up by Validate. A missing item proves the
// keychain answered.
const keychainProbeAccount = "dsvault-connectivity-probe"

var keychainSchema = mustLoadSchema(KindKeychain, "keychain.json")

// KeychainClientAPI abstracts OS keychain reads. The default implementation
// is zalando/go-keyring: macOS Keychain, Linux Secret Service, Windows
// Credential Manager.
type KeychainClientAPI interface {
	Get(service, account string) (string, error)
}

type keyringClient struct{}

func (keyringClient) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

// KeychainConfig holds configuration for the keychain backend
type KeychainConfig struct {
	// Service is used for names that carry only an account
	Service string `yaml:"service"`

	// ServicePrefix is joined to every service as "prefix.service"
	ServicePrefix string `yaml:"service_prefix"`
}

// KeychainOption configures a KeychainFactory
type KeychainOption func(*KeychainFactory)

// WithKeychainClient sets a custom keychain client (for testing)
func WithKeychainClient(client KeychainClientAPI) KeychainOption {
	return func(f *KeychainFactory) {
		f.client = client
	}
}

// KeychainFactory builds OS keychain providers
type KeychainFactory struct {
	logger *logging.Logger
	client KeychainClientAPI
}

// NewKeychainFactory creates the keychain factory
func NewKeychainFactory(logger *logging.Logger, opts ...KeychainOption) *KeychainFactory {
	f := &KeychainFactory{
		logger: loggerOrDiscard(logger, KindKeychain),
		client: keyringClient{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind returns "keychain"
func (f *KeychainFactory) Kind() string {
	return KindKeychain
}

// Validate checks the configuration and probes the keychain
func (f *KeychainFactory) Validate(ctx context.Context, config *secure.String) error {
	_, err := f.open(ctx, config)
	return err
}

// Create makes the same checks as Validate and consumes the configuration
func (f *KeychainFactory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	p, err := f.open(ctx, config)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *KeychainFactory) open(ctx context.Context, config *secure.String) (*KeychainProvider, error) {
	var cfg KeychainConfig
	if err := keychainSchema.Decode(config, &cfg); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, clientError("keychain probe", err)
	}

	p := f.newProvider(cfg)
	service := p.service("")
	if service == "" {
		service = "dsvault"
	}

	_, err := f.client.Get(service, keychainProbeAccount)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return p, nil
	}
	if isKeychainHeadless() {
		return nil, clientError("keychain unavailable (headless session, consider another backend for CI)", err)
	}
	return nil, clientError("keychain unavailable on "+runtime.GOOS, err)
}

func (f *KeychainFactory) newProvider(cfg KeychainConfig) *KeychainProvider {
	return &KeychainProvider{
		client:         f.client,
		logger:         f.logger,
		defaultService: cfg.Service,
		servicePrefix:  cfg.ServicePrefix,
	}
}

// KeychainProvider reads generic passwords from the OS keychain
type KeychainProvider struct {
	client         KeychainClientAPI
	logger         *logging.Logger
	defaultService string
	servicePrefix  string
}

// GetSecret fetches "service/account", or "account" under the configured
// service. Keychain items are not versioned.
func (p *KeychainProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	ref, err := ParseKeychainReference(name, p.defaultService)
	if err != nil {
		return nil, provider.SecretNotFound(name)
	}
	if err := ctx.Err(); err != nil {
		return nil, clientError("keychain query", err)
	}

	service := p.service(ref.Service)
	p.logger.Debug("querying %s/%s", service, ref.Account)

	value, err := p.client.Get(service, ref.Account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, provider.SecretNotFound(name)
		}
		if isKeychainAccessDenied(err) {
			return nil, clientError("keychain access denied", err)
		}
		return nil, clientError("keychain query", err)
	}
	return newSecret([]byte(value), ""), nil
}

// service combines the configured prefix with the service name
func (p *KeychainProvider) service(service string) string {
	if service == "" {
		service = p.defaultService
	}
	if p.servicePrefix == "" || strings.HasPrefix(service, p.servicePrefix) {
		return service
	}
	if service == "" {
		return p.servicePrefix
	}
	return p.servicePrefix + "." + service
}

// KeychainReference represents a parsed keychain secret reference
type KeychainReference struct {
	Service string
	Account string
}

// ParseKeychainReference parses "service/account". A bare account uses
// defaultService, and is rejected when there is none.
func ParseKeychainReference(key, defaultService string) (*KeychainReference, error) {
	service, account, found := strings.Cut(key, "/")
	if !found {
		service, account = defaultService, key
	}

	service = strings.TrimSpace(service)
	account = strings.TrimSpace(account)

	if service == "" {
		return nil, errors.New("keychain reference service cannot be empty")
	}
	if account == "" {
		return nil, errors.New("keychain reference account cannot be empty")
	}
	return &KeychainReference{Service: service, Account: account}, nil
}

// isKeychainAccessDenied checks if an error indicates the user or OS
// refused access
func isKeychainAccessDenied(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "access denied") ||
		strings.Contains(errStr, "user denied") ||
		strings.Contains(errStr, "canceled")
}

// isKeychainHeadless reports an SSH, CI or display-less session where an
// unlock prompt cannot appear
func isKeychainHeadless() bool {
	if os.Getenv("SSH_TTY") != "" || os.Getenv("CI") != "" {
		return true
	}
	return runtime.GOOS == "linux" && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == ""
}
