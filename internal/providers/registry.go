package providers

import (
	"context"
	"sort"
	"sync"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/internal/providers/vault"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// Registry maps backend kinds to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]provider.VaultProviderFactory
	decorate  func(provider.VaultProviderFactory) provider.VaultProviderFactory
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithFactoryDecorator wraps every registered factory, e.g. with metrics
func WithFactoryDecorator(decorate func(provider.VaultProviderFactory) provider.VaultProviderFactory) RegistryOption {
	return func(r *Registry) {
		r.decorate = decorate
	}
}

// NewRegistry creates a registry holding every built-in backend
func NewRegistry(logger *logging.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{factories: make(map[string]provider.VaultProviderFactory)}
	for _, opt := range opts {
		opt(r)
	}

	r.Register(NewMemoryFactory(logger))
	r.Register(NewFileFactory(logger))
	r.Register(NewSecretsManagerFactory(logger))
	r.Register(NewSSMFactory(logger))
	r.Register(NewGCPSecretManagerFactory(logger))
	r.Register(NewAzureKeyVaultFactory(logger))
	r.Register(vault.NewFactory(logger))
	r.Register(NewAkeylessFactory(logger))
	r.Register(NewKeychainFactory(logger))
	r.Register(NewSQLFactory(logger))
	r.Register(NewRedisFactory(logger))

	return r
}

// Register adds factory under its kind, replacing any previous one
func (r *Registry) Register(factory provider.VaultProviderFactory) {
	if r.decorate != nil {
		factory = r.decorate(factory)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factory.Kind()] = factory
}

// Factory returns the factory for kind
func (r *Registry) Factory(kind string) (provider.VaultProviderFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[kind]
	if !ok {
		return nil, provider.InvalidConfiguration("unknown vault kind %q", kind)
	}
	return factory, nil
}

// Validate runs the live check of kind's factory
func (r *Registry) Validate(ctx context.Context, kind string, config *secure.String) error {
	factory, err := r.Factory(kind)
	if err != nil {
		return err
	}
	return factory.Validate(ctx, config)
}

// Create builds a provider of kind. The configuration is consumed even when
// the kind is unknown.
func (r *Registry) Create(ctx context.Context, kind string, config *secure.String) (provider.VaultProvider, error) {
	factory, err := r.Factory(kind)
	if err != nil {
		config.Destroy()
		return nil, err
	}
	return factory.Create(ctx, config)
}

// Kinds returns the registered kinds, sorted
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// IsSupported checks if a kind is registered
func (r *Registry) IsSupported(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}
