package providers_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsvault/internal/providers"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

func TestRegistry_Kinds(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry(nil)
	assert.Equal(t, []string{
		"akeyless",
		"aws.secretsmanager",
		"aws.ssm",
		"azure.keyvault",
		"file",
		"gcp.secretmanager",
		"keychain",
		"memory",
		"redis",
		"sql",
		"vault",
	}, registry.Kinds())
}

func TestRegistry_IsSupported(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry(nil)

	tests := []struct {
		kind string
		want bool
	}{
		{"memory", true},
		{"vault", true},
		{"aws.ssm", true},
		{"aws", false},
		{"bitwarden", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, registry.IsSupported(tt.kind))
		})
	}
}

func TestRegistry_Factory(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry(nil)

	factory, err := registry.Factory("memory")
	require.NoError(t, err)
	assert.Equal(t, "memory", factory.Kind())

	_, err = registry.Factory("unknown-kind")
	require.Error(t, err)
	assert.True(t, provider.IsInvalidConfiguration(err))
}

func TestRegistry_CreateAndValidate(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry(nil)
	ctx := context.Background()

	config := secure.NewString("{backend: memory, secrets: {db_pw: x}}")
	require.NoError(t, registry.Validate(ctx, "memory", config))

	p, err := registry.Create(ctx, "memory", config)
	require.NoError(t, err)
	assert.True(t, config.IsDestroyed())

	secret, err := p.GetSecret(ctx, "db_pw")
	require.NoError(t, err)
	defer secret.Destroy()
	assert.True(t, secret.Value.Equal("x"))

	unknown := secure.NewString("{}")
	_, err = registry.Create(ctx, "nope", unknown)
	assert.True(t, provider.IsInvalidConfiguration(err))
	assert.True(t, unknown.IsDestroyed(), "configuration is consumed even for an unknown kind")
}

type countingFactory struct {
	provider.VaultProviderFactory
	mu      sync.Mutex
	creates int
}

func (f *countingFactory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	return f.VaultProviderFactory.Create(ctx, config)
}

func TestRegistry_Decorator(t *testing.T) {
	t.Parallel()

	var wrapped []*countingFactory
	registry := providers.NewRegistry(nil, providers.WithFactoryDecorator(func(f provider.VaultProviderFactory) provider.VaultProviderFactory {
		c := &countingFactory{VaultProviderFactory: f}
		wrapped = append(wrapped, c)
		return c
	}))
	assert.Len(t, wrapped, len(registry.Kinds()))

	_, err := registry.Create(context.Background(), "memory", secure.NewString("{secrets: {}}"))
	require.NoError(t, err)

	total := 0
	for _, c := range wrapped {
		total += c.creates
	}
	assert.Equal(t, 1, total)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	registry := providers.NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = registry.Kinds()
			_, _ = registry.Factory("vault")
		}()
		go func() {
			defer wg.Done()
			registry.Register(providers.NewMemoryFactory(nil))
		}()
	}
	wg.Wait()

	assert.True(t, registry.IsSupported("memory"))
}
