package providers

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

func TestMemoryScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	factory := NewMemoryFactory(nil)
	const cfg = "{backend: memory, secrets: {db_pw: 'x'}}"

	validateCfg := secure.NewString(cfg)
	defer validateCfg.Destroy()
	require.NoError(t, factory.Validate(ctx, validateCfg))

	p, err := factory.Create(ctx, secure.NewString(cfg))
	require.NoError(t, err)
	defer func() { _ = provider.Close(p) }()

	secret, err := p.GetSecret(ctx, "db_pw")
	require.NoError(t, err)
	defer secret.Destroy()
	assert.True(t, secret.Value.Equal("x"))
	assert.False(t, secret.HasVersion())

	_, err = p.GetSecret(ctx, "missing")
	assert.Equal(t, provider.SecretNotFound("missing"), err)
}

func TestMemoryFactoryContract(t *testing.T) {
	secrets := make(map[string]string, 100)
	var cfg strings.Builder
	cfg.WriteString("secrets:\n")
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("svc/secret-%03d", i)
		secrets[name] = fmt.Sprintf("value-%03d", i)
		fmt.Fprintf(&cfg, "  %q: %q\n", name, secrets[name])
	}

	provider.RunFactoryContractTests(t, provider.FactoryContract{
		Factory:     NewMemoryFactory(nil),
		ValidConfig: func(*testing.T) string { return cfg.String() },
		InvalidConfigs: map[string]string{
			"empty":           "",
			"not yaml":        "secrets: [unclosed",
			"scalar document": "just-a-string",
			"missing secrets": "backend: memory",
			"wrong backend":   "{backend: vault, secrets: {}}",
			"unknown field":   "{secrets: {}, extra: true}",
			"bad entry":       "{secrets: {a: [1, 2]}}",
			"entry no value":  "{secrets: {a: {version: '1'}}}",
		},
		Secrets: secrets,
	})
}

func TestMemoryProvider_Versions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, err := NewMemoryFactory(nil).Create(ctx, secure.NewString(`
secrets:
  plain: one
  versioned:
    value: two
    version: "7"
`))
	require.NoError(t, err)
	defer func() { _ = provider.Close(p) }()

	plain, err := p.GetSecret(ctx, "plain")
	require.NoError(t, err)
	defer plain.Destroy()
	assert.False(t, plain.HasVersion())

	versioned, err := p.GetSecret(ctx, "versioned")
	require.NoError(t, err)
	defer versioned.Destroy()
	assert.True(t, versioned.Value.Equal("two"))
	assert.Equal(t, "7", versioned.Version)
}

func TestMemoryProvider_FetchesAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, err := NewMemoryFactory(nil).Create(ctx, secure.NewString("{secrets: {k: value}}"))
	require.NoError(t, err)
	defer func() { _ = provider.Close(p) }()

	first, err := p.GetSecret(ctx, "k")
	require.NoError(t, err)
	first.Destroy()

	second, err := p.GetSecret(ctx, "k")
	require.NoError(t, err)
	defer second.Destroy()
	assert.True(t, second.Value.Equal("value"), "destroying one fetch must not affect the next")
}

func TestMemoryProvider_CancelledContext(t *testing.T) {
	t.Parallel()

	p, err := NewMemoryFactory(nil).Create(context.Background(), secure.NewString("{secrets: {k: v}}"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.GetSecret(ctx, "k")
	assert.True(t, provider.IsClientError(err))

	// The provider stays usable after a failed call.
	secret, err := p.GetSecret(context.Background(), "k")
	require.NoError(t, err)
	secret.Destroy()
}

func TestMemoryProvider_FetchAfterClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, err := NewMemoryFactory(nil).Create(ctx, secure.NewString("{secrets: {k: v}}"))
	require.NoError(t, err)
	require.NoError(t, provider.Close(p))

	secret, err := p.GetSecret(ctx, "k")
	assert.Nil(t, secret)
	assert.True(t, provider.IsClientError(err))
}

func TestMemoryFactory_ErrorsDoNotEchoConfig(t *testing.T) {
	t.Parallel()

	const sensitive = "hunter2-do-not-print"
	err := NewMemoryFactory(nil).Validate(context.Background(),
		secure.NewString("secrets: {a: "+sensitive+"}\nextra: "+sensitive))
	require.Error(t, err)
	assert.True(t, provider.IsInvalidConfiguration(err))
	assert.NotContains(t, err.Error(), sensitive)
}
