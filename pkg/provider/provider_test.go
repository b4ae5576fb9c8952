package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsvault/pkg/secure"
)

// lineFactory parses "name=value" lines. A first line of "offline" makes the
// backend unreachable.
type lineFactory struct{}

func (lineFactory) Kind() string { return "lines" }

func (lineFactory) parse(config *secure.String) (map[string]string, bool, error) {
	secrets := map[string]string{}
	offline := false
	err := config.Use(func(b []byte) error {
		for i, line := range strings.Split(string(b), "\n") {
			if line == "" {
				continue
			}
			if i == 0 && line == "offline" {
				offline = true
				continue
			}
			name, value, ok := strings.Cut(line, "=")
			if !ok {
				return InvalidConfiguration("line %d is not name=value", i+1)
			}
			secrets[name] = value
		}
		return nil
	})
	return secrets, offline, err
}

func (f lineFactory) Validate(_ context.Context, config *secure.String) error {
	_, offline, err := f.parse(config)
	if err != nil {
		return err
	}
	if offline {
		return NewClientError(errors.New("dial tcp: connection refused"))
	}
	return nil
}

func (f lineFactory) Create(_ context.Context, config *secure.String) (VaultProvider, error) {
	defer config.Destroy()
	secrets, offline, err := f.parse(config)
	if err != nil {
		return nil, err
	}
	if offline {
		return nil, NewClientError(errors.New("dial tcp: connection refused"))
	}
	return &mapProvider{secrets: secrets}, nil
}

type mapProvider struct {
	secrets map[string]string
	calls   atomic.Int64
	fail    string
	closed  bool
}

func (p *mapProvider) GetSecret(ctx context.Context, name string) (*ProviderSecret, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, NewClientError(err)
	}
	if name != "" && name == p.fail {
		return nil, NewClientError(errors.New("backend unavailable"))
	}
	value, ok := p.secrets[name]
	if !ok {
		return nil, SecretNotFound(name)
	}
	return NewProviderSecret(secure.NewString(value), "v1"), nil
}

func (p *mapProvider) Close() error {
	p.closed = true
	return nil
}

func TestLineFactoryContract(t *testing.T) {
	secrets := make(map[string]string, 100)
	var config strings.Builder
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("secret-%03d", i)
		secrets[name] = fmt.Sprintf("value-%03d", i)
		fmt.Fprintf(&config, "%s=%s\n", name, secrets[name])
	}

	RunFactoryContractTests(t, FactoryContract{
		Factory:     lineFactory{},
		ValidConfig: func(*testing.T) string { return config.String() },
		InvalidConfigs: map[string]string{
			"missing separator": "just-a-name",
		},
		UnreachableConfig: func(*testing.T) string { return "offline\na=b" },
		Secrets:           secrets,
	})
}

func TestProviderSecret(t *testing.T) {
	t.Parallel()

	t.Run("version present", func(t *testing.T) {
		t.Parallel()

		s := NewProviderSecret(secure.NewString("x"), "7")
		defer s.Destroy()

		assert.True(t, s.HasVersion())
		assert.Equal(t, "ProviderSecret{Value: [REDACTED], Version: 7}", s.String())
	})

	t.Run("version absent", func(t *testing.T) {
		t.Parallel()

		s := NewProviderSecret(secure.NewString("x"), "")
		defer s.Destroy()

		assert.False(t, s.HasVersion())
		assert.Equal(t, "ProviderSecret{Value: [REDACTED]}", fmt.Sprint(s))
	})

	t.Run("destroy zeroizes value", func(t *testing.T) {
		t.Parallel()

		s := NewProviderSecret(secure.NewString("plaintext"), "")
		s.Destroy()
		s.Destroy()

		assert.True(t, s.Value.IsDestroyed())
		assert.Nil(t, s.Value.Bytes())
	})

	t.Run("nil secret", func(t *testing.T) {
		t.Parallel()

		var s *ProviderSecret
		assert.False(t, s.HasVersion())
		s.Destroy()
	})
}

func TestClose(t *testing.T) {
	t.Parallel()

	p := &mapProvider{}
	require.NoError(t, Close(p))
	assert.True(t, p.closed)

	type plain struct{ VaultProvider }
	assert.NoError(t, Close(plain{}))
}

func TestFetchAll(t *testing.T) {
	t.Parallel()

	secrets := map[string]string{"a": "1", "b": "2", "c": "3"}

	t.Run("fetches each name once", func(t *testing.T) {
		t.Parallel()

		p := &mapProvider{secrets: secrets}
		got, err := FetchAll(context.Background(), p, []string{"a", "b", "c", "a"}, 2)
		require.NoError(t, err)
		defer DestroyAll(got)

		require.Len(t, got, 3)
		for name, want := range secrets {
			assert.True(t, got[name].Value.Equal(want), name)
		}
		assert.Equal(t, int64(3), p.calls.Load())
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()

		got, err := FetchAll(context.Background(), &mapProvider{}, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("not found aborts", func(t *testing.T) {
		t.Parallel()

		p := &mapProvider{secrets: secrets}
		got, err := FetchAll(context.Background(), p, []string{"a", "missing"}, 1)
		assert.Nil(t, got)
		assert.True(t, IsSecretNotFound(err))
	})

	t.Run("client error aborts", func(t *testing.T) {
		t.Parallel()

		p := &mapProvider{secrets: secrets, fail: "b"}
		_, err := FetchAll(context.Background(), p, []string{"a", "b", "c"}, 3)
		assert.True(t, IsClientError(err))
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := FetchAll(ctx, &mapProvider{secrets: secrets}, []string{"a"}, 1)
		assert.True(t, IsClientError(err))
		assert.True(t, IsTimeout(err))
	})
}

// trackingProvider records every secret it hands out.
type trackingProvider struct {
	mu     sync.Mutex
	issued []*ProviderSecret
}

func (p *trackingProvider) GetSecret(_ context.Context, name string) (*ProviderSecret, error) {
	if name == "bad" {
		return nil, NewClientError(errors.New("boom"))
	}
	s := NewProviderSecret(secure.NewString(name), "")
	p.mu.Lock()
	p.issued = append(p.issued, s)
	p.mu.Unlock()
	return s, nil
}

func TestFetchAll_DestroysFetchedOnError(t *testing.T) {
	t.Parallel()

	p := &trackingProvider{}
	_, err := FetchAll(context.Background(), p, []string{"one", "two", "bad"}, 1)
	require.Error(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.issued {
		assert.True(t, s.Value.IsDestroyed(), "fetched secret left alive after failure")
	}
}

func TestFetchAll_ConcurrentDistinctNames(t *testing.T) {
	t.Parallel()

	secrets := make(map[string]string, 100)
	names := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("n%d", i)
		secrets[name] = fmt.Sprintf("v%d", i)
		names = append(names, name)
	}

	got, err := FetchAll(context.Background(), &mapProvider{secrets: secrets}, names, 16)
	require.NoError(t, err)
	defer DestroyAll(got)

	require.Len(t, got, 100)
	for name, want := range secrets {
		assert.True(t, got[name].Value.Equal(want), "cross-talk for %s", name)
	}
}
