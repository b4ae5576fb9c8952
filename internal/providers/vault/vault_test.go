package vault_test

import (
	"context"
	"encoding/pem"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsvault/internal/providers/vault"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
	"github.com/systmms/dsvault/tests/fakes"
)

const testToken = "hvs.test-root"

func tokenConfig(addr string, extra string) string {
	return fmt.Sprintf("{address: %q, token: %q, max_retries: 0%s}", addr, testToken, extra)
}

func create(t *testing.T, cfg string) provider.VaultProvider {
	t.Helper()
	p, err := vault.NewFactory(nil).Create(context.Background(), secure.NewString(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close(p) })
	return p
}

func TestFactoryContract(t *testing.T) {
	srv := fakes.NewFakeVaultServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddToken(testToken)

	secrets := make(map[string]string, 100)
	for i := 0; i < 100; i++ {
		path := fmt.Sprintf("app/secret-%03d", i)
		value := fmt.Sprintf("value-%03d", i)
		srv.PutSecret(path, map[string]interface{}{"value": value})
		secrets[path+"#value"] = value
	}

	closed := httptest.NewServer(nil)
	closedURL := closed.URL
	closed.Close()

	provider.RunFactoryContractTests(t, provider.FactoryContract{
		Factory:     vault.NewFactory(nil),
		ValidConfig: func(*testing.T) string { return tokenConfig(srv.URL, "") },
		InvalidConfigs: map[string]string{
			"kv version 3":         tokenConfig(srv.URL, ", kv_version: 3"),
			"unsupported auth":     tokenConfig(srv.URL, ", auth_method: aws"),
			"address without url":  "{address: 'vault:8200', token: abcdef}",
			"cert without key":     tokenConfig(srv.URL, ", client_cert: /tmp/c.pem"),
			"userpass sans user":   fmt.Sprintf("{address: %q, auth_method: userpass}", srv.URL),
			"kubernetes sans role": fmt.Sprintf("{address: %q, auth_method: kubernetes}", srv.URL),
			"negative retries":     tokenConfig(srv.URL, ", max_retries: -1"),
			"unknown field":        tokenConfig(srv.URL, ", engine: kv"),
		},
		UnreachableConfig: func(*testing.T) string { return tokenConfig(closedURL, "") },
		Secrets:           secrets,
	})
}

func TestProvider_GetSecret(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultServer("kv", 2)
	t.Cleanup(srv.Close)
	srv.AddToken(testToken)
	srv.PutSecret("db", map[string]interface{}{"user": "app", "password": "old"})
	srv.PutSecret("db", map[string]interface{}{"user": "app", "password": "pw", "port": float64(5432), "tls": true})
	srv.PutSecret("gone", map[string]interface{}{"k": "v"})
	srv.DeleteSecret("gone")

	p := create(t, tokenConfig(srv.URL, ", mount: kv"))
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		want    string
		version string
		check   func(t *testing.T, err error)
	}{
		{name: "field", key: "db#password", want: "pw", version: "2"},
		{name: "number field", key: "db#port", want: "5432", version: "2"},
		{name: "bool field", key: "db#tls", want: "true", version: "2"},
		{name: "leading slash", key: "/db#user", want: "app", version: "2"},
		{
			name:  "missing field",
			key:   "db#nope",
			check: func(t *testing.T, err error) { assert.Equal(t, provider.SecretNotFound("db#nope"), err) },
		},
		{
			name:  "missing path",
			key:   "nothing/here",
			check: func(t *testing.T, err error) { assert.True(t, provider.IsSecretNotFound(err)) },
		},
		{
			name:  "deleted version",
			key:   "gone#k",
			check: func(t *testing.T, err error) { assert.True(t, provider.IsSecretNotFound(err)) },
		},
		{
			name:  "field only",
			key:   "#password",
			check: func(t *testing.T, err error) { assert.True(t, provider.IsSecretNotFound(err)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			secret, err := p.GetSecret(ctx, tt.key)
			if tt.check != nil {
				require.Error(t, err)
				tt.check(t, err)
				return
			}
			require.NoError(t, err)
			defer secret.Destroy()
			assert.True(t, secret.Value.Equal(tt.want))
			assert.Equal(t, tt.version, secret.Version)
		})
	}
}

func TestProvider_WholeEntry(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddToken(testToken)
	srv.PutSecret("svc", map[string]interface{}{"a": "1", "b": "2"})

	secret, err := create(t, tokenConfig(srv.URL, "")).GetSecret(context.Background(), "svc")
	require.NoError(t, err)
	defer secret.Destroy()

	err = secret.Value.Use(func(b []byte) error {
		assert.JSONEq(t, `{"a": "1", "b": "2"}`, string(b))
		return nil
	})
	require.NoError(t, err)
}

func TestProvider_KVVersion1(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultServer("legacy", 1)
	t.Cleanup(srv.Close)
	srv.AddToken(testToken)
	srv.PutSecret("api", map[string]interface{}{"key": "k1"})

	p := create(t, tokenConfig(srv.URL, ", mount: legacy, kv_version: 1"))

	secret, err := p.GetSecret(context.Background(), "api#key")
	require.NoError(t, err)
	defer secret.Destroy()
	assert.True(t, secret.Value.Equal("k1"))
	assert.False(t, secret.HasVersion())
}

func TestProvider_Namespace(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddToken(testToken)
	srv.PutSecret("x", map[string]interface{}{"v": "1"})

	secret, err := create(t, tokenConfig(srv.URL, ", namespace: team-a")).GetSecret(context.Background(), "x#v")
	require.NoError(t, err)
	secret.Destroy()
	assert.Equal(t, "team-a", srv.Namespace.Load())
}

func TestProvider_UserpassRelogin(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddUser("userpass", "deploy", "hunter2")
	srv.PutSecret("x", map[string]interface{}{"v": "1"})

	p := create(t, fmt.Sprintf("{address: %q, auth_method: userpass, username: deploy, password: hunter2, max_retries: 0}", srv.URL))
	ctx := context.Background()

	secret, err := p.GetSecret(ctx, "x#v")
	require.NoError(t, err)
	secret.Destroy()
	assert.Equal(t, int64(1), srv.Logins.Load())

	srv.RevokeTokens()

	secret, err = p.GetSecret(ctx, "x#v")
	require.NoError(t, err)
	secret.Destroy()
	assert.Equal(t, int64(2), srv.Logins.Load())
}

func TestProvider_ConcurrentFetchesShareLogin(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddUser("ldap", "alice", "pw")
	for i := 0; i < 20; i++ {
		srv.PutSecret(fmt.Sprintf("s%d", i), map[string]interface{}{"v": fmt.Sprint(i)})
	}

	p := create(t, fmt.Sprintf("{address: %q, auth_method: ldap, username: alice, password: pw}", srv.URL))
	names := make([]string, 20)
	for i := range names {
		names[i] = fmt.Sprintf("s%d#v", i)
	}

	results, err := provider.FetchAll(context.Background(), p, names, len(names))
	require.NoError(t, err)
	defer provider.DestroyAll(results)

	assert.Len(t, results, 20)
	assert.Equal(t, int64(1), srv.Logins.Load(), "concurrent callers share one login")
}

func TestProvider_ConcurrentRejectionsShareRelogin(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddUser("userpass", "deploy", "hunter2")
	names := make([]string, 30)
	for i := range names {
		srv.PutSecret(fmt.Sprintf("s%d", i), map[string]interface{}{"v": fmt.Sprint(i)})
		names[i] = fmt.Sprintf("s%d#v", i)
	}

	p := create(t, fmt.Sprintf("{address: %q, auth_method: userpass, username: deploy, password: hunter2, max_retries: 0}", srv.URL))
	require.Equal(t, int64(1), srv.Logins.Load())

	srv.RevokeTokens()

	results, err := provider.FetchAll(context.Background(), p, names, len(names))
	require.NoError(t, err)
	defer provider.DestroyAll(results)

	assert.Len(t, results, len(names))
	assert.Equal(t, int64(2), srv.Logins.Load(), "rejected callers share one new login")
}

func TestFactory_KubernetesAuth(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddKubernetesRole("web", "eyJhbGciOi.fake.jwt")

	jwtPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(jwtPath, []byte("eyJhbGciOi.fake.jwt\n"), 0o600))

	cfg := secure.NewString(fmt.Sprintf("{address: %q, auth_method: kubernetes, role: web, jwt_path: %q}", srv.URL, jwtPath))
	defer cfg.Destroy()

	require.NoError(t, vault.NewFactory(nil).Validate(context.Background(), cfg))
	assert.Equal(t, int64(1), srv.Logins.Load())
}

func TestFactory_ValidateRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddUser("userpass", "deploy", "right")

	tests := map[string]string{
		"unknown token":  tokenConfig(srv.URL, ""),
		"wrong password": fmt.Sprintf("{address: %q, auth_method: userpass, username: deploy, password: wrong, max_retries: 0}", srv.URL),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := secure.NewString(raw)
			defer cfg.Destroy()

			err := vault.NewFactory(nil).Validate(context.Background(), cfg)
			require.Error(t, err)
			assert.True(t, provider.IsClientError(err))
			assert.NotContains(t, err.Error(), "wrong")

			p, err := vault.NewFactory(nil).Create(context.Background(), secure.NewString(raw))
			assert.Nil(t, p)
			assert.True(t, provider.IsClientError(err))
		})
	}
}

func TestFactory_TLS(t *testing.T) {
	t.Parallel()

	srv := fakes.NewFakeVaultTLSServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddToken(testToken)

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caPath, caPEM, 0o600))

	t.Run("untrusted", func(t *testing.T) {
		cfg := secure.NewString(tokenConfig(srv.URL, ""))
		defer cfg.Destroy()
		assert.True(t, provider.IsClientError(vault.NewFactory(nil).Validate(context.Background(), cfg)))
	})

	t.Run("ca_cert", func(t *testing.T) {
		cfg := secure.NewString(tokenConfig(srv.URL, fmt.Sprintf(", ca_cert: %q", caPath)))
		defer cfg.Destroy()
		assert.NoError(t, vault.NewFactory(nil).Validate(context.Background(), cfg))
	})

	t.Run("tls_skip", func(t *testing.T) {
		cfg := secure.NewString(tokenConfig(srv.URL, ", tls_skip: true"))
		defer cfg.Destroy()
		assert.NoError(t, vault.NewFactory(nil).Validate(context.Background(), cfg))
	})

	t.Run("unreadable ca_cert", func(t *testing.T) {
		cfg := secure.NewString(tokenConfig(srv.URL, ", ca_cert: /nonexistent/ca.pem"))
		defer cfg.Destroy()
		assert.True(t, provider.IsInvalidConfiguration(vault.NewFactory(nil).Validate(context.Background(), cfg)))
	})
}

func TestFactory_EnvironmentFallback(t *testing.T) {
	srv := fakes.NewFakeVaultServer("secret", 2)
	t.Cleanup(srv.Close)
	srv.AddToken(testToken)
	srv.PutSecret("x", map[string]interface{}{"v": "from-env"})

	t.Setenv("VAULT_ADDR", srv.URL)
	t.Setenv("VAULT_TOKEN", testToken)

	secret, err := create(t, "{}").GetSecret(context.Background(), "x#v")
	require.NoError(t, err)
	defer secret.Destroy()
	assert.True(t, secret.Value.Equal("from-env"))
}

func TestFactory_AddressRequired(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "")

	cfg := secure.NewString("{token: abcdef}")
	defer cfg.Destroy()

	err := vault.NewFactory(nil).Validate(context.Background(), cfg)
	assert.True(t, provider.IsInvalidConfiguration(err))
}
