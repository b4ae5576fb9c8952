package provider

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/systmms/dsvault/pkg/secure"
)

// FactoryContract describes a factory under test and the fixtures needed to
// exercise it against the standard contract suite.
type FactoryContract struct {
	// Factory is the factory under test.
	Factory VaultProviderFactory

	// ValidConfig returns a configuration for a reachable backend that holds
	// every entry of Secrets.
	ValidConfig func(t *testing.T) string

	// InvalidConfigs maps a case name to a structurally invalid configuration.
	InvalidConfigs map[string]string

	// UnreachableConfig returns a well-formed configuration whose backend
	// cannot be reached. Nil skips the reachability checks.
	UnreachableConfig func(t *testing.T) string

	// Secrets maps secret names to the values the backend returns for them.
	Secrets map[string]string

	// Concurrency is the number of concurrent fetches issued. Defaults to 100.
	Concurrency int
}

// RunFactoryContractTests runs the standard factory and provider contract
// suite against contract.
func RunFactoryContractTests(t *testing.T, contract FactoryContract) {
	t.Run("Contract", func(t *testing.T) {
		t.Run("Kind", func(t *testing.T) {
			testFactoryKind(t, contract)
		})

		t.Run("InvalidConfiguration", func(t *testing.T) {
			testInvalidConfiguration(t, contract)
		})

		if contract.UnreachableConfig != nil {
			t.Run("Unreachable", func(t *testing.T) {
				testUnreachable(t, contract)
			})
		}

		t.Run("ValidateSucceeds", func(t *testing.T) {
			testValidateSucceeds(t, contract)
		})

		t.Run("CreateConsumesConfig", func(t *testing.T) {
			testCreateConsumesConfig(t, contract)
		})

		t.Run("GetSecret", func(t *testing.T) {
			testGetSecret(t, contract)
		})

		t.Run("SecretNotFound", func(t *testing.T) {
			testSecretNotFound(t, contract)
		})

		t.Run("Idempotent", func(t *testing.T) {
			testIdempotent(t, contract)
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, contract)
		})
	})
}

func contractProvider(t *testing.T, contract FactoryContract) VaultProvider {
	t.Helper()

	p, err := contract.Factory.Create(context.Background(), secure.NewString(contract.ValidConfig(t)))
	if err != nil {
		t.Fatalf("Create() with valid configuration failed: %v", err)
	}
	t.Cleanup(func() {
		if err := Close(p); err != nil {
			t.Logf("Close() failed: %v", err)
		}
	})
	return p
}

func testFactoryKind(t *testing.T, contract FactoryContract) {
	kind := contract.Factory.Kind()
	if kind == "" {
		t.Error("Factory.Kind() returned empty string")
	}
	if kind != contract.Factory.Kind() {
		t.Error("Factory.Kind() not consistent between calls")
	}
}

func testInvalidConfiguration(t *testing.T, contract FactoryContract) {
	if len(contract.InvalidConfigs) == 0 {
		t.Skip("no invalid configurations provided")
	}

	ctx := context.Background()
	for name, cfg := range contract.InvalidConfigs {
		t.Run(name, func(t *testing.T) {
			err := contract.Factory.Validate(ctx, secure.NewString(cfg))
			if !IsInvalidConfiguration(err) {
				t.Errorf("Validate() = %v, want InvalidConfigurationError", err)
			}

			config := secure.NewString(cfg)
			p, err := contract.Factory.Create(ctx, config)
			if !IsInvalidConfiguration(err) {
				t.Errorf("Create() = %v, want InvalidConfigurationError", err)
			}
			if p != nil {
				t.Error("Create() returned a provider alongside an error")
			}
			if !config.IsDestroyed() {
				t.Error("Create() did not destroy the configuration on failure")
			}
			if err != nil && cfg != "" && containsText(err.Error(), cfg) {
				t.Error("error text echoes the configuration")
			}
		})
	}
}

func testUnreachable(t *testing.T, contract FactoryContract) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := contract.Factory.Validate(ctx, secure.NewString(contract.UnreachableConfig(t)))
	if err == nil {
		t.Fatal("Validate() succeeded against an unreachable backend")
	}
	if IsInvalidConfiguration(err) {
		t.Errorf("Validate() = %v, want ClientError for a well-formed configuration", err)
	}
	if !IsClientError(err) {
		t.Errorf("Validate() = %v, want ClientError", err)
	}

	config := secure.NewString(contract.UnreachableConfig(t))
	p, err := contract.Factory.Create(ctx, config)
	if err == nil {
		_ = Close(p)
		t.Fatal("Create() succeeded against an unreachable backend")
	}
	if p != nil {
		t.Error("Create() returned a provider alongside an error")
	}
	if !IsClientError(err) {
		t.Errorf("Create() = %v, want ClientError", err)
	}
	if !config.IsDestroyed() {
		t.Error("Create() did not destroy the configuration on failure")
	}
}

func testValidateSucceeds(t *testing.T, contract FactoryContract) {
	config := secure.NewString(contract.ValidConfig(t))
	defer config.Destroy()

	if err := contract.Factory.Validate(context.Background(), config); err != nil {
		t.Fatalf("Validate() with valid configuration failed: %v", err)
	}
	if config.IsDestroyed() {
		t.Error("Validate() must not consume the configuration")
	}
}

func testCreateConsumesConfig(t *testing.T, contract FactoryContract) {
	config := secure.NewString(contract.ValidConfig(t))

	p, err := contract.Factory.Create(context.Background(), config)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	defer func() { _ = Close(p) }()

	if !config.IsDestroyed() {
		t.Error("Create() did not destroy the configuration")
	}
}

func testGetSecret(t *testing.T, contract FactoryContract) {
	if len(contract.Secrets) == 0 {
		t.Skip("no secrets provided")
	}

	p := contractProvider(t, contract)
	for name, want := range contract.Secrets {
		secret, err := p.GetSecret(context.Background(), name)
		if err != nil {
			t.Fatalf("GetSecret(%q) failed: %v", name, err)
		}
		if !secret.Value.Equal(want) {
			t.Errorf("GetSecret(%q) returned the wrong value", name)
		}
		secret.Destroy()
	}
}

func testSecretNotFound(t *testing.T, contract FactoryContract) {
	p := contractProvider(t, contract)
	ctx := context.Background()

	name := "this-secret-definitely-does-not-exist-" + time.Now().Format("20060102150405")
	secret, err := p.GetSecret(ctx, name)
	if err == nil {
		secret.Destroy()
		t.Fatal("GetSecret() should fail for a missing name")
	}
	if !IsSecretNotFound(err) {
		t.Errorf("GetSecret() = %v, want SecretNotFoundError", err)
	}

	if _, err := p.GetSecret(ctx, ""); !IsSecretNotFound(err) {
		t.Errorf("GetSecret(\"\") = %v, want SecretNotFoundError", err)
	}
}

func testIdempotent(t *testing.T, contract FactoryContract) {
	if len(contract.Secrets) == 0 {
		t.Skip("no secrets provided")
	}

	p := contractProvider(t, contract)
	name := sortedNames(contract.Secrets)[0]

	first, err := p.GetSecret(context.Background(), name)
	if err != nil {
		t.Fatalf("first GetSecret() failed: %v", err)
	}
	defer first.Destroy()

	second, err := p.GetSecret(context.Background(), name)
	if err != nil {
		t.Fatalf("second GetSecret() failed: %v", err)
	}
	defer second.Destroy()

	if !first.Value.Equal(contract.Secrets[name]) || !second.Value.Equal(contract.Secrets[name]) {
		t.Error("repeated GetSecret() calls returned different values")
	}
	if first.Version != second.Version {
		t.Errorf("repeated GetSecret() versions differ: %q != %q", first.Version, second.Version)
	}
}

func testConcurrent(t *testing.T, contract FactoryContract) {
	if len(contract.Secrets) == 0 {
		t.Skip("no secrets provided")
	}

	n := contract.Concurrency
	if n <= 0 {
		n = 100
	}

	p := contractProvider(t, contract)
	names := sortedNames(contract.Secrets)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	mismatches := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := names[i%len(names)]
			secret, err := p.GetSecret(context.Background(), name)
			if err != nil {
				errs <- err
				return
			}
			defer secret.Destroy()
			if !secret.Value.Equal(contract.Secrets[name]) {
				mismatches <- name
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	close(mismatches)

	for err := range errs {
		t.Errorf("concurrent GetSecret() failed: %v", err)
	}
	for name := range mismatches {
		t.Errorf("concurrent GetSecret(%q) returned another secret's value", name)
	}
}

func sortedNames(secrets map[string]string) []string {
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func containsText(haystack, needle string) bool {
	return len(needle) > 3 && strings.Contains(haystack, needle)
}
