package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// FakeVaultProvider is an in-memory provider.VaultProvider with
// configurable failures and latency.
//
// Example usage:
//
//	fake := fakes.NewFakeVaultProvider().
//	    WithSecret("db/password", "secret123", "4").
//	    WithError("api/key", provider.ClientErrorf("connection failed"))
type FakeVaultProvider struct {
	mu        sync.RWMutex
	secrets   map[string]fakeSecret
	failOn    map[string]error
	delay     time.Duration
	callCount map[string]int
	closed    bool
}

type fakeSecret struct {
	value   string
	version string
}

// NewFakeVaultProvider creates an empty fake.
func NewFakeVaultProvider() *FakeVaultProvider {
	return &FakeVaultProvider{
		secrets:   make(map[string]fakeSecret),
		failOn:    make(map[string]error),
		callCount: make(map[string]int),
	}
}

// WithSecret stores a secret. An empty version means the backend has none.
func (f *FakeVaultProvider) WithSecret(name, value, version string) *FakeVaultProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[name] = fakeSecret{value: value, version: version}
	return f
}

// WithError makes GetSecret(name) fail with err.
func (f *FakeVaultProvider) WithError(name string, err error) *FakeVaultProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[name] = err
	return f
}

// WithDelay simulates backend latency. The delay honors context
// cancellation.
func (f *FakeVaultProvider) WithDelay(d time.Duration) *FakeVaultProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// GetSecret implements provider.VaultProvider.
func (f *FakeVaultProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	f.mu.Lock()
	f.callCount[name]++
	delay := f.delay
	failErr := f.failOn[name]
	secret, ok := f.secrets[name]
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, provider.ClientError{Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if failErr != nil {
		return nil, failErr
	}
	if !ok {
		return nil, provider.SecretNotFound(name)
	}
	return provider.NewProviderSecret(secure.NewString(secret.value), secret.version), nil
}

// Close implements io.Closer.
func (f *FakeVaultProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeVaultProvider) Closed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// CallCount returns how many times GetSecret(name) was called.
func (f *FakeVaultProvider) CallCount(name string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.callCount[name]
}
