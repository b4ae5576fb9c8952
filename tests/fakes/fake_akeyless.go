package fakes

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FakeAkeylessClient is a test double for providers.AkeylessClientAPI.
// It is safe for concurrent use.
type FakeAkeylessClient struct {
	mu sync.RWMutex

	// Token is the token returned by Authenticate
	Token string

	// TokenTTL is the TTL returned by Authenticate
	TokenTTL time.Duration

	// Secrets maps path to versions, oldest first
	Secrets map[string][]string

	// AuthErr is returned by Authenticate if set
	AuthErr error

	// GetErr is returned by GetSecretValue if set (overrides Secrets lookup)
	GetErr error

	// ListErr is returned by ListItems if set
	ListErr error

	// AuthCalls counts Authenticate calls
	AuthCalls atomic.Int64

	// GetCalls counts GetSecretValue calls
	GetCalls atomic.Int64
}

// NewFakeAkeylessClient creates a new fake Akeyless client with defaults
func NewFakeAkeylessClient() *FakeAkeylessClient {
	return &FakeAkeylessClient{
		Token:    "t-fake-akeyless-token",
		TokenTTL: 30 * time.Minute,
		Secrets:  make(map[string][]string),
	}
}

// SetSecret appends a version of the secret at path
func (f *FakeAkeylessClient) SetSecret(path, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[path] = append(f.Secrets[path], value)
}

// SetAuthErr changes the Authenticate error
func (f *FakeAkeylessClient) SetAuthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AuthErr = err
}

// SetGetErr changes the GetSecretValue error
func (f *FakeAkeylessClient) SetGetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetErr = err
}

// Authenticate obtains an access token
func (f *FakeAkeylessClient) Authenticate(ctx context.Context) (string, time.Duration, error) {
	f.AuthCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.AuthErr != nil {
		return "", 0, f.AuthErr
	}
	return f.Token, f.TokenTTL, nil
}

// GetSecretValue returns a fresh copy of the requested version
func (f *FakeAkeylessClient) GetSecretValue(ctx context.Context, token, path string, version *int) ([]byte, error) {
	f.GetCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	if token != f.Token {
		return nil, ErrFakeAkeylessUnauthorized
	}

	versions, ok := f.Secrets[path]
	if !ok {
		return nil, ErrFakeAkeylessSecretNotFound
	}
	if version == nil {
		return []byte(versions[len(versions)-1]), nil
	}
	if *version < 1 || *version > len(versions) {
		return nil, ErrFakeAkeylessSecretNotFound
	}
	return []byte(versions[*version-1]), nil
}

// ListItems lists secrets under path
func (f *FakeAkeylessClient) ListItems(ctx context.Context, token, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if token != f.Token {
		return nil, ErrFakeAkeylessUnauthorized
	}

	paths := make([]string, 0, len(f.Secrets))
	for p := range f.Secrets {
		if strings.HasPrefix(p, path) {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// ErrFakeAkeylessSecretNotFound is returned when a secret doesn't exist
var ErrFakeAkeylessSecretNotFound = errors.New("itemNotFound: secret not found")

// ErrFakeAkeylessUnauthorized is returned for auth failures
var ErrFakeAkeylessUnauthorized = errors.New("401 Unauthorized")
