package fakes

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// FakeAzureKeyVaultClient is an in-memory implementation of the Key Vault
// operations used by the azure.keyvault backend
type FakeAzureKeyVaultClient struct {
	mu sync.RWMutex
	// VaultURL prefixes the secret ids the fake returns
	VaultURL string
	// Secrets maps secret names to their data
	Secrets map[string]*AzureSecretData
	// Errors maps secret names to errors to return
	Errors map[string]error
	// GetSecretFunc allows custom behavior for GetSecret
	GetSecretFunc func(ctx context.Context, name string, version string) (azsecrets.GetSecretResponse, error)
}

// AzureSecretData holds every version of a fake secret
type AzureSecretData struct {
	// Current is the version returned when none is requested
	Current  string
	Versions map[string]string
}

// NewFakeAzureKeyVaultClient creates a new fake Key Vault client
func NewFakeAzureKeyVaultClient() *FakeAzureKeyVaultClient {
	return &FakeAzureKeyVaultClient{
		VaultURL: "https://test-vault.vault.azure.net",
		Secrets:  make(map[string]*AzureSecretData),
		Errors:   make(map[string]error),
	}
}

// AddSecretWithVersion adds a version and makes it current
func (f *FakeAzureKeyVaultClient) AddSecretWithVersion(name, value, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.Secrets[name]
	if !ok {
		data = &AzureSecretData{Versions: make(map[string]string)}
		f.Secrets[name] = data
	}
	data.Versions[version] = value
	data.Current = version
}

// AddSecretString adds a secret with a generated version id
func (f *FakeAzureKeyVaultClient) AddSecretString(name, value string) {
	f.AddSecretWithVersion(name, value, fmt.Sprintf("%032x", len(name)+len(value)))
}

// AddError configures the fake to return an error for a specific secret
func (f *FakeAzureKeyVaultClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// GetSecret fakes the GetSecret operation
func (f *FakeAzureKeyVaultClient) GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	if f.GetSecretFunc != nil {
		return f.GetSecretFunc(ctx, name, version)
	}
	if err := ctx.Err(); err != nil {
		return azsecrets.GetSecretResponse{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if err, exists := f.Errors[name]; exists {
		return azsecrets.GetSecretResponse{}, err
	}

	data, exists := f.Secrets[name]
	if !exists {
		return azsecrets.GetSecretResponse{}, AzureNotFoundError(name)
	}
	if version == "" {
		version = data.Current
	}
	value, exists := data.Versions[version]
	if !exists {
		return azsecrets.GetSecretResponse{}, AzureNotFoundError(name)
	}

	id := azsecrets.ID(fmt.Sprintf("%s/secrets/%s/%s", f.VaultURL, name, version))
	return azsecrets.GetSecretResponse{
		Secret: azsecrets.Secret{
			ID:    &id,
			Value: to.Ptr(value),
			Attributes: &azsecrets.SecretAttributes{
				Enabled: to.Ptr(true),
			},
		},
	}, nil
}

// AzureNotFoundError creates a fake Azure not found error
func AzureNotFoundError(secretName string) error {
	return &azcore.ResponseError{
		StatusCode: http.StatusNotFound,
		ErrorCode:  "SecretNotFound",
	}
}

// AzureForbiddenError creates a fake Azure forbidden error
func AzureForbiddenError() error {
	return &azcore.ResponseError{
		StatusCode: http.StatusForbidden,
		ErrorCode:  "Forbidden",
	}
}

// AzureThrottledError creates a fake Azure throttled error
func AzureThrottledError() error {
	return &azcore.ResponseError{
		StatusCode: http.StatusTooManyRequests,
		ErrorCode:  "TooManyRequests",
	}
}
