package providers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindAzureKeyVault is the Azure Key Vault backend kind.
const KindAzureKeyVault = "azure.keyvault"

// azureProbeSecret is fetched before a provider is handed out; a 404 proves
// the vault answered.
const azureProbeSecret = "dsvault-connectivity-probe"

var (
	azureSchema = mustLoadSchema(KindAzureKeyVault, "azure_keyvault.json")

	azureSecretName = regexp.MustCompile(`^[0-9A-Za-z-]{1,127}$`)
)

// AzureKeyVaultClientAPI defines the interface for Azure Key Vault operations
// This allows for mocking in tests
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// AzureKeyVaultConfig holds Azure Key Vault-specific configuration
type AzureKeyVaultConfig struct {
	VaultURL string `yaml:"vault_url"`

	TenantID            string `yaml:"tenant_id"`
	ClientID            string `yaml:"client_id"`
	ClientSecret        string `yaml:"client_secret"`
	CertificatePath     string `yaml:"certificate_path"`
	CertificatePassword string `yaml:"certificate_password"`

	UseManagedIdentity bool   `yaml:"use_managed_identity"`
	UserAssignedID     string `yaml:"user_assigned_identity_id"`

	// DisableChallengeResourceVerification is needed for emulators whose
	// host differs from the token audience.
	DisableChallengeResourceVerification bool `yaml:"disable_challenge_resource_verification"`
}

// AzureKeyVaultOption configures an AzureKeyVaultFactory
type AzureKeyVaultOption func(*AzureKeyVaultFactory)

// WithAzureKeyVaultClient sets a custom Key Vault client (for testing)
func WithAzureKeyVaultClient(client AzureKeyVaultClientAPI) AzureKeyVaultOption {
	return func(f *AzureKeyVaultFactory) {
		f.client = client
	}
}

// AzureKeyVaultFactory builds Azure Key Vault providers.
//
// Names are "name" for the current version or "name/version".
type AzureKeyVaultFactory struct {
	logger *logging.Logger
	client AzureKeyVaultClientAPI
}

// NewAzureKeyVaultFactory creates the azure.keyvault factory
func NewAzureKeyVaultFactory(logger *logging.Logger, opts ...AzureKeyVaultOption) *AzureKeyVaultFactory {
	f := &AzureKeyVaultFactory{logger: loggerOrDiscard(logger, KindAzureKeyVault)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind returns "azure.keyvault"
func (f *AzureKeyVaultFactory) Kind() string {
	return KindAzureKeyVault
}

// Validate checks the configuration and probes the vault
func (f *AzureKeyVaultFactory) Validate(ctx context.Context, config *secure.String) error {
	_, err := f.connect(ctx, config)
	return err
}

// Create makes the same checks as Validate and consumes the configuration
func (f *AzureKeyVaultFactory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	client, err := f.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return &AzureKeyVaultProvider{client: client, logger: f.logger}, nil
}

// connect builds a client and probes a secret that should not exist. A 404
// proves the vault answered and accepted the credentials.
func (f *AzureKeyVaultFactory) connect(ctx context.Context, config *secure.String) (AzureKeyVaultClientAPI, error) {
	var cfg AzureKeyVaultConfig
	if err := azureSchema.Decode(config, &cfg); err != nil {
		return nil, err
	}

	client, err := f.newClient(cfg)
	if err != nil {
		return nil, err
	}

	_, err = client.GetSecret(ctx, azureProbeSecret, "", nil)
	if err != nil && azureStatusCode(err) != http.StatusNotFound {
		return nil, azureClientError("probe Key Vault", err)
	}
	f.logger.Debug("vault %s reachable", cfg.VaultURL)
	return client, nil
}

func (f *AzureKeyVaultFactory) newClient(cfg AzureKeyVaultConfig) (AzureKeyVaultClientAPI, error) {
	if f.client != nil {
		return f.client, nil
	}

	cred, err := newAzureCredential(cfg)
	if err != nil {
		return nil, err
	}

	client, err := azsecrets.NewClient(cfg.VaultURL, cred, &azsecrets.ClientOptions{
		DisableChallengeResourceVerification: cfg.DisableChallengeResourceVerification,
	})
	if err != nil {
		return nil, clientError("create Key Vault client", err)
	}
	return client, nil
}

// newAzureCredential picks the credential the configuration asks for,
// falling back to the default chain (environment, workload identity, CLI).
func newAzureCredential(cfg AzureKeyVaultConfig) (azcore.TokenCredential, error) {
	var (
		cred azcore.TokenCredential
		err  error
	)

	switch {
	case cfg.UseManagedIdentity:
		var opts *azidentity.ManagedIdentityCredentialOptions
		if cfg.UserAssignedID != "" {
			opts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(cfg.UserAssignedID)}
		}
		cred, err = azidentity.NewManagedIdentityCredential(opts)
	case cfg.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	case cfg.CertificatePath != "":
		cred, err = newAzureCertificateCredential(cfg)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, clientError("create Azure credential", err)
	}
	return cred, nil
}

func newAzureCertificateCredential(cfg AzureKeyVaultConfig) (azcore.TokenCredential, error) {
	data, err := os.ReadFile(cfg.CertificatePath)
	if err != nil {
		return nil, err
	}
	defer secure.Wipe(data)

	var password []byte
	if cfg.CertificatePassword != "" {
		password = []byte(cfg.CertificatePassword)
		defer secure.Wipe(password)
	}

	certs, key, err := azidentity.ParseCertificates(data, password)
	if err != nil {
		return nil, errors.New("certificate file could not be parsed")
	}
	return azidentity.NewClientCertificateCredential(cfg.TenantID, cfg.ClientID, certs, key, nil)
}

// AzureKeyVaultProvider fetches secrets from one Key Vault
type AzureKeyVaultProvider struct {
	client AzureKeyVaultClientAPI
	logger *logging.Logger
}

// GetSecret fetches a secret. The version is the one named in the secret id.
func (p *AzureKeyVaultProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	secretName, version := parseAzureSecretName(name)
	if !azureSecretName.MatchString(secretName) {
		// Key Vault cannot hold such a name
		return nil, provider.SecretNotFound(name)
	}

	p.logger.Debug("fetching secret %s", secretName)
	resp, err := p.client.GetSecret(ctx, secretName, version, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, clientError("get secret", ctxErr)
		}
		if azureStatusCode(err) == http.StatusNotFound {
			return nil, provider.SecretNotFound(name)
		}
		return nil, azureClientError("get secret", err)
	}
	if resp.Value == nil {
		return nil, provider.ClientErrorf("secret has no value")
	}

	if resp.ID != nil {
		version = resp.ID.Version()
	}
	return newSecretString(*resp.Value, version), nil
}

// parseAzureSecretName splits "name/version"
func parseAzureSecretName(name string) (secretName, version string) {
	if idx := strings.Index(name, "/"); idx != -1 {
		return name[:idx], name[idx+1:]
	}
	return name, ""
}

// azureStatusCode returns the HTTP status of a Key Vault error, or 0
func azureStatusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func azureClientError(op string, err error) error {
	switch azureStatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return clientError("Azure authentication failed", err)
	case http.StatusTooManyRequests:
		return clientError(op+" (throttled)", err)
	}
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return clientError("Azure authentication failed", err)
	}
	return clientError(op, err)
}
