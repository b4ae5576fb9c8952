package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindGCPSecretManager is the Google Cloud Secret Manager backend kind.
const KindGCPSecretManager = "gcp.secretmanager"

// gcpProbeSecret is looked up when no probe_secret is configured. Any answer
// other than a transport or auth failure proves the service is reachable.
const gcpProbeSecret = "dsvault-connectivity-probe"

var gcpSchema = mustLoadSchema(KindGCPSecretManager, "gcp_secretmanager.json")

// GCPSecretManagerClientAPI is the subset of the Secret Manager client used by
// the backend. *secretmanager.Client satisfies it.
type GCPSecretManagerClientAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error)
	Close() error
}

// GCPSecretManagerConfig holds GCP Secret Manager-specific configuration
type GCPSecretManagerConfig struct {
	ProjectID          string `yaml:"project_id"`
	CredentialsFile    string `yaml:"credentials_file"`
	ImpersonateAccount string `yaml:"impersonate_service_account"`
	Endpoint           string `yaml:"endpoint"`
	// Insecure dials the endpoint without TLS or credentials (emulators).
	Insecure bool `yaml:"insecure"`
	// ProbeSecret must be accessible for Validate to succeed.
	ProbeSecret string `yaml:"probe_secret"`
}

// GCPSecretManagerOption configures a GCPSecretManagerFactory
type GCPSecretManagerOption func(*GCPSecretManagerFactory)

// WithGCPSecretManagerClient makes the factory use client instead of dialing
// the service (for testing)
func WithGCPSecretManagerClient(client GCPSecretManagerClientAPI) GCPSecretManagerOption {
	return func(f *GCPSecretManagerFactory) {
		f.client = client
	}
}

// GCPSecretManagerFactory builds Google Cloud Secret Manager providers.
//
// Names are secret ids, "secret@version", or full resource names such as
// "projects/p/secrets/s/versions/3". A "#.json.path" suffix extracts one
// field from a JSON payload.
type GCPSecretManagerFactory struct {
	logger *logging.Logger
	client GCPSecretManagerClientAPI
}

// NewGCPSecretManagerFactory creates the gcp.secretmanager factory
func NewGCPSecretManagerFactory(logger *logging.Logger, opts ...GCPSecretManagerOption) *GCPSecretManagerFactory {
	f := &GCPSecretManagerFactory{logger: loggerOrDiscard(logger, KindGCPSecretManager)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind returns "gcp.secretmanager"
func (f *GCPSecretManagerFactory) Kind() string {
	return KindGCPSecretManager
}

// Validate checks the configuration and probes the service
func (f *GCPSecretManagerFactory) Validate(ctx context.Context, config *secure.String) error {
	p, err := f.connect(ctx, config)
	if err != nil {
		return err
	}
	return p.Close()
}

// Create makes the same checks as Validate and consumes the configuration
func (f *GCPSecretManagerFactory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	p, err := f.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *GCPSecretManagerFactory) connect(ctx context.Context, config *secure.String) (*GCPSecretManagerProvider, error) {
	cfg, err := f.decode(config)
	if err != nil {
		return nil, err
	}

	client, owned, err := f.newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p := &GCPSecretManagerProvider{
		client:    client,
		owned:     owned,
		logger:    f.logger,
		projectID: cfg.ProjectID,
	}

	if err := p.probe(ctx, cfg.ProbeSecret); err != nil {
		_ = p.Close()
		return nil, err
	}
	f.logger.Debug("project %s reachable", cfg.ProjectID)
	return p, nil
}

// probe reads probeSecret when configured. Otherwise it looks up a secret
// that should not exist: NotFound proves the service answered.
func (p *GCPSecretManagerProvider) probe(ctx context.Context, probeSecret string) error {
	if probeSecret != "" {
		secret, err := p.GetSecret(ctx, probeSecret)
		if err != nil {
			if provider.IsSecretNotFound(err) {
				return provider.ClientErrorf("probe secret is not accessible")
			}
			return err
		}
		secret.Destroy()
		return nil
	}

	_, err := p.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s", p.projectID, gcpProbeSecret),
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return gcpClientError("probe Secret Manager", err)
	}
	return nil
}

func (f *GCPSecretManagerFactory) decode(config *secure.String) (GCPSecretManagerConfig, error) {
	var cfg GCPSecretManagerConfig
	if err := gcpSchema.Decode(config, &cfg); err != nil {
		return cfg, err
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = getGCPProjectID()
	}
	if cfg.ProjectID == "" {
		return cfg, provider.InvalidConfiguration("project_id is required (or set GOOGLE_CLOUD_PROJECT)")
	}
	return cfg, nil
}

// newClient returns the injected client or dials a new one. owned reports
// whether the caller must close it.
func (f *GCPSecretManagerFactory) newClient(ctx context.Context, cfg GCPSecretManagerConfig) (GCPSecretManagerClientAPI, bool, error) {
	if f.client != nil {
		return f.client, false, nil
	}

	var clientOptions []option.ClientOption
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		clientOptions = append(clientOptions,
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}

	if cfg.CredentialsFile != "" {
		path := cfg.CredentialsFile
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, false, clientError("resolve home directory", err)
			}
			path = filepath.Join(home, path[2:])
		}
		clientOptions = append(clientOptions, option.WithCredentialsFile(path))
	}

	if cfg.ImpersonateAccount != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: cfg.ImpersonateAccount,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, false, clientError("impersonate service account", err)
		}
		clientOptions = append(clientOptions, option.WithTokenSource(ts))
	}

	client, err := secretmanager.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, false, clientError("create Secret Manager client", err)
	}
	return client, true, nil
}

// getGCPProjectID reads the project from the usual environment variables
func getGCPProjectID() string {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if projectID := os.Getenv(key); projectID != "" {
			return projectID
		}
	}
	return ""
}

// GCPSecretManagerProvider fetches secret versions from Secret Manager
type GCPSecretManagerProvider struct {
	client    GCPSecretManagerClientAPI
	owned     bool
	logger    *logging.Logger
	projectID string
}

// GetSecret accesses a secret version. The version is the resolved version
// id, so "latest" comes back as its number.
func (p *GCPSecretManagerProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	ref, jsonPath := parseSecretsManagerName(name)
	resourceName, ok := p.resourceName(ref)
	if !ok {
		return nil, provider.SecretNotFound(name)
	}
	p.logger.Debug("accessing %s", resourceName)

	result, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resourceName})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, clientError("access secret version", ctxErr)
		}
		switch status.Code(err) {
		// FailedPrecondition is a disabled or destroyed version; InvalidArgument
		// a name the service cannot hold.
		case codes.NotFound, codes.FailedPrecondition, codes.InvalidArgument:
			return nil, provider.SecretNotFound(name)
		}
		return nil, gcpClientError("access secret version", err)
	}
	if result.GetPayload() == nil {
		return nil, provider.ClientErrorf("secret version has no payload")
	}

	value := append([]byte(nil), result.GetPayload().GetData()...)
	if jsonPath != "" {
		extracted, err := extractJSONPath(value, jsonPath)
		secure.Wipe(value)
		if err != nil {
			if errors.Is(err, errJSONFieldMissing) {
				return nil, provider.SecretNotFound(name)
			}
			return nil, clientError("extract JSON path", err)
		}
		value = extracted
	}

	return newSecret(value, versionFromResourceName(result.GetName())), nil
}

// Close closes the gRPC connection when the provider dialed it
func (p *GCPSecretManagerProvider) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}

// resourceName builds the version resource name for the accepted forms:
// "secret", "secret@version" and "projects/p/secrets/s[/versions/v]".
func (p *GCPSecretManagerProvider) resourceName(ref string) (string, bool) {
	if strings.HasPrefix(ref, "projects/") {
		parts := strings.Split(ref, "/")
		switch {
		case len(parts) == 4 && parts[2] == "secrets" && parts[3] != "":
			return ref + "/versions/latest", true
		case len(parts) == 6 && parts[2] == "secrets" && parts[4] == "versions" && parts[5] != "":
			return ref, true
		}
		return "", false
	}

	secretName, version := ref, "latest"
	if idx := strings.LastIndex(ref, "@"); idx != -1 {
		secretName, version = ref[:idx], ref[idx+1:]
	}
	if secretName == "" || version == "" || strings.Contains(secretName, "/") {
		return "", false
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", p.projectID, secretName, version), true
}

// versionFromResourceName returns the last path segment of
// projects/P/secrets/S/versions/V.
func versionFromResourceName(name string) string {
	idx := strings.LastIndex(name, "/versions/")
	if idx == -1 {
		return ""
	}
	return name[idx+len("/versions/"):]
}

// gcpClientError wraps a gRPC failure with a hint keyed on its status code
func gcpClientError(op string, err error) error {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return clientError("GCP authentication failed", err)
	case codes.ResourceExhausted:
		return clientError(op+" (throttled)", err)
	}
	return clientError(op, err)
}
