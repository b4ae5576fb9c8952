package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindAWSSecretsManager is the AWS Secrets Manager backend kind.
const KindAWSSecretsManager = "aws.secretsmanager"

var secretsManagerSchema = mustLoadSchema(KindAWSSecretsManager, "aws_secretsmanager.json")

// SecretsManagerClientAPI defines the interface for AWS Secrets Manager operations
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// SecretsManagerOption configures a SecretsManagerFactory
type SecretsManagerOption func(*SecretsManagerFactory)

// WithSecretsManagerClient makes the factory hand this client to every
// provider instead of building one from configuration (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(f *SecretsManagerFactory) {
		f.client = client
	}
}

// SecretsManagerFactory builds AWS Secrets Manager providers.
//
// Names are secret ids or ARNs. A "#.json.path" suffix extracts one field
// from a JSON secret: "prod/db#.password".
type SecretsManagerFactory struct {
	logger *logging.Logger
	client SecretsManagerClientAPI
}

// NewSecretsManagerFactory creates the aws.secretsmanager factory
func NewSecretsManagerFactory(logger *logging.Logger, opts ...SecretsManagerOption) *SecretsManagerFactory {
	f := &SecretsManagerFactory{logger: loggerOrDiscard(logger, KindAWSSecretsManager)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind returns "aws.secretsmanager"
func (f *SecretsManagerFactory) Kind() string {
	return KindAWSSecretsManager
}

// Validate checks the configuration and lists at most one secret to verify
// credentials and connectivity
func (f *SecretsManagerFactory) Validate(ctx context.Context, config *secure.String) error {
	_, err := f.connect(ctx, config)
	return err
}

// Create makes the same checks as Validate and consumes the configuration
func (f *SecretsManagerFactory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	client, err := f.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return &SecretsManagerProvider{client: client, logger: f.logger}, nil
}

func (f *SecretsManagerFactory) connect(ctx context.Context, config *secure.String) (SecretsManagerClientAPI, error) {
	var cfg AWSConfig
	if err := secretsManagerSchema.Decode(config, &cfg); err != nil {
		return nil, err
	}

	client, err := f.newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	_, err = client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)})
	if err != nil {
		if isAWSAuthError(err) {
			return nil, clientError("AWS authentication failed", err)
		}
		return nil, clientError("list secrets", err)
	}
	f.logger.Debug("credentials accepted in region %s", regionOrDefault(cfg.Region))
	return client, nil
}

func (f *SecretsManagerFactory) newClient(ctx context.Context, cfg AWSConfig) (SecretsManagerClientAPI, error) {
	if f.client != nil {
		return f.client, nil
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Create Secrets Manager client with optional custom endpoint
	var clientOpts []func(*secretsmanager.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	return secretsmanager.NewFromConfig(awsCfg, clientOpts...), nil
}

// SecretsManagerProvider fetches secrets from AWS Secrets Manager
type SecretsManagerProvider struct {
	client SecretsManagerClientAPI
	logger *logging.Logger
}

// GetSecret retrieves the current version of a secret
func (p *SecretsManagerProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	secretID, jsonPath := parseSecretsManagerName(name)
	if secretID == "" {
		return nil, provider.SecretNotFound(name)
	}

	result, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, p.handleError(err, name)
	}

	var value []byte
	switch {
	case result.SecretString != nil:
		value = []byte(*result.SecretString)
	case result.SecretBinary != nil:
		value = result.SecretBinary
	default:
		return nil, provider.ClientErrorf("secret has neither a string nor a binary value")
	}

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

	p.logger.Debug("fetched secret %s", name)
	return newSecret(value, aws.ToString(result.VersionId)), nil
}

// handleError converts AWS errors to taxonomy errors
func (p *SecretsManagerProvider) handleError(err error, name string) error {
	var resourceNotFound *types.ResourceNotFoundException
	if errors.As(err, &resourceNotFound) {
		return provider.SecretNotFound(name)
	}
	if isAWSAuthError(err) {
		return clientError("AWS authentication/authorization failed", err)
	}
	return clientError("get secret value", err)
}

// parseSecretsManagerName splits AWS SM name formats:
// - "secret-name" -> secret-name, ""
// - "secret-name#.field" -> secret-name, ".field"
func parseSecretsManagerName(name string) (secretID, jsonPath string) {
	if idx := strings.Index(name, "#"); idx != -1 {
		return name[:idx], name[idx+1:]
	}
	return name, ""
}

var errJSONFieldMissing = errors.New("field not found in JSON")

// extractJSONPath extracts a value from a JSON document using a simple
// dotted path such as ".db.password"
func extractJSONPath(doc []byte, path string) ([]byte, error) {
	if !strings.HasPrefix(path, ".") {
		return nil, fmt.Errorf("JSON path must start with '.'")
	}

	var data interface{}
	if err := json.Unmarshal(doc, &data); err != nil {
		return nil, fmt.Errorf("secret is not a JSON document")
	}

	current := data
	for _, part := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		if part == "" {
			continue
		}

		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot navigate into non-object at path segment %q", part)
		}
		val, exists := obj[part]
		if !exists {
			return nil, fmt.Errorf("%w: %q", errJSONFieldMissing, part)
		}
		current = val
	}

	// Convert result to bytes
	switch v := current.(type) {
	case string:
		return []byte(v), nil
	case float64:
		return []byte(fmt.Sprintf("%.0f", v)), nil
	case bool:
		return []byte(fmt.Sprintf("%t", v)), nil
	case nil:
		return []byte{}, nil
	default:
		// For complex objects, return as JSON
		return json.Marshal(v)
	}
}

func regionOrDefault(region string) string {
	if region == "" {
		return defaultAWSRegion
	}
	return region
}
