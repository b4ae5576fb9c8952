package providers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindAWSSSM is the AWS SSM Parameter Store backend kind.
const KindAWSSSM = "aws.ssm"

var ssmSchema = mustLoadSchema(KindAWSSSM, "aws_ssm.json")

// SSMClientAPI defines the interface for AWS SSM Parameter Store operations
// This allows for mocking in tests
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	DescribeParameters(ctx context.Context, params *ssm.DescribeParametersInput, optFns ...func(*ssm.Options)) (*ssm.DescribeParametersOutput, error)
}

// SSMConfig holds AWS SSM-specific configuration
type SSMConfig struct {
	AWSConfig `yaml:",inline"`

	// PathPrefix is prepended to every parameter name, e.g. "/myapp/prod/"
	PathPrefix string `yaml:"path_prefix"`

	// WithDecryption decrypts SecureString parameters. Defaults to true.
	WithDecryption *bool `yaml:"with_decryption"`
}

func (c SSMConfig) decrypt() bool {
	return c.WithDecryption == nil || *c.WithDecryption
}

// SSMOption configures an SSMFactory
type SSMOption func(*SSMFactory)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(f *SSMFactory) {
		f.client = client
	}
}

// SSMFactory builds AWS SSM Parameter Store providers
type SSMFactory struct {
	logger *logging.Logger
	client SSMClientAPI
}

// NewSSMFactory creates the aws.ssm factory
func NewSSMFactory(logger *logging.Logger, opts ...SSMOption) *SSMFactory {
	f := &SSMFactory{logger: loggerOrDiscard(logger, KindAWSSSM)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Kind returns "aws.ssm"
func (f *SSMFactory) Kind() string {
	return KindAWSSSM
}

// Validate checks the configuration and describes at most one parameter to
// verify credentials
func (f *SSMFactory) Validate(ctx context.Context, config *secure.String) error {
	_, _, err := f.connect(ctx, config)
	return err
}

// Create makes the same checks as Validate and consumes the configuration
func (f *SSMFactory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	cfg, client, err := f.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return &SSMProvider{
		client:         client,
		logger:         f.logger,
		prefix:         cfg.PathPrefix,
		withDecryption: cfg.decrypt(),
	}, nil
}

func (f *SSMFactory) connect(ctx context.Context, config *secure.String) (SSMConfig, SSMClientAPI, error) {
	var cfg SSMConfig
	if err := ssmSchema.Decode(config, &cfg); err != nil {
		return cfg, nil, err
	}

	client, err := f.newClient(ctx, cfg)
	if err != nil {
		return cfg, nil, err
	}

	_, err = client.DescribeParameters(ctx, &ssm.DescribeParametersInput{MaxResults: aws.Int32(1)})
	if err != nil {
		if isAWSAuthError(err) {
			return cfg, nil, clientError("AWS authentication failed", err)
		}
		return cfg, nil, clientError("describe parameters", err)
	}
	return cfg, client, nil
}

func (f *SSMFactory) newClient(ctx context.Context, cfg SSMConfig) (SSMClientAPI, error) {
	if f.client != nil {
		return f.client, nil
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.AWSConfig)
	if err != nil {
		return nil, err
	}

	var clientOpts []func(*ssm.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		clientOpts = append(clientOpts, func(o *ssm.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	return ssm.NewFromConfig(awsCfg, clientOpts...), nil
}

// SSMProvider fetches parameters from SSM Parameter Store
type SSMProvider struct {
	client         SSMClientAPI
	logger         *logging.Logger
	prefix         string
	withDecryption bool
}

// GetSecret fetches a parameter. The version is the parameter version.
func (p *SSMProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	parameterName := p.parameterName(name)
	p.logger.Debug("fetching parameter %s", parameterName)

	result, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(parameterName),
		WithDecryption: aws.Bool(p.withDecryption),
	})
	if err != nil {
		if isParameterNotFoundError(err) {
			return nil, provider.SecretNotFound(name)
		}
		if isAWSAuthError(err) {
			return nil, clientError("AWS authentication/authorization failed", err)
		}
		return nil, clientError("get parameter", err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return nil, provider.ClientErrorf("parameter has no value")
	}

	var version string
	if result.Parameter.Version != 0 {
		version = strconv.FormatInt(result.Parameter.Version, 10)
	}
	return newSecretString(*result.Parameter.Value, version), nil
}

// parameterName applies the configured prefix. Absolute names that already
// carry the prefix are left alone.
func (p *SSMProvider) parameterName(name string) string {
	if p.prefix == "" || strings.HasPrefix(name, p.prefix) {
		return name
	}
	return strings.TrimSuffix(p.prefix, "/") + "/" + strings.TrimPrefix(name, "/")
}

// isParameterNotFoundError checks if the error is a parameter not found error
func isParameterNotFoundError(err error) bool {
	var notFound *types.ParameterNotFound
	if errors.As(err, &notFound) {
		return true
	}
	return awsErrorCode(err) == "ParameterNotFound"
}
