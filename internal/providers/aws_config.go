package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// defaultAWSRegion is used when neither the configuration nor the
// environment names a region.
const defaultAWSRegion = "us-east-1"

// AWSConfig holds the connection settings shared by the AWS backends.
type AWSConfig struct {
	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
	Endpoint string `yaml:"endpoint"`

	// Static credentials, mainly for LocalStack and CI.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// RoleARN is assumed through STS on top of the base credentials.
	RoleARN     string `yaml:"role_arn"`
	ExternalID  string `yaml:"external_id"`
	SessionName string `yaml:"session_name"`
}

// loadAWSConfig resolves an aws.Config from the backend settings. Failures
// are client errors: the configuration was already checked by its schema.
func loadAWSConfig(ctx context.Context, c AWSConfig) (aws.Config, error) {
	region := c.Region
	if region == "" {
		region = defaultAWSRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if c.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, clientError("load AWS config", err)
	}

	if c.RoleARN != "" {
		stsClient := sts.NewFromConfig(cfg, func(o *sts.Options) {
			if c.Endpoint != "" {
				o.BaseEndpoint = aws.String(c.Endpoint)
			}
		})
		sessionName := c.SessionName
		if sessionName == "" {
			sessionName = "dsvault"
		}
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, c.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = sessionName
				if c.ExternalID != "" {
					o.ExternalID = aws.String(c.ExternalID)
				}
			}))
	}

	return cfg, nil
}

// awsErrorCode extracts the service error code, e.g. "ParameterNotFound".
func awsErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isAWSAuthError reports authentication and authorization failures.
func isAWSAuthError(err error) bool {
	code := awsErrorCode(err)
	if code == "" {
		code = err.Error()
	}
	return strings.Contains(code, "AccessDenied") ||
		strings.Contains(code, "UnauthorizedOperation") ||
		strings.Contains(code, "UnrecognizedClient") ||
		strings.Contains(code, "InvalidSignature") ||
		strings.Contains(code, "ExpiredToken")
}
