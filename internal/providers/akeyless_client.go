package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	akeyless "github.com/akeylesslabs/akeyless-go/v3"
)

// akeylessTokenTTL is how long a token is reused. Akeyless tokens last 30
// minutes.
const akeylessTokenTTL = 25 * time.Minute

// akeylessSDKClient implements AkeylessClientAPI using the official SDK
type akeylessSDKClient struct {
	apiClient *akeyless.APIClient
	config    AkeylessConfig
}

// newAkeylessSDKClient creates a new SDK client for Akeyless
func newAkeylessSDKClient(cfg AkeylessConfig) *akeylessSDKClient {
	configuration := akeyless.NewConfiguration()
	configuration.Servers = []akeyless.ServerConfiguration{
		{URL: cfg.GatewayURL},
	}
	configuration.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &akeylessSDKClient{
		apiClient: akeyless.NewAPIClient(configuration),
		config:    cfg,
	}
}

// Authenticate obtains an access token for the configured method
func (c *akeylessSDKClient) Authenticate(ctx context.Context) (string, time.Duration, error) {
	authBody := akeyless.NewAuthWithDefaults()
	authBody.SetAccessId(c.config.AccessID)

	switch c.config.Auth.Method {
	case "api_key", "":
		authBody.SetAccessKey(c.config.Auth.AccessKey)
	case "aws_iam":
		authBody.SetAccessType("aws_iam")
	case "azure_ad":
		authBody.SetAccessType("azure_ad")
		if c.config.Auth.AzureADObjectID != "" {
			// CloudId carries the Azure AD object ID
			authBody.SetCloudId(c.config.Auth.AzureADObjectID)
		}
	case "gcp":
		authBody.SetAccessType("gcp")
		if c.config.Auth.GCPAudience != "" {
			authBody.SetGcpAudience(c.config.Auth.GCPAudience)
		}
	default:
		return "", 0, fmt.Errorf("unsupported authentication method: %s", c.config.Auth.Method)
	}

	authRes, httpRes, err := c.apiClient.V2Api.Auth(ctx).Body(*authBody).Execute()
	if err != nil {
		return "", 0, fmt.Errorf("%s authentication failed: %w", c.config.Auth.Method, akeylessAPIError(httpRes, err))
	}
	return authRes.GetToken(), akeylessTokenTTL, nil
}

// GetSecretValue retrieves a static secret by path
func (c *akeylessSDKClient) GetSecretValue(ctx context.Context, token, path string, version *int) ([]byte, error) {
	body := akeyless.NewGetSecretValue([]string{path})
	body.SetToken(token)
	if version != nil {
		body.SetVersion(int32(*version))
	}

	res, httpRes, err := c.apiClient.V2Api.GetSecretValue(ctx).Body(*body).Execute()
	if err != nil {
		return nil, akeylessAPIError(httpRes, err)
	}

	// GetSecretValue returns a map of path -> value
	value, ok := res[path]
	if !ok {
		return nil, ErrAkeylessSecretNotFound
	}
	return akeylessValueBytes(value)
}

// ListItems lists item names under path
func (c *akeylessSDKClient) ListItems(ctx context.Context, token, path string) ([]string, error) {
	body := akeyless.NewListItems()
	body.SetPath(path)
	body.SetToken(token)

	res, httpRes, err := c.apiClient.V2Api.ListItems(ctx).Body(*body).Execute()
	if err != nil {
		return nil, akeylessAPIError(httpRes, err)
	}

	items := res.GetItems()
	paths := make([]string, len(items))
	for i, item := range items {
		paths[i] = item.GetItemName()
	}
	return paths, nil
}

// akeylessAPIError maps a 404 to ErrAkeylessSecretNotFound. The SDK error
// text is only the HTTP status, so the response status is authoritative.
func akeylessAPIError(res *http.Response, err error) error {
	if res != nil && res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrAkeylessSecretNotFound, err)
	}
	var apiErr akeyless.GenericOpenAPIError
	if errors.As(err, &apiErr) && len(apiErr.Body()) > 0 {
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(apiErr.Body(), &body) == nil && body.Error != "" {
			return fmt.Errorf("%w: %s", err, body.Error)
		}
	}
	return err
}

func akeylessValueBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case nil:
		return []byte{}, nil
	default:
		return json.Marshal(v)
	}
}

var _ AkeylessClientAPI = (*akeylessSDKClient)(nil)
