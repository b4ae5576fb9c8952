package vault

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/secure"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultKubernetesTokenPath is the projected service account token.
	DefaultKubernetesTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 4 << 20
)

// ErrNotFound is returned by Get when nothing is stored at the path.
var ErrNotFound = errors.New("vault: secret not found")

// ResponseError is a non-success answer from the Vault API.
type ResponseError struct {
	StatusCode int
	Errors     []string
}

func (e *ResponseError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("vault returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("vault returned status %d: %s", e.StatusCode, strings.Join(e.Errors, "; "))
}

// IsPermissionDenied reports a 401 or 403 from Vault.
func IsPermissionDenied(err error) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) &&
		(respErr.StatusCode == http.StatusForbidden || respErr.StatusCode == http.StatusUnauthorized)
}

// Secret is one KV entry.
type Secret struct {
	Data map[string]interface{}
	// Version is the KV v2 metadata version, 0 for KV v1.
	Version int
}

// Client talks to the Vault HTTP API. It is safe for concurrent use.
type Client struct {
	config Config
	http   *retryablehttp.Client
	logger *logging.Logger

	// mu guards token. A new token is swapped in only after a login
	// succeeds, so a cancelled login leaves the previous state intact.
	mu    sync.RWMutex
	token *secure.String
	// generation counts token swaps so a rejected caller can tell whether
	// another caller already logged in again.
	generation uint64

	// loginMu serializes logins so concurrent callers share one.
	loginMu sync.Mutex
}

// NewClient builds a client from a checked configuration.
func NewClient(config Config, logger *logging.Logger) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	tlsConfig, err := config.tlsConfig()
	if err != nil {
		return nil, err
	}
	transport.TLSClientConfig = tlsConfig

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: DefaultTimeout}
	rc.RetryMax = config.retries()
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = retryLogger{logger}

	c := &Client{config: config, http: rc, logger: logger}
	if config.AuthMethod == AuthToken {
		c.token = secure.NewString(config.Token)
	}
	return c, nil
}

// Authenticate logs in unless the client already holds a token.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.hasToken() {
		return nil
	}
	if c.config.AuthMethod == AuthToken {
		return errors.New("no vault token configured")
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.hasToken() {
		return nil
	}
	return c.login(ctx)
}

// LookupSelf checks the current token against auth/token/lookup-self.
func (c *Client) LookupSelf(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "auth/token/lookup-self", nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

// Get reads path under the configured mount. A 403 on a login method
// triggers one fresh login and retry, covering expired leases.
func (c *Client) Get(ctx context.Context, path string) (*Secret, error) {
	rejected := c.tokenGeneration()
	secret, err := c.get(ctx, path)
	if err == nil || !IsPermissionDenied(err) || c.config.AuthMethod == AuthToken {
		return secret, err
	}

	if err := c.relogin(ctx, rejected); err != nil {
		return nil, err
	}
	return c.get(ctx, path)
}

// relogin replaces the token of generation rejected. Callers that lose the
// race reuse the token the winner obtained.
func (c *Client) relogin(ctx context.Context, rejected uint64) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if c.tokenGeneration() != rejected {
		return nil
	}
	c.logger.Debug("token rejected, logging in again")
	return c.login(ctx)
}

func (c *Client) get(ctx context.Context, path string) (*Secret, error) {
	resp, err := c.do(ctx, http.MethodGet, c.config.kvPath(path), nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, responseError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	defer secure.Wipe(body)

	return c.config.decodeKV(body)
}

// Close discards the token.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token.Destroy()
	c.token = nil
	return nil
}

func (c *Client) hasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != nil && c.token.Len() > 0
}

func (c *Client) tokenGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *Client) setToken(token *secure.String) {
	c.mu.Lock()
	old := c.token
	c.token = token
	c.generation++
	c.mu.Unlock()
	old.Destroy()
}

// login runs the configured auth method. Callers hold loginMu.
func (c *Client) login(ctx context.Context) error {
	var (
		path string
		body map[string]string
	)

	switch c.config.AuthMethod {
	case AuthUserpass, AuthLDAP:
		password := c.config.password()
		if password == "" {
			return fmt.Errorf("no password found for %s auth", c.config.AuthMethod)
		}
		path = fmt.Sprintf("auth/%s/login/%s", c.config.authMount(), c.config.Username)
		body = map[string]string{"password": password}
	case AuthKubernetes:
		jwt, err := os.ReadFile(c.config.jwtPath())
		if err != nil {
			return fmt.Errorf("read kubernetes service account token: %w", err)
		}
		path = fmt.Sprintf("auth/%s/login", c.config.authMount())
		body = map[string]string{"role": c.config.Role, "jwt": strings.TrimSpace(string(jwt))}
		secure.Wipe(jwt)
	default:
		return fmt.Errorf("unsupported auth method: %s", c.config.AuthMethod)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}
	defer secure.Wipe(payload)

	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s login failed: %w", c.config.AuthMethod, responseError(resp))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}
	defer secure.Wipe(raw)

	var authResp struct {
		Auth struct {
			ClientToken string `json:"client_token"`
		} `json:"auth"`
	}
	if err := json.Unmarshal(raw, &authResp); err != nil {
		return errors.New("login response is not valid JSON")
	}
	if authResp.Auth.ClientToken == "" {
		return errors.New("no token received from vault")
	}

	c.setToken(secure.NewString(authResp.Auth.ClientToken))
	c.logger.Debug("%s login succeeded", c.config.AuthMethod)
	return nil
}

// do sends one API request. The token header is set from protected memory
// for the duration of the call.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := strings.TrimSuffix(c.config.Address, "/") + "/v1/" + strings.TrimPrefix(path, "/")

	var reqBody interface{}
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", c.config.Namespace)
	}

	c.mu.RLock()
	token := c.token
	if token != nil {
		_ = token.Use(func(b []byte) error {
			req.Header.Set("X-Vault-Token", string(b))
			return nil
		})
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func responseError(resp *http.Response) error {
	var body struct {
		Errors []string `json:"errors"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &ResponseError{StatusCode: resp.StatusCode, Errors: body.Errors}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
}

// tlsConfig loads the CA bundle and client certificate, if any.
func (c Config) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.TLSSkip, //nolint:gosec // opt-in for development servers
	}

	if c.CACert != "" {
		pem, err := os.ReadFile(c.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca_cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("ca_cert contains no PEM certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if c.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// retryLogger routes retryablehttp's leveled logs to debug output.
type retryLogger struct {
	logger *logging.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) { l.log(msg, keysAndValues) }
func (l retryLogger) Info(msg string, keysAndValues ...interface{})  { l.log(msg, keysAndValues) }
func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) { l.log(msg, keysAndValues) }
func (l retryLogger) Warn(msg string, keysAndValues ...interface{})  { l.log(msg, keysAndValues) }

func (l retryLogger) log(msg string, keysAndValues []interface{}) {
	if !l.logger.DebugEnabled() {
		return
	}
	l.logger.Debug("http: %s %v", msg, keysAndValues)
}
