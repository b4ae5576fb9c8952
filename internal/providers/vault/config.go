package vault

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// Auth methods.
const (
	AuthToken      = "token"
	AuthUserpass   = "userpass"
	AuthLDAP       = "ldap"
	AuthKubernetes = "kubernetes"
)

const (
	// DefaultMount is the KV engine mount used when none is configured.
	DefaultMount = "secret"

	// DefaultMaxRetries is the number of retries after a failed attempt.
	DefaultMaxRetries = 2
)

// Config holds Vault-specific configuration
type Config struct {
	Address    string `yaml:"address"`     // Vault server address
	Namespace  string `yaml:"namespace"`   // Vault namespace (Vault Enterprise)
	Mount      string `yaml:"mount"`       // KV engine mount
	KVVersion  int    `yaml:"kv_version"`  // 1 or 2
	AuthMethod string `yaml:"auth_method"` // token, userpass, ldap, kubernetes
	AuthMount  string `yaml:"auth_mount"`  // defaults to the method name

	Token    string `yaml:"token"`    // token auth
	Username string `yaml:"username"` // userpass and ldap
	Password string `yaml:"password"` // userpass and ldap
	Role     string `yaml:"role"`     // kubernetes
	JWTPath  string `yaml:"jwt_path"` // kubernetes

	CACert     string `yaml:"ca_cert"`     // Path to CA certificate
	ClientCert string `yaml:"client_cert"` // Path to client certificate
	ClientKey  string `yaml:"client_key"`  // Path to client key
	TLSSkip    bool   `yaml:"tls_skip"`    // Skip TLS verification (not recommended)

	MaxRetries *int `yaml:"max_retries"`
}

// ApplyEnvironment fills unset fields from the standard VAULT_* variables
// and defaults.
func (c *Config) ApplyEnvironment() {
	fallback := func(field *string, key string) {
		if *field == "" {
			*field = os.Getenv(key)
		}
	}

	fallback(&c.Address, "VAULT_ADDR")
	fallback(&c.Namespace, "VAULT_NAMESPACE")
	fallback(&c.CACert, "VAULT_CACERT")
	fallback(&c.ClientCert, "VAULT_CLIENT_CERT")
	fallback(&c.ClientKey, "VAULT_CLIENT_KEY")

	if c.AuthMethod == "" {
		c.AuthMethod = AuthToken
	}
	if c.AuthMethod == AuthToken {
		fallback(&c.Token, "VAULT_TOKEN")
	}
	if c.Mount == "" {
		c.Mount = DefaultMount
	}
	if c.KVVersion == 0 {
		c.KVVersion = 2
	}
}

// Check reports settings that are still missing after ApplyEnvironment.
// Messages name fields, never values.
func (c Config) Check() error {
	if c.Address == "" {
		return errors.New("address is required (or set VAULT_ADDR)")
	}
	switch c.AuthMethod {
	case AuthToken:
		if c.Token == "" {
			return errors.New("token auth requires token (or set VAULT_TOKEN)")
		}
	case AuthUserpass, AuthLDAP:
		if c.Username == "" {
			return errors.New(c.AuthMethod + " auth requires username")
		}
	case AuthKubernetes:
		if c.Role == "" {
			return errors.New("kubernetes auth requires role")
		}
	}
	if (c.ClientCert == "") != (c.ClientKey == "") {
		return errors.New("client_cert and client_key must be set together")
	}
	return nil
}

func (c Config) retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

func (c Config) authMount() string {
	if c.AuthMount != "" {
		return strings.Trim(c.AuthMount, "/")
	}
	return c.AuthMethod
}

func (c Config) jwtPath() string {
	if c.JWTPath != "" {
		return c.JWTPath
	}
	if path := os.Getenv("VAULT_K8S_TOKEN_PATH"); path != "" {
		return path
	}
	return DefaultKubernetesTokenPath
}

// password prefers the configuration, then the method's environment variable.
func (c Config) password() string {
	if c.Password != "" {
		return c.Password
	}
	if c.AuthMethod == AuthLDAP {
		return os.Getenv("VAULT_LDAP_PASSWORD")
	}
	return os.Getenv("VAULT_USERPASS_PASSWORD")
}

// kvPath maps a secret path onto the KV engine's read endpoint.
func (c Config) kvPath(path string) string {
	mount := strings.Trim(c.Mount, "/")
	path = strings.TrimPrefix(path, "/")
	if c.KVVersion == 1 {
		return mount + "/" + path
	}
	return mount + "/data/" + path
}

// decodeKV unpacks a read response for the configured engine version.
func (c Config) decodeKV(body []byte) (*Secret, error) {
	if c.KVVersion == 1 {
		var resp struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, errors.New("response is not valid JSON")
		}
		if resp.Data == nil {
			return nil, ErrNotFound
		}
		return &Secret{Data: resp.Data}, nil
	}

	var resp struct {
		Data struct {
			Data     map[string]interface{} `json:"data"`
			Metadata struct {
				Version int `json:"version"`
			} `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.New("response is not valid JSON")
	}
	// A deleted KV v2 version has metadata but null data.
	if resp.Data.Data == nil {
		return nil, ErrNotFound
	}
	return &Secret{Data: resp.Data.Data, Version: resp.Data.Metadata.Version}, nil
}
