package providers

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindRedis is the Redis key backend kind.
const KindRedis = "redis"

// DefaultRedisTimeout bounds dialing and each command.
const DefaultRedisTimeout = 5 * time.Second

var redisSchema = mustLoadSchema(KindRedis, "redis.json")

// RedisConfig holds configuration for the redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix is prepended to every secret name
	KeyPrefix string `yaml:"key_prefix"`

	// Hash, when set, reads secrets as fields of one hash instead of
	// top-level string keys
	Hash string `yaml:"hash"`

	TLS     bool          `yaml:"tls"`
	Timeout time.Duration `yaml:"timeout"`
}

func (c RedisConfig) options() *redis.Options {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultRedisTimeout
	}
	opts := &redis.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	}
	if c.TLS {
		host, _, _ := net.SplitHostPort(c.Addr)
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	return opts
}

// RedisFactory builds providers reading keys from a Redis server
type RedisFactory struct {
	logger *logging.Logger
}

// NewRedisFactory creates the redis factory
func NewRedisFactory(logger *logging.Logger) *RedisFactory {
	return &RedisFactory{logger: loggerOrDiscard(logger, KindRedis)}
}

// Kind returns "redis"
func (f *RedisFactory) Kind() string {
	return KindRedis
}

// Validate checks the configuration and pings the server
func (f *RedisFactory) Validate(ctx context.Context, config *secure.String) error {
	p, err := f.connect(ctx, config)
	if err != nil {
		return err
	}
	return p.Close()
}

// Create makes the same checks as Validate and consumes the configuration
func (f *RedisFactory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	p, err := f.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *RedisFactory) connect(ctx context.Context, config *secure.String) (*RedisProvider, error) {
	var cfg RedisConfig
	if err := redisSchema.Decode(config, &cfg); err != nil {
		return nil, err
	}

	client := redis.NewClient(cfg.options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if ctx.Err() != nil {
			return nil, clientError("ping", ctx.Err())
		}
		return nil, clientError("failed to connect to redis", err)
	}
	f.logger.Debug("connected to redis db %d", cfg.DB)

	return &RedisProvider{
		client: client,
		logger: f.logger,
		prefix: cfg.KeyPrefix,
		hash:   cfg.Hash,
	}, nil
}

// RedisProvider reads secrets stored as Redis strings or hash fields. Values
// are not versioned. Safe for concurrent use.
type RedisProvider struct {
	client *redis.Client
	logger *logging.Logger
	prefix string
	hash   string
}

// GetSecret reads the key prefix+name, or the field name of the configured
// hash. A missing key or field is SecretNotFound.
func (p *RedisProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	var cmd *redis.StringCmd
	if p.hash != "" {
		p.logger.Debug("reading field of hash %s", p.hash)
		cmd = p.client.HGet(ctx, p.hash, name)
	} else {
		p.logger.Debug("reading key %s%s", p.prefix, name)
		cmd = p.client.Get(ctx, p.prefix+name)
	}

	value, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, provider.SecretNotFound(name)
		}
		if ctx.Err() != nil {
			return nil, clientError("redis read", ctx.Err())
		}
		return nil, clientError("redis read", err)
	}
	return newSecret(value, ""), nil
}

// Close closes the connection pool
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
