package providers

import (
	"context"
	"sync"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindMemory is the in-process backend kind.
const KindMemory = "memory"

var memorySchema = mustLoadSchema(KindMemory, "memory.json")

// MemoryConfig holds configuration for the memory backend.
//
//	backend: memory
//	secrets:
//	  db_pw: x
//	  api_key: {value: k, version: "3"}
type MemoryConfig struct {
	Secrets map[string]secretEntry `yaml:"secrets"`
}

// MemoryFactory builds providers that serve secrets held in process. Values
// stay encrypted in memguard enclaves between fetches.
type MemoryFactory struct {
	logger *logging.Logger
}

// NewMemoryFactory creates the memory backend factory.
func NewMemoryFactory(logger *logging.Logger) *MemoryFactory {
	return &MemoryFactory{logger: loggerOrDiscard(logger, KindMemory)}
}

// Kind returns "memory".
func (f *MemoryFactory) Kind() string {
	return KindMemory
}

// Validate checks the configuration. There is no remote side to reach.
func (f *MemoryFactory) Validate(_ context.Context, config *secure.String) error {
	var cfg MemoryConfig
	if err := memorySchema.Decode(config, &cfg); err != nil {
		return err
	}
	dropEntries(cfg.Secrets)
	return nil
}

// Create seals every configured secret and consumes the configuration.
func (f *MemoryFactory) Create(_ context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	var cfg MemoryConfig
	if err := memorySchema.Decode(config, &cfg); err != nil {
		return nil, err
	}

	p := &MemoryProvider{secrets: make(map[string]sealedEntry, len(cfg.Secrets))}
	for name, entry := range cfg.Secrets {
		p.secrets[name] = sealedEntry{
			sealed:  secure.Seal(secure.NewString(entry.Value)),
			version: entry.Version,
		}
	}
	dropEntries(cfg.Secrets)

	f.logger.Debug("sealed %d secrets", len(p.secrets))
	return p, nil
}

type sealedEntry struct {
	sealed  *secure.Sealed
	version string
}

// MemoryProvider serves secrets sealed at creation time. The secret map is
// never written after Create, so lookups need no lock.
type MemoryProvider struct {
	secrets map[string]sealedEntry

	closeOnce sync.Once
}

// GetSecret opens a fresh protected copy of the named secret.
func (p *MemoryProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, provider.NewClientError(err)
	}

	entry, ok := p.secrets[name]
	if !ok {
		return nil, provider.SecretNotFound(name)
	}

	value, err := entry.sealed.Open()
	if err != nil {
		return nil, clientError("open sealed secret", err)
	}
	return provider.NewProviderSecret(value, entry.version), nil
}

// Close destroys every sealed secret. Later fetches fail with ClientError.
func (p *MemoryProvider) Close() error {
	p.closeOnce.Do(func() {
		for _, entry := range p.secrets {
			entry.sealed.Destroy()
		}
	})
	return nil
}

// dropEntries releases decoded plaintext references early.
// Go strings are immutable and cannot be zeroed in place.
func dropEntries(entries map[string]secretEntry) {
	for name := range entries {
		delete(entries, name)
	}
}
