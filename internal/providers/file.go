package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/systmms/dsvault/internal/logging"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// KindFile is the file backend kind.
const KindFile = "file"

var fileSchema = mustLoadSchema(KindFile, "file.json")

// FileConfig holds configuration for the file backend.
type FileConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

func (c FileConfig) format() string {
	if c.Format != "" {
		return c.Format
	}
	if strings.EqualFold(filepath.Ext(c.Path), ".json") {
		return "json"
	}
	return "yaml"
}

// FileFactory builds providers that read secrets from a local YAML or JSON
// document. The document maps names to a value or a {value, version} pair.
type FileFactory struct {
	logger *logging.Logger
}

// NewFileFactory creates the file backend factory.
func NewFileFactory(logger *logging.Logger) *FileFactory {
	return &FileFactory{logger: loggerOrDiscard(logger, KindFile)}
}

// Kind returns "file".
func (f *FileFactory) Kind() string {
	return KindFile
}

// Validate checks the configuration and that the file can be read and parsed.
func (f *FileFactory) Validate(_ context.Context, config *secure.String) error {
	_, err := f.open(config)
	return err
}

// Create makes the same checks as Validate and consumes the configuration.
func (f *FileFactory) Create(_ context.Context, config *secure.String) (provider.VaultProvider, error) {
	defer config.Destroy()

	p, err := f.open(config)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *FileFactory) open(config *secure.String) (*FileProvider, error) {
	var cfg FileConfig
	if err := fileSchema.Decode(config, &cfg); err != nil {
		return nil, err
	}

	p := &FileProvider{path: cfg.Path, format: cfg.format()}
	entries, err := p.load()
	if err != nil {
		return nil, err
	}
	f.logger.Debug("file backend holds %d secrets", len(entries))
	return p, nil
}

// FileProvider re-reads its file on every fetch, so edits are visible
// immediately.
type FileProvider struct {
	path   string
	format string
}

// GetSecret reads the file and returns the named entry.
func (p *FileProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, provider.NewClientError(err)
	}

	entries, err := p.load()
	if err != nil {
		return nil, err
	}
	entry, ok := entries[name]
	if !ok {
		return nil, provider.SecretNotFound(name)
	}
	return newSecretString(entry.Value, entry.Version), nil
}

func (p *FileProvider) load() (map[string]secretEntry, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, provider.ClientErrorf("secrets file does not exist")
		}
		return nil, clientError("read secrets file", err)
	}
	defer secure.Wipe(data)

	var doc map[string]interface{}
	switch p.format {
	case "json":
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		// parser errors can quote file content
		return nil, provider.ClientErrorf("secrets file is not valid %s", p.format)
	}
	return entriesFromDocument(doc)
}

// entriesFromDocument converts a decoded document into secret entries.
// Numbers and booleans are kept in their textual form.
func entriesFromDocument(doc map[string]interface{}) (map[string]secretEntry, error) {
	entries := make(map[string]secretEntry, len(doc))
	for name, raw := range doc {
		if value, ok := scalarText(raw); ok {
			entries[name] = secretEntry{Value: value}
			continue
		}
		switch v := raw.(type) {
		case map[string]interface{}:
			value, ok := scalarText(v["value"])
			if !ok {
				return nil, provider.ClientErrorf("entry %q has no scalar value", name)
			}
			entry := secretEntry{Value: value}
			if version, present := v["version"]; present {
				entry.Version = fmt.Sprint(version)
			}
			entries[name] = entry
		default:
			return nil, provider.ClientErrorf("entry %q must be a string or a value/version mapping", name)
		}
	}
	return entries, nil
}

func scalarText(v interface{}) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(v), true
	}
	return "", false
}
