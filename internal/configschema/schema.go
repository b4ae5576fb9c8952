// Package configschema decodes backend configurations held in protected
// memory and checks them against embedded JSON Schemas.
package configschema

import (
	"bytes"
	"fmt"
	"io/fs"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// maxErrors caps how many schema violations are reported at once.
const maxErrors = 5

// Schema validates backend configurations of one kind.
type Schema struct {
	kind   string
	loader gojsonschema.JSONLoader
}

// MustLoad reads file from fsys. A missing or unparsable schema is a build
// defect, so it panics.
func MustLoad(kind string, fsys fs.FS, file string) *Schema {
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		panic(fmt.Sprintf("configschema: missing schema %s: %v", file, err))
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data)); err != nil {
		panic(fmt.Sprintf("configschema: invalid schema %s: %v", file, err))
	}
	return &Schema{kind: kind, loader: gojsonschema.NewBytesLoader(data)}
}

// Kind returns the backend kind the schema belongs to.
func (s *Schema) Kind() string {
	return s.kind
}

// Decode parses config as YAML, checks it against the schema and the
// optional backend key, then decodes it into out. Errors never quote the
// configuration.
func (s *Schema) Decode(config *secure.String, out interface{}) error {
	if config == nil || config.IsDestroyed() {
		return provider.InvalidConfiguration("configuration is missing or already consumed")
	}

	return config.Use(func(raw []byte) error {
		if len(bytes.TrimSpace(raw)) == 0 {
			return provider.InvalidConfiguration("configuration is empty")
		}

		var doc interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			// yaml errors can quote the offending input
			return provider.InvalidConfiguration("configuration is not valid YAML or JSON")
		}
		fields, ok := doc.(map[string]interface{})
		if !ok {
			return provider.InvalidConfiguration("configuration must be a mapping")
		}

		if backend, present := fields["backend"]; present {
			if name, ok := backend.(string); !ok || name != s.kind {
				return provider.InvalidConfiguration("backend field does not match kind %q", s.kind)
			}
		}

		result, err := gojsonschema.Validate(s.loader, gojsonschema.NewGoLoader(fields))
		if err != nil {
			return provider.InvalidConfiguration("configuration could not be checked against the %s schema", s.kind)
		}
		if !result.Valid() {
			return provider.InvalidConfiguration("%s", describe(result.Errors()))
		}

		if err := yaml.Unmarshal(raw, out); err != nil {
			return provider.InvalidConfiguration("configuration does not match the %s layout", s.kind)
		}
		return nil
	})
}

func describe(errs []gojsonschema.ResultError) string {
	msgs := make([]string, 0, len(errs))
	for i, e := range errs {
		if i == maxErrors {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(errs)-i))
			break
		}
		msgs = append(msgs, e.Field()+": "+e.Description())
	}
	return strings.Join(msgs, "; ")
}
