package providers

import (
	"embed"

	"github.com/systmms/dsvault/internal/configschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

func mustLoadSchema(kind, file string) *configschema.Schema {
	return configschema.MustLoad(kind, schemaFS, "schemas/"+file)
}
