package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/dsvault/internal/config"
	"github.com/systmms/dsvault/internal/logging"
)

const testVaults = `version: 0
vaults:
  app:
    kind: memory
    config:
      secrets:
        db_pw: x
        api_key: {value: "k\"1<&>", version: "3"}
  shared:
    kind: file
    timeout_ms: 2000
    config:
      path: %s
`

// newTestConfig writes a dsvault.yaml whose file vault points at a secrets
// file in the test's temp dir.
func newTestConfig(t *testing.T, content string) *config.Config {
	t.Helper()

	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets.yaml")
	require.NoError(t, os.WriteFile(secretsPath, []byte("token: file-token\n"), 0o600))

	path := filepath.Join(dir, "dsvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(content, "%s", secretsPath)), 0o600))

	return &config.Config{
		Path:   path,
		Logger: logging.New(false, true, logging.WithOutput(io.Discard)),
	}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SilenceUsage = true // mirrors the root command in main.go
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAppendJSONString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{"plain", []byte("hunter2")},
		{"quotes and backslash", []byte(`a"b\c`)},
		{"control characters", []byte("line1\nline2\t\r\b\f\x00\x1f")},
		{"html", []byte("<script>&</script>")},
		{"unicode", []byte("pässwörd 🔑")},
		{"line separators", []byte("a\u2028b\u2029c")},
		{"invalid utf8", []byte{'a', 0xff, 'b'}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := appendJSONString(nil, tt.input)
			want, err := json.Marshal(string(tt.input))
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
		})
	}
}
