package commands

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/dsvault/internal/errors"
)

func TestGetCommand_Raw(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "single value without newline",
			args: []string{"--vault", "app", "db_pw"},
			want: "x",
		},
		{
			name: "several values in argument order",
			args: []string{"--vault", "app", "api_key", "db_pw"},
			want: "k\"1<&>\nx\n",
		},
		{
			name: "file backend",
			args: []string{"--vault", "shared", "token"},
			want: "file-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := newTestConfig(t, testVaults)
			output, err := execute(t, NewGetCommand(cfg), tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, output)
		})
	}
}

func TestGetCommand_JSON(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, testVaults)
	output, err := execute(t, NewGetCommand(cfg), "--vault", "app", "--json", "db_pw", "api_key", "db_pw")
	require.NoError(t, err)

	var doc struct {
		Vault   string `json:"vault"`
		Secrets map[string]struct {
			Value   string  `json:"value"`
			Version *string `json:"version"`
		} `json:"secrets"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &doc), output)

	assert.Equal(t, "app", doc.Vault)
	require.Len(t, doc.Secrets, 2)
	assert.Equal(t, "x", doc.Secrets["db_pw"].Value)
	assert.Nil(t, doc.Secrets["db_pw"].Version)
	assert.Equal(t, "k\"1<&>", doc.Secrets["api_key"].Value)
	require.NotNil(t, doc.Secrets["api_key"].Version)
	assert.Equal(t, "3", *doc.Secrets["api_key"].Version)
}

func TestGetCommand_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		extra    string
		args     []string
		exitCode int
	}{
		{
			name:     "unreachable vault",
			extra:    "  gone:\n    kind: file\n    config: {path: /nonexistent/dsvault/secrets.yaml}\n",
			args:     []string{"--vault", "gone", "db_pw"},
			exitCode: dserrors.ExitClient,
		},
		{
			name:     "missing secret",
			args:     []string{"--vault", "app", "db_pw", "missing"},
			exitCode: dserrors.ExitNotFound,
		},
		{
			name:     "unknown vault",
			args:     []string{"--vault", "staging", "db_pw"},
			exitCode: dserrors.ExitInvalidConfig,
		},
		{
			name:     "no secret names",
			args:     []string{"--vault", "app"},
			exitCode: dserrors.ExitFailure,
		},
		{
			name:     "no vault flag",
			args:     []string{"db_pw"},
			exitCode: dserrors.ExitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := newTestConfig(t, testVaults+tt.extra)
			output, err := execute(t, NewGetCommand(cfg), tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, dserrors.ExitCode(err))
			assert.Empty(t, output)
		})
	}
}
