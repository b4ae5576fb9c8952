package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/dsvault/internal/errors"
)

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, testVaults)

	output, err := execute(t, NewValidateCommand(cfg))
	require.NoError(t, err)
	assert.Contains(t, output, "✓ app (memory)")
	assert.Contains(t, output, "✓ shared (file)")
}

func TestValidateCommand_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		extra    string
		args     []string
		exitCode int
		contains string
	}{
		{
			name:     "schema failure",
			extra:    "  broken:\n    kind: memory\n    config: {secrets: 5}\n",
			args:     []string{"app", "broken"},
			exitCode: dserrors.ExitInvalidConfig,
			contains: "✗ broken (memory)",
		},
		{
			name:     "unknown kind",
			extra:    "  ghost:\n    kind: nosuch\n",
			args:     []string{"ghost"},
			exitCode: dserrors.ExitInvalidConfig,
			contains: "unknown vault kind",
		},
		{
			name:     "unreachable",
			extra:    "  gone:\n    kind: file\n    config: {path: /nonexistent/dsvault/secrets.yaml}\n",
			args:     []string{"gone"},
			exitCode: dserrors.ExitClient,
			contains: "✗ gone (file)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := newTestConfig(t, testVaults+tt.extra)

			output, err := execute(t, NewValidateCommand(cfg), tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, dserrors.ExitCode(err))
			assert.Contains(t, output, tt.contains)
		})
	}
}

func TestValidateCommand_UnknownVault(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, testVaults)

	_, err := execute(t, NewValidateCommand(cfg), "staging")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Available vaults: app, shared")
}
