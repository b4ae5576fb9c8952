package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/systmms/dsvault/internal/config"
	dserrors "github.com/systmms/dsvault/internal/errors"
	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

func NewGetCommand(cfg *config.Config) *cobra.Command {
	var (
		vaultName   string
		jsonOutput  bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "get --vault NAME SECRET...",
		Short: "Fetch secret values",
		Long: `Fetch one or more secrets from a configured vault.

By default only the raw value is printed, making it suitable for scripting.
With several secrets each value is followed by a newline, in argument order.

Examples:
  # Get a single value
  dsvault get --vault prod database/password

  # Get values with versions in JSON format
  dsvault get --vault prod api_key db_pw --json

  # Use in scripts
  export DB_PW=$(dsvault get --vault prod db_pw)`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if vaultName == "" {
				return dserrors.UserError{
					Message:    "Vault name is required",
					Suggestion: "Use --vault <name> to pick a vault from dsvault.yaml",
				}
			}

			if err := cfg.Load(); err != nil {
				return err
			}

			v, err := cfg.Vault(vaultName)
			if err != nil {
				return err
			}

			secrets, err := fetchSecrets(cmd, cfg, v, args, concurrency)
			if err != nil {
				return err
			}
			defer provider.DestroyAll(secrets)

			if jsonOutput {
				return writeSecretsJSON(cmd.OutOrStdout(), vaultName, args, secrets)
			}
			return writeSecretsRaw(cmd.OutOrStdout(), args, secrets)
		},
	}

	cmd.Flags().StringVar(&vaultName, "vault", "", "Vault name from the configuration (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format with versions")
	cmd.Flags().IntVar(&concurrency, "concurrency", provider.DefaultFetchLimit, "Maximum concurrent fetches")

	_ = cmd.MarkFlagRequired("vault")

	return cmd
}

func fetchSecrets(cmd *cobra.Command, cfg *config.Config, v config.VaultConfig, names []string, limit int) (map[string]*provider.ProviderSecret, error) {
	registry := newRegistry(cfg)

	secret, err := v.Secret()
	if err != nil {
		return nil, err
	}

	ctx, cancel := withVaultTimeout(cmd.Context(), v)
	defer cancel()

	p, err := registry.Create(ctx, v.Kind, secret)
	if err != nil {
		return nil, dserrors.ProviderError(v.Kind, "create", err)
	}
	defer func() {
		if cerr := provider.Close(p); cerr != nil {
			logger(cfg).Warn("closing %s provider: %v", v.Kind, cerr)
		}
	}()

	secrets, err := provider.FetchAll(ctx, p, names, limit)
	if err != nil {
		return nil, dserrors.ProviderError(v.Kind, "get", err)
	}
	logger(cfg).Debug("fetched %d secrets from %s", len(secrets), v.Kind)
	return secrets, nil
}

func writeSecretsRaw(w io.Writer, names []string, secrets map[string]*provider.ProviderSecret) error {
	for _, name := range names {
		if _, err := secrets[name].Value.WriteTo(w); err != nil {
			return err
		}
		if len(names) > 1 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeSecretsJSON streams the document to w. Values are escaped from
// protected memory into scratch buffers sized so they never regrow, and each
// buffer is wiped once written.
func writeSecretsJSON(w io.Writer, vaultName string, names []string, secrets map[string]*provider.ProviderSecret) error {
	quote := func(s string) string {
		quoted, _ := json.Marshal(s)
		return string(quoted)
	}

	var out bytes.Buffer
	flush := func() error {
		_, err := out.WriteTo(w)
		return err
	}

	fmt.Fprintf(&out, "{\n  \"vault\": %s,\n  \"secrets\": {", quote(vaultName))

	written := make(map[string]bool, len(names))
	for _, name := range names {
		if written[name] {
			continue
		}
		if len(written) > 0 {
			out.WriteByte(',')
		}
		written[name] = true

		secret := secrets[name]
		fmt.Fprintf(&out, "\n    %s: {\n      \"value\": ", quote(name))
		if err := flush(); err != nil {
			return err
		}

		err := secret.Value.Use(func(b []byte) error {
			scratch := appendJSONString(make([]byte, 0, 6*len(b)+2), b)
			defer secure.Wipe(scratch)
			_, err := w.Write(scratch)
			return err
		})
		if err != nil {
			return err
		}

		if secret.HasVersion() {
			fmt.Fprintf(&out, ",\n      \"version\": %s", quote(secret.Version))
		}
		out.WriteString("\n    }")
	}

	out.WriteString("\n  }\n}\n")
	return flush()
}
