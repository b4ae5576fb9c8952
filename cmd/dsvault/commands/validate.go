package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/dsvault/internal/config"
	dserrors "github.com/systmms/dsvault/internal/errors"
	"github.com/systmms/dsvault/pkg/secure"
)

func NewValidateCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [vault...]",
		Short: "Validate vault configurations",
		Long: `Check each vault's configuration and its live connectivity.

With no arguments every configured vault is validated, one after another.
The exit code reflects the first failure.

Examples:
  dsvault validate
  dsvault validate prod staging`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names = cfg.VaultNames()
			}

			registry := newRegistry(cfg)
			out := cmd.OutOrStdout()

			var firstErr error
			failed := 0
			for _, name := range names {
				v, err := cfg.Vault(name)
				if err != nil {
					return err
				}

				err = validateVault(cmd, registry, v)
				if err != nil {
					err = dserrors.ProviderError(v.Kind, "validate", err)
					_, _ = fmt.Fprintf(out, "✗ %s (%s): %v\n", name, v.Kind, err)
					failed++
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				_, _ = fmt.Fprintf(out, "✓ %s (%s)\n", name, v.Kind)
			}

			if failed > 0 {
				return dserrors.UserError{
					Message:    fmt.Sprintf("%d of %d vaults failed validation", failed, len(names)),
					Suggestion: "Run 'dsvault doctor' for details",
					Err:        firstErr,
				}
			}
			return nil
		},
	}

	return cmd
}

type validator interface {
	Validate(ctx context.Context, kind string, config *secure.String) error
}

func validateVault(cmd *cobra.Command, registry validator, v config.VaultConfig) error {
	secret, err := v.Secret()
	if err != nil {
		return err
	}
	defer secret.Destroy()

	ctx, cancel := withVaultTimeout(cmd.Context(), v)
	defer cancel()
	return registry.Validate(ctx, v.Kind, secret)
}
