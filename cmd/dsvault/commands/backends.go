package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/dsvault/internal/config"
)

var backendDescriptions = map[string]string{
	"akeyless":           "Akeyless Vault Platform",
	"aws.secretsmanager": "AWS Secrets Manager",
	"aws.ssm":            "AWS Systems Manager Parameter Store",
	"azure.keyvault":     "Azure Key Vault",
	"file":               "YAML or JSON file on disk",
	"gcp.secretmanager":  "Google Cloud Secret Manager",
	"keychain":           "OS keychain (macOS Keychain, Secret Service)",
	"memory":             "In-process secrets, sealed in memory",
	"redis":              "Redis string keys or hash fields",
	"sql":                "PostgreSQL or MySQL secrets table",
	"vault":              "HashiCorp Vault KV v1/v2",
}

func NewBackendsCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List supported vault backends",
		Long: `Display the built-in vault backend kinds.

When a configuration file is present, the configured vaults are listed too,
with whether their kind is supported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := newRegistry(cfg)
			out := cmd.OutOrStdout()

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "KIND\tDESCRIPTION\n")
			for _, kind := range registry.Kinds() {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", kind, backendDescriptions[kind])
			}
			_ = w.Flush()

			if err := cfg.Load(); err != nil || len(cfg.VaultNames()) == 0 {
				return nil
			}

			_, _ = fmt.Fprintln(out, "\nConfigured vaults:")
			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "NAME\tKIND\tSTATUS\n")
			for _, name := range cfg.VaultNames() {
				v, _ := cfg.Vault(name)
				status := "configured"
				if !registry.IsSupported(v.Kind) {
					status = "unsupported"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", name, v.Kind, status)
			}
			return w.Flush()
		},
	}

	return cmd
}
