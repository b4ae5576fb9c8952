package commands

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/systmms/dsvault/internal/config"
	dserrors "github.com/systmms/dsvault/internal/errors"
	"github.com/systmms/dsvault/pkg/provider"
)

// VaultHealth is the doctor result for one vault.
type VaultHealth struct {
	Name       string
	Kind       string
	Status     string
	Latency    time.Duration
	Error      string
	Suggestion string
}

func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	var (
		verbose     bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check vault connectivity and configuration",
		Long: `Verify that every configured vault is properly configured and reachable.

Vaults are validated concurrently, each bounded by its timeout_ms.
Use --verbose to include suggestions for failing vaults.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger(cfg)
			log.Info("Checking dsvault configuration...")
			if err := cfg.Load(); err != nil {
				log.Error("Configuration error: %v", err)
				return err
			}
			log.Info("✓ Configuration loaded successfully")

			registry := newRegistry(cfg)
			names := cfg.VaultNames()
			results := make([]VaultHealth, len(names))

			var g errgroup.Group
			g.SetLimit(max(concurrency, 1))
			for i, name := range names {
				g.Go(func() error {
					v, _ := cfg.Vault(name)
					health := VaultHealth{Name: name, Kind: v.Kind, Status: "healthy"}

					start := time.Now()
					err := validateVault(cmd, registry, v)
					health.Latency = time.Since(start)

					if err != nil {
						health.Status = healthStatus(err)
						health.Error = err.Error()
						var userErr dserrors.UserError
						if errors.As(dserrors.ProviderError(v.Kind, "validate", err), &userErr) {
							health.Suggestion = userErr.Suggestion
						}
					}
					results[i] = health
					return nil
				})
			}
			_ = g.Wait()

			out := cmd.OutOrStdout()
			displayHealthResults(out, results, verbose)

			healthy := 0
			for _, result := range results {
				if result.Status == "healthy" {
					healthy++
				}
			}

			_, _ = fmt.Fprintf(out, "\nSummary: %d/%d vaults healthy\n", healthy, len(results))
			if healthy < len(results) {
				return dserrors.UserError{
					Message:    "some vaults are not healthy",
					Suggestion: "Run with --verbose for per-vault suggestions",
				}
			}

			log.Info("✓ All vaults operational!")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show suggestions for failing vaults")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum vaults checked at once")

	return cmd
}

func healthStatus(err error) string {
	var cfgErr dserrors.ConfigError
	if errors.As(err, &cfgErr) {
		return "misconfigured"
	}
	switch provider.KindOf(err) {
	case provider.KindInvalidConfiguration:
		return "misconfigured"
	case provider.KindClient:
		if provider.IsTimeout(err) {
			return "timeout"
		}
		return "unreachable"
	}
	return "error"
}

func displayHealthResults(out io.Writer, results []VaultHealth, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "VAULT\tKIND\tSTATUS\tLATENCY\n")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Kind, r.Status, r.Latency.Round(time.Millisecond))
	}
	_ = w.Flush()

	if !verbose {
		return
	}
	for _, r := range results {
		if r.Error == "" {
			continue
		}
		_, _ = fmt.Fprintf(out, "\n%s: %s\n", r.Name, r.Error)
		if r.Suggestion != "" {
			_, _ = fmt.Fprintf(out, "  💡 %s\n", r.Suggestion)
		}
	}
}
