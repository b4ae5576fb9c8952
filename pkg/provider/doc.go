// Package provider defines the contract between applications that consume
// secrets and the vault backends that hold them.
//
// A backend plugs in through two interfaces:
//
//   - VaultProviderFactory turns an opaque, sensitive configuration into a
//     provider. Validate checks the configuration and performs a live
//     reachability check; Create repeats both checks, builds the provider
//     and consumes the configuration.
//   - VaultProvider fetches individual secrets by name.
//
// # Architecture Overview
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                    CLI Commands                             │
//	│                  (cmd/dsvault/commands/)                    │
//	└─────────────────────────┬───────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼───────────────────────────────────┐
//	│            Registry + Metrics decorators                    │
//	│       (internal/providers/, internal/metrics/)              │
//	└─────────────────────────┬───────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼───────────────────────────────────┐
//	│          VaultProviderFactory / VaultProvider               │
//	│                   (pkg/provider/)                           │
//	└─────────────────────────┬───────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼───────────────────────────────────┐
//	│                Backend implementations                      │
//	│  memory  file  aws  gcp  azure  vault  akeyless  sql  ...    │
//	└─────────────────────────────────────────────────────────────┘
//
// # Sensitive Memory
//
// Configurations and secret values travel in *secure.String containers
// (package pkg/secure). They are kept in locked memory, zeroed on Destroy, and
// print as [REDACTED] through every fmt verb and encoder. A ProviderSecret is
// owned by the caller once returned; call Destroy when done with it.
//
// # Error Handling
//
// Every failure belongs to one of three kinds:
//   - InvalidConfigurationError: the configuration is malformed
//   - SecretNotFoundError: the backend definitively has no such secret
//   - ClientError: anything else that went wrong inside the backend
//
// Error text never includes configuration content or secret values. Use the
// IsX predicates or KindOf to classify an error:
//
//	secret, err := p.GetSecret(ctx, "db/password")
//	switch provider.KindOf(err) {
//	case provider.KindNone:
//	    defer secret.Destroy()
//	case provider.KindSecretNotFound:
//	    // fall back to a default
//	default:
//	    return err
//	}
//
// # Threading and Concurrency
//
// Factories and providers must be safe for concurrent use. FetchAll fans a set
// of names out over a bounded worker pool for callers that need many secrets
// at once.
//
// # Testing Backends
//
// RunFactoryContractTests exercises any factory against the shared contract:
// invalid configuration handling, reachability failures, missing secrets,
// idempotent and concurrent fetches, and configuration consumption.
package provider
