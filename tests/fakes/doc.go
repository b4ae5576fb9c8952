// Package fakes provides test doubles for the dsvault backend client
// interfaces.
//
// Fakes are manually implemented (not generated) to give precise control
// over backend behavior: stored secrets, injected failures, latency and call
// counting. Each one satisfies a *ClientAPI interface from
// internal/providers, or provider.VaultProvider itself.
//
// Usage:
//
//	client := fakes.NewFakeAkeylessClient()
//	client.SetSecret("/prod/db/password", "secret123")
//	factory := providers.NewAkeylessFactory(nil, providers.WithAkeylessClient(client))
//	// Test provider methods...
package fakes
