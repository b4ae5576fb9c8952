package provider

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultFetchLimit bounds FetchAll when the caller passes a non-positive limit.
const DefaultFetchLimit = 8

// FetchAll fetches every name from p using at most limit concurrent GetSecret
// calls. Duplicate names are fetched once.
//
// On the first failure the remaining fetches are cancelled, every secret
// fetched so far is destroyed, and the error is returned.
func FetchAll(ctx context.Context, p VaultProvider, names []string, limit int) (map[string]*ProviderSecret, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	results := make(map[string]*ProviderSecret, len(names))
	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		g.Go(func() error {
			secret, err := p.GetSecret(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = secret
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, secret := range results {
			secret.Destroy()
		}
		return nil, err
	}
	return results, nil
}

// DestroyAll zeroizes every secret in secrets.
func DestroyAll(secrets map[string]*ProviderSecret) {
	for _, secret := range secrets {
		secret.Destroy()
	}
}
