package providers

import (
	"context"
	"fmt"

	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/normalize"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

// TokenFuture is a single in-flight token registry fetch that any number of
// callers can join. The fetch starts eagerly at adapter construction; the
// result is cached for the adapter's lifetime.
type TokenFuture struct {
	done   chan struct{}
	tokens []model.Token
	err    error
}

// StartTokenFetch kicks off fetch in the background and returns a future
// other components can wait on without triggering another fetch. Addresses
// are lowercase-normalized on ingestion.
func StartTokenFetch(fetch func(ctx context.Context) ([]model.Token, error)) *TokenFuture {
	f := &TokenFuture{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		tokens, err := fetch(context.Background())
		if err != nil {
			f.err = err
			return
		}
		for i := range tokens {
			tokens[i].Address = normalize.LowerAddress(tokens[i].Address)
		}
		f.tokens = tokens
	}()
	return f
}

// Wait blocks until the fetch settles or ctx is cancelled.
func (f *TokenFuture) Wait(ctx context.Context) ([]model.Token, error) {
	select {
	case <-ctx.Done():
		return nil, clierr.Wrap(clierr.CodeUnavailable, "token registry fetch cancelled", ctx.Err())
	case <-f.done:
		return f.tokens, f.err
	}
}

// Lookup finds a token in a registry slice by case-insensitive address.
func Lookup(tokens []model.Token, address string) (model.Token, bool) {
	needle := normalize.LowerAddress(address)
	for _, t := range tokens {
		if t.Address == needle {
			return t, true
		}
	}
	return model.Token{}, false
}

// ValidateNetwork enforces the single supported chain at adapter
// construction time.
func ValidateNetwork(providerKey string, network int64) error {
	if network != model.EthereumMainnet {
		return clierr.New(clierr.CodeUnsupportedNetwork,
			fmt.Sprintf("%s: only Ethereum mainnet is supported (got chain id %d)", providerKey, network))
	}
	return nil
}
