// Package providers defines the capability set every DEX aggregator adapter
// implements, plus the shared once-fetched token registry machinery.
package providers

import (
	"context"

	"github.com/airswap/aggregator-aggregator/internal/model"
)

// Aggregator is the common capability set of all provider adapters. Each
// adapter owns the mapping between the canonical request/response shapes and
// its provider's wire format.
type Aggregator interface {
	// Key is the stable provider identifier used for sentinel lookup and
	// result tagging.
	Key() string
	Info() model.ProviderInfo
	// Tokens joins the registry fetch started at construction. It never
	// re-fetches; the registry is immutable for the adapter's lifetime.
	Tokens(ctx context.Context) ([]model.Token, error)
	FetchQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error)
}

// TradeBuilder is implemented by adapters that can prepare an executable
// on-chain transaction for a quote.
type TradeBuilder interface {
	Aggregator
	FetchTrade(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error)
}
