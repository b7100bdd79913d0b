// Package aggregator fans a single canonical swap request out to every
// configured provider adapter, isolates per-provider failures, and merges
// the results into one response set with per-provider timing.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/airswap/aggregator-aggregator/internal/approval"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/normalize"
	"github.com/airswap/aggregator-aggregator/internal/providers"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

type Config struct {
	// Providers in result order. Result sets always have exactly one entry
	// per provider, failures included.
	Providers []providers.Aggregator
	// ProviderTimeout bounds each provider branch. Zero means unbounded;
	// the join still only settles when the slowest branch does.
	ProviderTimeout time.Duration
	// Approvals annotates successful trade results with spending-approval
	// state. Optional; without it trades are returned unannotated.
	Approvals approval.Checker
	Clock     clock.Clock
	Logger    *logrus.Logger
}

// Aggregator is the aggregation coordinator. It owns the unified token
// registry and per-request validation; adapter state is owned by adapters.
type Aggregator struct {
	providers []providers.Aggregator
	timeout   time.Duration
	approvals approval.Checker
	clock     clock.Clock
	log       *logrus.Logger
	unified   *unifiedRegistry
}

// TradeResult pairs an aggregated trade entry with the deferred approval
// action that must run before the trade can execute. Approval is nil when
// no approval is needed or the entry failed.
type TradeResult struct {
	model.AggregatedTradeResponse
	Approval *approval.Action `json:"approval,omitempty"`
}

func New(cfg Config) (*Aggregator, error) {
	if len(cfg.Providers) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "at least one provider is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	a := &Aggregator{
		providers: cfg.Providers,
		timeout:   cfg.ProviderTimeout,
		approvals: cfg.Approvals,
		clock:     cfg.Clock,
		log:       cfg.Logger,
	}
	// The union is computed once per instance; a new instance is the unit
	// of cache invalidation.
	a.unified = newUnifiedRegistry(cfg.Providers, cfg.Logger)
	return a, nil
}

// Providers returns the configured adapter infos in result order.
func (a *Aggregator) Providers() []model.ProviderInfo {
	out := make([]model.ProviderInfo, 0, len(a.providers))
	for _, p := range a.providers {
		out = append(out, p.Info())
	}
	return out
}

// Tokens returns the unified registry: the address-deduplicated union of
// every provider's token list with the synthetic native ETH entry first.
func (a *Aggregator) Tokens(ctx context.Context) ([]model.Token, error) {
	return a.unified.wait(ctx)
}

// FetchQuotes issues the request to every provider concurrently and waits
// for all branches to settle. The result has exactly one entry per
// configured provider; a failing branch contributes an error-tagged entry
// carrying the original request tokens and never affects the others.
func (a *Aggregator) FetchQuotes(ctx context.Context, req model.QuoteRequest) ([]model.AggregatedQuoteResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	results := make([]model.AggregatedQuoteResponse, len(a.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		g.Go(func() error {
			start := a.clock.Now()
			resp, err := a.quoteOne(gctx, p, req)
			elapsed := a.clock.Since(start).Milliseconds()
			if err != nil {
				a.log.WithFields(logrus.Fields{"provider": p.Key(), "latency_ms": elapsed}).
					WithError(err).Debug("provider quote failed")
				resp = failedQuote(req, err)
			}
			results[i] = model.AggregatedQuoteResponse{
				QuoteResponse: resp,
				FetchTimeMS:   elapsed,
				Aggregator:    p.Key(),
			}
			// Branch failures become result values; nothing aborts the join.
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// FetchTrades is the trade analogue of FetchQuotes. Successful entries are
// post-processed through the approval checker; a failed check leaves the
// entry intact and conservatively marks approval as needed.
func (a *Aggregator) FetchTrades(ctx context.Context, req model.TradeRequest) ([]TradeResult, error) {
	if err := validateRequest(req.QuoteRequest); err != nil {
		return nil, err
	}
	if req.UserAddress == "" {
		return nil, clierr.New(clierr.CodeNoWallet, "trade requests require a connected wallet address")
	}

	results := make([]TradeResult, len(a.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		g.Go(func() error {
			start := a.clock.Now()
			resp, err := a.tradeOne(gctx, p, req)
			elapsed := a.clock.Since(start).Milliseconds()
			if err != nil {
				a.log.WithFields(logrus.Fields{"provider": p.Key(), "latency_ms": elapsed}).
					WithError(err).Debug("provider trade failed")
				resp = failedTrade(req)
				resp.Error = err.Error()
			}
			results[i] = TradeResult{AggregatedTradeResponse: model.AggregatedTradeResponse{
				TradeResponse: resp,
				FetchTimeMS:   elapsed,
				Aggregator:    p.Key(),
			}}
			return nil
		})
	}
	_ = g.Wait()

	a.annotateApprovals(ctx, req, results)
	return results, nil
}

func (a *Aggregator) quoteOne(ctx context.Context, p providers.Aggregator, req model.QuoteRequest) (model.QuoteResponse, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	normalized := normalize.RequestTokens(req, p.Key())
	if err := a.validateTokens(ctx, p, normalized); err != nil {
		return model.QuoteResponse{}, err
	}

	resp, err := p.FetchQuote(ctx, normalized)
	if err != nil {
		return model.QuoteResponse{}, wrapProviderErr(p.Key(), err)
	}
	resp = normalize.ResponseTokens(resp, p.Key())
	if resp.Failed() {
		// Adapter chose the error-tagged-value style; surface it with the
		// canonical request tokens like any other failure.
		failed := failedQuote(req, nil)
		failed.Error = resp.Error
		return failed, nil
	}
	return resp, nil
}

func (a *Aggregator) tradeOne(ctx context.Context, p providers.Aggregator, req model.TradeRequest) (model.TradeResponse, error) {
	builder, ok := p.(providers.TradeBuilder)
	if !ok {
		return model.TradeResponse{}, clierr.New(clierr.CodeProviderFailed,
			fmt.Sprintf("%s does not support prepared trades", p.Key()))
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	normalized := normalize.TradeRequestTokens(req, p.Key())
	if err := a.validateTokens(ctx, p, normalized.QuoteRequest); err != nil {
		return model.TradeResponse{}, err
	}

	resp, err := builder.FetchTrade(ctx, normalized)
	if err != nil {
		return model.TradeResponse{}, wrapProviderErr(p.Key(), err)
	}
	resp = normalize.TradeResponseTokens(resp, p.Key())
	if resp.Failed() {
		failed := failedTrade(req)
		failed.Error = resp.Error
		return failed, nil
	}
	return resp, nil
}

// validateTokens checks the provider-normalized request tokens against the
// provider's own registry before any network call is made. The provider's
// native-asset sentinel always passes; registries do not reliably list the
// native coin.
func (a *Aggregator) validateTokens(ctx context.Context, p providers.Aggregator, req model.QuoteRequest) error {
	tokens, err := p.Tokens(ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeProviderFailed, fmt.Sprintf("%s token registry unavailable", p.Key()), err)
	}
	for _, addr := range []string{req.SourceToken, req.DestinationToken} {
		if isProviderNative(p.Key(), addr) {
			continue
		}
		if _, ok := providers.Lookup(tokens, addr); !ok {
			return clierr.New(clierr.CodeTokenNotSupported,
				fmt.Sprintf("token %s not supported by %s", addr, p.Key()))
		}
	}
	return nil
}

func (a *Aggregator) annotateApprovals(ctx context.Context, req model.TradeRequest, results []TradeResult) {
	for i := range results {
		entry := &results[i]
		if entry.Failed() {
			continue
		}
		// The native asset has no allowance concept.
		if normalize.IsNative(entry.SourceToken) {
			continue
		}
		if a.approvals == nil {
			continue
		}
		action, err := a.approvals.Check(ctx, approval.CheckRequest{
			ProviderKey:  entry.Aggregator,
			TokenAddress: entry.SourceToken,
			TradeTarget:  entry.To,
			OwnerAddress: req.UserAddress,
			AmountAtomic: entry.SourceAmount,
		})
		if err != nil {
			// Ambiguous state: assume an approval is required rather than
			// letting a trade fail on-chain.
			a.log.WithField("provider", entry.Aggregator).WithError(err).Debug("approval check failed")
			entry.ApprovalNeeded = true
			continue
		}
		entry.ApprovalNeeded = action != nil
		entry.Approval = action
	}
}

func validateRequest(req model.QuoteRequest) error {
	if req.SourceToken == "" || req.DestinationToken == "" {
		return clierr.New(clierr.CodeUsage, "source and destination tokens are required")
	}
	if req.SourceAmount == "" {
		return clierr.New(clierr.CodeUsage, "source amount is required")
	}
	return nil
}

func isProviderNative(providerKey, addr string) bool {
	native, ok := normalize.NativeFor(providerKey)
	if !ok {
		return normalize.IsNative(addr)
	}
	return normalize.LowerAddress(addr) == native
}

func wrapProviderErr(providerKey string, err error) error {
	if _, ok := clierr.As(err); ok {
		return err
	}
	return clierr.Wrap(clierr.CodeProviderFailed, fmt.Sprintf("%s call failed", providerKey), err)
}

func failedQuote(req model.QuoteRequest, err error) model.QuoteResponse {
	out := model.QuoteResponse{
		SourceToken:       req.SourceToken,
		DestinationToken:  req.DestinationToken,
		SourceAmount:      req.SourceAmount,
		DestinationAmount: "0",
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func failedTrade(req model.TradeRequest) model.TradeResponse {
	return model.TradeResponse{QuoteResponse: failedQuote(req.QuoteRequest, nil)}
}
