package aggregator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/airswap/aggregator-aggregator/internal/approval"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/normalize"
	"github.com/airswap/aggregator-aggregator/internal/providers"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

const (
	daiAddress  = "0x6b175474e89094c44da98b954eedeac495271d0f"
	usdcAddress = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	wbtcAddress = "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599"
)

// fakeProvider is a scripted adapter. Quote calls are counted so tests can
// assert that registry validation short-circuits before any provider call.
type fakeProvider struct {
	key        string
	tokens     []model.Token
	tokensErr  error
	quote      func(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error)
	trade      func(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error)
	quoteCalls atomic.Int64
}

func (f *fakeProvider) Key() string { return f.key }

func (f *fakeProvider) Info() model.ProviderInfo {
	return model.ProviderInfo{Name: f.key, BaseURL: "http://test.invalid", Capabilities: []string{"quote"}}
}

func (f *fakeProvider) Tokens(ctx context.Context) ([]model.Token, error) {
	return f.tokens, f.tokensErr
}

func (f *fakeProvider) FetchQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
	f.quoteCalls.Add(1)
	return f.quote(ctx, req)
}

func (f *fakeProvider) FetchTrade(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error) {
	if f.trade == nil {
		return model.TradeResponse{}, fmt.Errorf("trade not scripted")
	}
	return f.trade(ctx, req)
}

// quoteOnlyFake forwards the read side of fakeProvider and deliberately
// does not implement FetchTrade.
type quoteOnlyFake struct{ inner *fakeProvider }

func (q *quoteOnlyFake) Key() string             { return q.inner.Key() }
func (q *quoteOnlyFake) Info() model.ProviderInfo { return q.inner.Info() }
func (q *quoteOnlyFake) Tokens(ctx context.Context) ([]model.Token, error) {
	return q.inner.Tokens(ctx)
}
func (q *quoteOnlyFake) FetchQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
	return q.inner.FetchQuote(ctx, req)
}

type fakeApprovalChecker struct {
	action *approval.Action
	err    error
	calls  []approval.CheckRequest
}

func (f *fakeApprovalChecker) Check(ctx context.Context, req approval.CheckRequest) (*approval.Action, error) {
	f.calls = append(f.calls, req)
	return f.action, f.err
}

func echoQuote(amount string) func(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
	return func(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
		return model.QuoteResponse{
			SourceToken:       req.SourceToken,
			DestinationToken:  req.DestinationToken,
			SourceAmount:      req.SourceAmount,
			DestinationAmount: amount,
		}, nil
	}
}

func registryOf(addrs ...string) []model.Token {
	out := make([]model.Token, 0, len(addrs))
	for i, a := range addrs {
		out = append(out, model.Token{Address: a, Symbol: fmt.Sprintf("T%d", i), Decimals: 18})
	}
	return out
}

func newTestAggregator(t *testing.T, provs ...providers.Aggregator) *Aggregator {
	t.Helper()
	agg, err := New(Config{Clock: clock.NewMock(), Providers: provs})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return agg
}

func TestFetchQuotesOneEntryPerProvider(t *testing.T) {
	fast := &fakeProvider{key: "dexag", tokens: registryOf(daiAddress, usdcAddress), quote: echoQuote("200")}
	slow := &fakeProvider{key: "oneinch", tokens: registryOf(daiAddress, usdcAddress), quote: echoQuote("210")}
	agg := newTestAggregator(t, fast, slow)

	results, err := agg.FetchQuotes(context.Background(), model.QuoteRequest{
		SourceToken:      daiAddress,
		DestinationToken: usdcAddress,
		SourceAmount:     "1000000000000000000",
	})
	if err != nil {
		t.Fatalf("FetchQuotes failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Aggregator != "dexag" || results[1].Aggregator != "oneinch" {
		t.Fatalf("results out of provider order: %s, %s", results[0].Aggregator, results[1].Aggregator)
	}
	if results[0].DestinationAmount != "200" || results[1].DestinationAmount != "210" {
		t.Fatalf("unexpected amounts: %s, %s", results[0].DestinationAmount, results[1].DestinationAmount)
	}
}

func TestFetchQuotesIsolatesFailures(t *testing.T) {
	good := &fakeProvider{key: "oneinch", tokens: registryOf(daiAddress, usdcAddress), quote: echoQuote("210")}
	broken := &fakeProvider{
		key:    "paraswap",
		tokens: registryOf(daiAddress, usdcAddress),
		quote: func(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
			return model.QuoteResponse{}, fmt.Errorf("connection refused")
		},
	}
	agg := newTestAggregator(t, broken, good)

	results, err := agg.FetchQuotes(context.Background(), model.QuoteRequest{
		SourceToken:      daiAddress,
		DestinationToken: usdcAddress,
		SourceAmount:     "1000000000000000000",
	})
	if err != nil {
		t.Fatalf("FetchQuotes failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	failed := results[0]
	if !failed.Failed() {
		t.Fatal("expected an error-tagged entry for the broken provider")
	}
	if failed.DestinationAmount != "0" {
		t.Fatalf("failed entry must carry amount 0, got %s", failed.DestinationAmount)
	}
	if failed.SourceToken != daiAddress || failed.DestinationToken != usdcAddress {
		t.Fatalf("failed entry must echo the original request tokens: %+v", failed.QuoteResponse)
	}
	if results[1].Failed() {
		t.Fatalf("healthy provider must be unaffected: %s", results[1].Error)
	}
}

func TestFetchQuotesErrorTaggedStyle(t *testing.T) {
	tagged := &fakeProvider{
		key:    "totle",
		tokens: registryOf(daiAddress, usdcAddress),
		quote: func(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
			return model.QuoteResponse{
				SourceToken:       req.SourceToken,
				DestinationToken:  req.DestinationToken,
				SourceAmount:      req.SourceAmount,
				DestinationAmount: "0",
				Error:             "no routes available",
			}, nil
		},
	}
	agg := newTestAggregator(t, tagged)

	results, err := agg.FetchQuotes(context.Background(), model.QuoteRequest{
		SourceToken:      daiAddress,
		DestinationToken: usdcAddress,
		SourceAmount:     "1",
	})
	if err != nil {
		t.Fatalf("FetchQuotes failed: %v", err)
	}
	if !results[0].Failed() || results[0].Error != "no routes available" {
		t.Fatalf("expected the tagged error to surface, got %+v", results[0])
	}
}

func TestFetchQuotesNormalizesNativeSentinels(t *testing.T) {
	var sawSource, sawDest string
	eee := &fakeProvider{
		key:    "oneinch",
		tokens: registryOf(daiAddress),
		quote: func(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
			sawSource, sawDest = req.SourceToken, req.DestinationToken
			return model.QuoteResponse{
				SourceToken:       req.SourceToken,
				DestinationToken:  req.DestinationToken,
				SourceAmount:      req.SourceAmount,
				DestinationAmount: "5",
			}, nil
		},
	}
	agg := newTestAggregator(t, eee)

	results, err := agg.FetchQuotes(context.Background(), model.QuoteRequest{
		SourceToken:      model.NativeETHAddress,
		DestinationToken: daiAddress,
		SourceAmount:     "1000000000000000000",
	})
	if err != nil {
		t.Fatalf("FetchQuotes failed: %v", err)
	}
	if sawSource != normalize.EEEAddress {
		t.Fatalf("provider must see its own native sentinel, got %s", sawSource)
	}
	if sawDest != daiAddress {
		t.Fatalf("non-native token must pass through, got %s", sawDest)
	}
	if results[0].SourceToken != model.NativeETHAddress {
		t.Fatalf("response must collapse back to the canonical sentinel, got %s", results[0].SourceToken)
	}
}

func TestFetchQuotesValidatesBeforeCalling(t *testing.T) {
	p := &fakeProvider{key: "oneinch", tokens: registryOf(daiAddress), quote: echoQuote("1")}
	agg := newTestAggregator(t, p)

	results, err := agg.FetchQuotes(context.Background(), model.QuoteRequest{
		SourceToken:      daiAddress,
		DestinationToken: wbtcAddress,
		SourceAmount:     "1",
	})
	if err != nil {
		t.Fatalf("FetchQuotes failed: %v", err)
	}
	if !results[0].Failed() {
		t.Fatal("expected a failed entry for the unsupported token")
	}
	if !strings.Contains(results[0].Error, "not supported") {
		t.Fatalf("unexpected error text: %s", results[0].Error)
	}
	if got := p.quoteCalls.Load(); got != 0 {
		t.Fatalf("validation must run before the provider call, got %d calls", got)
	}
}

func TestFetchQuotesMeasuresLatencyPerProvider(t *testing.T) {
	mock := clock.NewMock()
	p := &fakeProvider{key: "dexag", tokens: registryOf(daiAddress, usdcAddress)}
	p.quote = func(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
		mock.Add(42 * time.Millisecond)
		return echoQuote("7")(ctx, req)
	}
	agg, err := New(Config{Clock: mock, Providers: []providers.Aggregator{p}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	results, err := agg.FetchQuotes(context.Background(), model.QuoteRequest{
		SourceToken:      daiAddress,
		DestinationToken: usdcAddress,
		SourceAmount:     "1",
	})
	if err != nil {
		t.Fatalf("FetchQuotes failed: %v", err)
	}
	if results[0].FetchTimeMS != 42 {
		t.Fatalf("expected 42ms fetch time, got %d", results[0].FetchTimeMS)
	}
}

func TestFetchQuotesRejectsEmptyRequest(t *testing.T) {
	p := &fakeProvider{key: "oneinch", tokens: registryOf(daiAddress), quote: echoQuote("1")}
	agg := newTestAggregator(t, p)

	_, err := agg.FetchQuotes(context.Background(), model.QuoteRequest{})
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestTokensUnifiedRegistry(t *testing.T) {
	a := &fakeProvider{key: "paraswap", tokens: registryOf(daiAddress, usdcAddress), quote: echoQuote("1")}
	b := &fakeProvider{key: "oneinch", tokens: registryOf(usdcAddress, wbtcAddress), quote: echoQuote("1")}
	agg := newTestAggregator(t, a, b)

	tokens, err := agg.Tokens(context.Background())
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}
	if len(tokens) != 4 {
		t.Fatalf("expected native + 3 deduplicated tokens, got %d", len(tokens))
	}
	if tokens[0].Address != model.NativeETHAddress || tokens[0].Symbol != "ETH" || tokens[0].Decimals != 18 {
		t.Fatalf("expected synthetic native entry first, got %+v", tokens[0])
	}
	seen := map[string]int{}
	for _, tok := range tokens {
		seen[tok.Address]++
	}
	for addr, n := range seen {
		if n != 1 {
			t.Fatalf("address %s appears %d times", addr, n)
		}
	}
}

func TestTokensNativeListedByProviderAppearsOnce(t *testing.T) {
	lister := &fakeProvider{
		key:    "totle",
		tokens: append(registryOf(daiAddress), model.Token{Address: model.NativeETHAddress, Symbol: "ETH", Decimals: 18}),
		quote:  echoQuote("1"),
	}
	agg := newTestAggregator(t, lister)

	tokens, err := agg.Tokens(context.Background())
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}
	count := 0
	for _, tok := range tokens {
		if tok.Address == model.NativeETHAddress {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("native entry must appear exactly once, got %d", count)
	}
}

func TestTokensSkipsFailedRegistry(t *testing.T) {
	ok := &fakeProvider{key: "oneinch", tokens: registryOf(daiAddress), quote: echoQuote("1")}
	down := &fakeProvider{key: "paraswap", tokensErr: fmt.Errorf("registry offline"), quote: echoQuote("1")}
	agg := newTestAggregator(t, down, ok)

	tokens, err := agg.Tokens(context.Background())
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected native + 1 token, got %d", len(tokens))
	}
}

func TestTokensAllRegistriesFailed(t *testing.T) {
	down1 := &fakeProvider{key: "oneinch", tokensErr: fmt.Errorf("offline"), quote: echoQuote("1")}
	down2 := &fakeProvider{key: "paraswap", tokensErr: fmt.Errorf("offline"), quote: echoQuote("1")}
	agg := newTestAggregator(t, down1, down2)

	_, err := agg.Tokens(context.Background())
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestFetchTradesRequiresUserAddress(t *testing.T) {
	p := &fakeProvider{key: "paraswap", tokens: registryOf(daiAddress, usdcAddress), quote: echoQuote("1")}
	agg := newTestAggregator(t, p)

	_, err := agg.FetchTrades(context.Background(), model.TradeRequest{
		QuoteRequest: model.QuoteRequest{
			SourceToken:      daiAddress,
			DestinationToken: usdcAddress,
			SourceAmount:     "1",
		},
	})
	if !clierr.Is(err, clierr.CodeNoWallet) {
		t.Fatalf("expected no-wallet error, got %v", err)
	}
}

func TestFetchTradesQuoteOnlyProviderGetsErrorEntry(t *testing.T) {
	builder := &fakeProvider{
		key:    "paraswap",
		tokens: registryOf(daiAddress, usdcAddress),
		quote:  echoQuote("1"),
		trade: func(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error) {
			return model.TradeResponse{
				QuoteResponse: model.QuoteResponse{
					SourceToken:       req.SourceToken,
					DestinationToken:  req.DestinationToken,
					SourceAmount:      req.SourceAmount,
					DestinationAmount: "99",
				},
				To:    "0x00000000000000000000000000000000000000bb",
				Data:  "0xdeadbeef",
				Value: "0",
			}, nil
		},
	}
	quoteOnly := &quoteOnlyFake{inner: &fakeProvider{key: "oneinch", tokens: registryOf(daiAddress, usdcAddress), quote: echoQuote("1")}}
	agg := newTestAggregator(t, builder, quoteOnly)

	results, err := agg.FetchTrades(context.Background(), model.TradeRequest{
		QuoteRequest: model.QuoteRequest{
			SourceToken:      daiAddress,
			DestinationToken: usdcAddress,
			SourceAmount:     "1",
		},
		UserAddress: "0x00000000000000000000000000000000000000cc",
		Slippage:    1,
	})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(results))
	}
	if results[0].Failed() {
		t.Fatalf("trade-capable provider must succeed: %s", results[0].Error)
	}
	if results[0].To == "" || results[0].Data == "" {
		t.Fatalf("expected prepared call fields, got %+v", results[0].TradeResponse)
	}
	if !results[1].Failed() {
		t.Fatal("quote-only provider must produce an error-tagged entry")
	}
	if !strings.Contains(results[1].Error, "prepared trades") {
		t.Fatalf("unexpected error text: %s", results[1].Error)
	}
}

func TestFetchTradesAnnotatesApprovals(t *testing.T) {
	builder := &fakeProvider{
		key:    "zeroex",
		tokens: registryOf(daiAddress, usdcAddress),
		quote:  echoQuote("1"),
		trade: func(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error) {
			return model.TradeResponse{
				QuoteResponse: model.QuoteResponse{
					SourceToken:       req.SourceToken,
					DestinationToken:  req.DestinationToken,
					SourceAmount:      req.SourceAmount,
					DestinationAmount: "50",
				},
				To:    "0x00000000000000000000000000000000000000bb",
				Data:  "0x00",
				Value: "0",
			}, nil
		},
	}
	checker := &fakeApprovalChecker{action: &approval.Action{Spender: "0x00000000000000000000000000000000000000bb"}}
	agg, err := New(Config{Clock: clock.NewMock(), Providers: []providers.Aggregator{builder}, Approvals: checker})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	results, err := agg.FetchTrades(context.Background(), model.TradeRequest{
		QuoteRequest: model.QuoteRequest{
			SourceToken:      daiAddress,
			DestinationToken: usdcAddress,
			SourceAmount:     "1000000",
		},
		UserAddress: "0x00000000000000000000000000000000000000cc",
	})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if !results[0].ApprovalNeeded {
		t.Fatal("expected approval needed")
	}
	if results[0].Approval == nil {
		t.Fatal("expected a deferred approval action")
	}
	if len(checker.calls) != 1 {
		t.Fatalf("expected one approval check, got %d", len(checker.calls))
	}
	if checker.calls[0].AmountAtomic != "1000000" {
		t.Fatalf("approval check must carry the trade amount, got %s", checker.calls[0].AmountAtomic)
	}
}

func TestFetchTradesApprovalCheckFailureIsConservative(t *testing.T) {
	builder := &fakeProvider{
		key:    "zeroex",
		tokens: registryOf(daiAddress, usdcAddress),
		quote:  echoQuote("1"),
		trade: func(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error) {
			return model.TradeResponse{
				QuoteResponse: model.QuoteResponse{
					SourceToken:       req.SourceToken,
					DestinationToken:  req.DestinationToken,
					SourceAmount:      req.SourceAmount,
					DestinationAmount: "50",
				},
				To:    "0x00000000000000000000000000000000000000bb",
				Data:  "0x00",
				Value: "0",
			}, nil
		},
	}
	checker := &fakeApprovalChecker{err: fmt.Errorf("rpc unreachable")}
	agg, err := New(Config{Clock: clock.NewMock(), Providers: []providers.Aggregator{builder}, Approvals: checker})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	results, err := agg.FetchTrades(context.Background(), model.TradeRequest{
		QuoteRequest: model.QuoteRequest{
			SourceToken:      daiAddress,
			DestinationToken: usdcAddress,
			SourceAmount:     "1",
		},
		UserAddress: "0x00000000000000000000000000000000000000cc",
	})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if results[0].Failed() {
		t.Fatalf("approval ambiguity must not fail the trade entry: %s", results[0].Error)
	}
	if !results[0].ApprovalNeeded {
		t.Fatal("ambiguous approval state must assume approval is needed")
	}
}

func TestFetchTradesSkipsApprovalForNativeSource(t *testing.T) {
	builder := &fakeProvider{
		key:    "zeroex",
		tokens: registryOf(daiAddress),
		quote:  echoQuote("1"),
		trade: func(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error) {
			return model.TradeResponse{
				QuoteResponse: model.QuoteResponse{
					SourceToken:       req.SourceToken,
					DestinationToken:  req.DestinationToken,
					SourceAmount:      req.SourceAmount,
					DestinationAmount: "50",
				},
				To:    "0x00000000000000000000000000000000000000bb",
				Data:  "0x00",
				Value: req.SourceAmount,
			}, nil
		},
	}
	checker := &fakeApprovalChecker{action: &approval.Action{}}
	agg, err := New(Config{Clock: clock.NewMock(), Providers: []providers.Aggregator{builder}, Approvals: checker})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	results, err := agg.FetchTrades(context.Background(), model.TradeRequest{
		QuoteRequest: model.QuoteRequest{
			SourceToken:      model.NativeETHAddress,
			DestinationToken: daiAddress,
			SourceAmount:     "1000000000000000000",
		},
		UserAddress: "0x00000000000000000000000000000000000000cc",
	})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if results[0].ApprovalNeeded {
		t.Fatal("native source must never need approval")
	}
	if len(checker.calls) != 0 {
		t.Fatalf("expected no approval checks, got %d", len(checker.calls))
	}
}
