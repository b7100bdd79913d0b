package app

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/airswap/aggregator-aggregator/internal/amount"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/normalize"
	"github.com/airswap/aggregator-aggregator/internal/providers"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

const quoteTTL = 10 * time.Second

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var fromArg, toArg, amountBase, amountDecimal string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compare swap quotes across every configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := s.buildQuoteRequest(fromArg, toArg, amountBase, amountDecimal)
			if err != nil {
				return err
			}

			key := cacheKey(trimRootPath(cmd.CommandPath()), map[string]any{
				"from":   req.SourceToken,
				"to":     req.DestinationToken,
				"amount": req.SourceAmount,
			})
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, quoteTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				entries, err := s.agg.FetchQuotes(ctx, req)
				if err != nil {
					return nil, nil, nil, false, err
				}
				statuses, warnings, partial := quoteDiagnostics(entries)
				if failed := countFailed(entries); failed == len(entries) {
					return nil, statuses, warnings, true, clierr.New(clierr.CodeUnavailable, "every provider failed to quote")
				}
				rankQuotes(entries)
				return entries, statuses, warnings, partial, nil
			})
		},
	}
	cmd.Flags().StringVar(&fromArg, "from", "", "Source token (address, symbol, or ETH)")
	cmd.Flags().StringVar(&toArg, "to", "", "Destination token (address, symbol, or ETH)")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Source amount in atomic units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Source amount in display units")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// buildQuoteRequest canonicalizes token inputs and the amount before any
// provider work. The canonical form feeds both the cache key and the
// coordinator, so equivalent spellings of a request share one cache entry.
func (s *runtimeState) buildQuoteRequest(fromArg, toArg, amountBase, amountDecimal string) (model.QuoteRequest, error) {
	if strings.TrimSpace(amountBase) == "" && strings.TrimSpace(amountDecimal) == "" {
		return model.QuoteRequest{}, clierr.New(clierr.CodeUsage, "provide --amount or --amount-decimal")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()

	src, err := s.resolveToken(ctx, fromArg)
	if err != nil {
		return model.QuoteRequest{}, err
	}
	dst, err := s.resolveToken(ctx, toArg)
	if err != nil {
		return model.QuoteRequest{}, err
	}

	decimals := s.lookupDecimals(ctx, src)
	base, _, err := amount.Normalize(amountBase, amountDecimal, decimals)
	if err != nil {
		return model.QuoteRequest{}, err
	}

	return model.QuoteRequest{
		SourceToken:      src,
		DestinationToken: dst,
		SourceAmount:     base,
	}, nil
}

// resolveToken accepts a hex address, the literal ETH, or a symbol known to
// the unified registry, and returns the canonical lowercase address.
func (s *runtimeState) resolveToken(ctx context.Context, input string) (string, error) {
	v := strings.TrimSpace(input)
	if v == "" {
		return "", clierr.New(clierr.CodeUsage, "token is required")
	}
	if strings.EqualFold(v, "eth") {
		return model.NativeETHAddress, nil
	}
	if strings.HasPrefix(strings.ToLower(v), "0x") {
		return normalize.LowerAddress(v), nil
	}
	tokens, err := s.agg.Tokens(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, v) {
			return t.Address, nil
		}
	}
	return "", clierr.New(clierr.CodeTokenNotSupported, fmt.Sprintf("unknown token symbol %q", v))
}

func (s *runtimeState) lookupDecimals(ctx context.Context, address string) int {
	if normalize.IsNative(address) {
		return 18
	}
	tokens, err := s.agg.Tokens(ctx)
	if err != nil {
		return 18
	}
	if t, ok := providers.Lookup(tokens, address); ok && t.Decimals > 0 {
		return t.Decimals
	}
	return 18
}

// rankQuotes orders entries by destination amount descending. Failed
// entries sink to the bottom; ties keep the canonical provider order.
func rankQuotes(entries []model.AggregatedQuoteResponse) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Failed() != b.Failed() {
			return !a.Failed()
		}
		if a.Failed() {
			return false
		}
		return compareAtomic(a.DestinationAmount, b.DestinationAmount) > 0
	})
}

func compareAtomic(a, b string) int {
	av, aok := new(big.Int).SetString(a, 10)
	bv, bok := new(big.Int).SetString(b, 10)
	if !aok || !bok {
		return strings.Compare(a, b)
	}
	return av.Cmp(bv)
}

func quoteDiagnostics(entries []model.AggregatedQuoteResponse) ([]model.ProviderStatus, []string, bool) {
	statuses := make([]model.ProviderStatus, 0, len(entries))
	warnings := []string{}
	partial := false
	for _, entry := range entries {
		status := "ok"
		if entry.Failed() {
			status = "error"
			partial = true
			warnings = append(warnings, fmt.Sprintf("provider %s failed: %s", entry.Aggregator, entry.Error))
		}
		statuses = append(statuses, model.ProviderStatus{
			Name:      entry.Aggregator,
			Status:    status,
			LatencyMS: entry.FetchTimeMS,
		})
	}
	return statuses, warnings, partial
}

func countFailed(entries []model.AggregatedQuoteResponse) int {
	n := 0
	for _, entry := range entries {
		if entry.Failed() {
			n++
		}
	}
	return n
}
