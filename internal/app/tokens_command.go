package app

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/airswap/aggregator-aggregator/internal/model"
)

const tokensTTL = 10 * time.Minute

func (s *runtimeState) newTokensCommand() *cobra.Command {
	root := &cobra.Command{Use: "tokens", Short: "Token registry commands"}

	var limit int
	var symbol string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the unified token registry across all providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := cacheKey(trimRootPath(cmd.CommandPath()), map[string]any{
				"limit":  limit,
				"symbol": symbol,
			})
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, tokensTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				tokens, err := s.agg.Tokens(ctx)
				status := []model.ProviderStatus{{Name: "registry", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
				if err != nil {
					return nil, status, nil, false, err
				}
				tokens = filterTokens(tokens, symbol)
				if limit > 0 && len(tokens) > limit {
					tokens = tokens[:limit]
				}
				return tokens, status, nil, false, nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "Maximum tokens to return (0 means all)")
	list.Flags().StringVar(&symbol, "symbol", "", "Filter by exact symbol (case-insensitive)")
	root.AddCommand(list)
	return root
}

func filterTokens(tokens []model.Token, symbol string) []model.Token {
	if symbol == "" {
		return tokens
	}
	filtered := make([]model.Token, 0, 4)
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
