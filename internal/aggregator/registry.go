package aggregator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/normalize"
	"github.com/airswap/aggregator-aggregator/internal/providers"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

// unifiedRegistry merges every provider's token list into a single
// deduplicated view. The merge starts at coordinator construction and
// settles once; a provider whose registry fetch fails is skipped with a
// warning and only the all-providers-failed case errors the whole view.
type unifiedRegistry struct {
	done   chan struct{}
	tokens []model.Token
	err    error
}

func newUnifiedRegistry(provs []providers.Aggregator, log *logrus.Logger) *unifiedRegistry {
	u := &unifiedRegistry{done: make(chan struct{})}
	go u.build(provs, log)
	return u
}

func (u *unifiedRegistry) build(provs []providers.Aggregator, log *logrus.Logger) {
	defer close(u.done)

	lists := make([][]model.Token, len(provs))
	errs := make([]error, len(provs))
	var wg sync.WaitGroup
	for i, p := range provs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lists[i], errs[i] = p.Tokens(context.Background())
		}()
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			log.WithField("provider", provs[i].Key()).WithError(err).
				Debug("token registry excluded from unified view")
		}
	}
	if failed == len(provs) {
		u.err = clierr.Wrap(clierr.CodeUnavailable, "no provider token registry is reachable", errs[0])
		return
	}

	// Native ETH leads the list and wins any dedup conflict, so it appears
	// exactly once even when a provider lists the zero address itself.
	merged := []model.Token{{
		Address:  model.NativeETHAddress,
		Symbol:   "ETH",
		Decimals: 18,
	}}
	seen := map[string]bool{model.NativeETHAddress: true}
	for _, list := range lists {
		for _, t := range list {
			addr := normalize.LowerAddress(t.Address)
			if seen[addr] {
				continue
			}
			seen[addr] = true
			t.Address = addr
			merged = append(merged, t)
		}
	}
	u.tokens = merged
}

func (u *unifiedRegistry) wait(ctx context.Context) ([]model.Token, error) {
	select {
	case <-ctx.Done():
		return nil, clierr.Wrap(clierr.CodeUnavailable, "unified token registry fetch cancelled", ctx.Err())
	case <-u.done:
		return u.tokens, u.err
	}
}
