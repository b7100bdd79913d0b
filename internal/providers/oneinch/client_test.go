package oneinch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/airswap/aggregator-aggregator/internal/httpx"
	"github.com/airswap/aggregator-aggregator/internal/model"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

func newOneInchServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"DAI":  map[string]any{"address": "0x6B175474E89094C44Da98b954EedeAC495271d0F", "symbol": "DAI", "decimals": 18},
			"USDC": map[string]any{"address": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "symbol": "USDC", "decimals": 6},
		})
	})
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("fromTokenAddress") == "" || q.Get("toTokenAddress") == "" || q.Get("amount") == "" {
			http.Error(w, "missing query params", http.StatusBadRequest)
			return
		}
		writeJSON(t, w, map[string]any{
			"fromTokenAmount": q.Get("amount"),
			"toTokenAmount":   "1995000000",
		})
	})
	return httptest.NewServer(mux)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestTokensFlattensSymbolMap(t *testing.T) {
	srv := newOneInchServer(t)
	defer srv.Close()

	c, err := NewWithBaseURL(httpx.New(2*time.Second, 0), model.EthereumMainnet, srv.URL)
	if err != nil {
		t.Fatalf("NewWithBaseURL failed: %v", err)
	}
	tokens, err := c.Tokens(context.Background())
	if err != nil {
		t.Fatalf("Tokens failed: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	for _, tok := range tokens {
		if tok.Address != "0x6b175474e89094c44da98b954eedeac495271d0f" &&
			tok.Address != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
			t.Fatalf("unexpected or non-lowercase address: %s", tok.Address)
		}
	}
}

func TestFetchQuote(t *testing.T) {
	srv := newOneInchServer(t)
	defer srv.Close()

	c, err := NewWithBaseURL(httpx.New(2*time.Second, 0), model.EthereumMainnet, srv.URL)
	if err != nil {
		t.Fatalf("NewWithBaseURL failed: %v", err)
	}
	quote, err := c.FetchQuote(context.Background(), model.QuoteRequest{
		SourceToken:      "0x6b175474e89094c44da98b954eedeac495271d0f",
		DestinationToken: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		SourceAmount:     "1000000000000000000",
	})
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if quote.DestinationAmount != "1995000000" {
		t.Fatalf("unexpected destination amount: %s", quote.DestinationAmount)
	}
	if quote.SourceToken != "0x6b175474e89094c44da98b954eedeac495271d0f" {
		t.Fatalf("request tokens must be echoed, got %s", quote.SourceToken)
	}
}

func TestFetchQuoteMissingAmountFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tokens" {
			writeJSON(t, w, map[string]any{})
			return
		}
		writeJSON(t, w, map[string]any{"fromTokenAmount": "1"})
	}))
	defer srv.Close()

	c, err := NewWithBaseURL(httpx.New(2*time.Second, 0), model.EthereumMainnet, srv.URL)
	if err != nil {
		t.Fatalf("NewWithBaseURL failed: %v", err)
	}
	_, err = c.FetchQuote(context.Background(), model.QuoteRequest{
		SourceToken:      "0x6b175474e89094c44da98b954eedeac495271d0f",
		DestinationToken: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		SourceAmount:     "1",
	})
	if !clierr.Is(err, clierr.CodeProviderFailed) {
		t.Fatalf("expected provider failure, got %v", err)
	}
}

func TestNewRejectsUnsupportedNetwork(t *testing.T) {
	_, err := NewWithBaseURL(httpx.New(2*time.Second, 0), 56, "http://test.invalid")
	if !clierr.Is(err, clierr.CodeUnsupportedNetwork) {
		t.Fatalf("expected unsupported network error, got %v", err)
	}
}
