// Package dexag adapts dex.ag, whose price API is keyed by token symbol and
// display decimal amounts rather than addresses and atomic units. The
// adapter resolves addresses through its own registry and round-trips the
// amounts through exact decimal arithmetic.
package dexag

import (
	"context"
	"fmt"
	"net/url"

	"github.com/airswap/aggregator-aggregator/internal/amount"
	"github.com/airswap/aggregator-aggregator/internal/httpx"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/providers"
	"github.com/airswap/aggregator-aggregator/internal/registry"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

const providerKey = "dexag"

type Client struct {
	http    *httpx.Client
	baseURL string
	tokens  *providers.TokenFuture
}

func New(httpClient *httpx.Client, network int64) (*Client, error) {
	return NewWithBaseURL(httpClient, network, registry.DexagBaseURL)
}

func NewWithBaseURL(httpClient *httpx.Client, network int64, baseURL string) (*Client, error) {
	if err := providers.ValidateNetwork(providerKey, network); err != nil {
		return nil, err
	}
	c := &Client{http: httpClient, baseURL: baseURL}
	c.tokens = providers.StartTokenFetch(c.fetchTokens)
	return c, nil
}

func (c *Client) Key() string { return providerKey }

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         providerKey,
		BaseURL:      c.baseURL,
		Capabilities: []string{"tokens", "quote"},
	}
}

func (c *Client) fetchTokens(ctx context.Context) ([]model.Token, error) {
	var resp []model.Token
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/token-list-full", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Tokens(ctx context.Context) ([]model.Token, error) {
	return c.tokens.Wait(ctx)
}

func (c *Client) resolveToken(ctx context.Context, address string) (model.Token, error) {
	tokens, err := c.Tokens(ctx)
	if err != nil {
		return model.Token{}, err
	}
	token, ok := providers.Lookup(tokens, address)
	if !ok {
		return model.Token{}, clierr.New(clierr.CodeTokenNotSupported, fmt.Sprintf("token %s not supported by dexag", address))
	}
	return token, nil
}

type priceResponse struct {
	Dex   string `json:"dex"`
	Price string `json:"price"`
}

func (c *Client) FetchQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
	source, err := c.resolveToken(ctx, req.SourceToken)
	if err != nil {
		return model.QuoteResponse{}, err
	}
	destination, err := c.resolveToken(ctx, req.DestinationToken)
	if err != nil {
		return model.QuoteResponse{}, err
	}

	sourceDisplay, err := amount.FormatAtomic(req.SourceAmount, source.Decimals)
	if err != nil {
		return model.QuoteResponse{}, err
	}

	vals := url.Values{}
	vals.Set("from", source.Symbol)
	vals.Set("to", destination.Symbol)
	vals.Set("fromAmount", sourceDisplay)
	vals.Set("dex", "ag")

	var resp priceResponse
	if _, err := c.http.GetJSON(ctx, fmt.Sprintf("%s/price?%s", c.baseURL, vals.Encode()), &resp); err != nil {
		return model.QuoteResponse{}, err
	}
	if resp.Price == "" {
		return model.QuoteResponse{}, clierr.New(clierr.CodeProviderFailed, "dexag price response missing rate")
	}

	// price is a rate: destination display = source display * price. Both
	// conversions stay in exact big arithmetic; the destination amount is
	// truncated to the destination token's decimals.
	destinationDisplay, err := amount.MulDisplay(sourceDisplay, resp.Price)
	if err != nil {
		return model.QuoteResponse{}, clierr.Wrap(clierr.CodeProviderFailed, "dexag returned malformed rate", err)
	}
	destinationAtomic, err := amount.ParseDisplayTruncate(destinationDisplay, destination.Decimals)
	if err != nil {
		return model.QuoteResponse{}, err
	}

	return model.QuoteResponse{
		SourceToken:       req.SourceToken,
		DestinationToken:  req.DestinationToken,
		SourceAmount:      req.SourceAmount,
		DestinationAmount: destinationAtomic,
	}, nil
}
