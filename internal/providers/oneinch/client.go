package oneinch

import (
	"context"
	"fmt"
	"net/url"

	"github.com/airswap/aggregator-aggregator/internal/httpx"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/providers"
	"github.com/airswap/aggregator-aggregator/internal/registry"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

const providerKey = "oneinch"

type Client struct {
	http    *httpx.Client
	baseURL string
	tokens  *providers.TokenFuture
}

func New(httpClient *httpx.Client, network int64) (*Client, error) {
	return NewWithBaseURL(httpClient, network, registry.OneInchBaseURL)
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

type wireToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// 1inch keys its token list by symbol; only the values matter here.
func (c *Client) fetchTokens(ctx context.Context) ([]model.Token, error) {
	var resp map[string]wireToken
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/tokens", &resp); err != nil {
		return nil, err
	}
	out := make([]model.Token, 0, len(resp))
	for _, t := range resp {
		out = append(out, model.Token{Address: t.Address, Symbol: t.Symbol, Decimals: t.Decimals})
	}
	return out, nil
}

func (c *Client) Tokens(ctx context.Context) ([]model.Token, error) {
	return c.tokens.Wait(ctx)
}

type quoteResponse struct {
	ToTokenAmount   string `json:"toTokenAmount"`
	FromTokenAmount string `json:"fromTokenAmount"`
}

func (c *Client) FetchQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
	vals := url.Values{}
	vals.Set("fromTokenAddress", req.SourceToken)
	vals.Set("toTokenAddress", req.DestinationToken)
	vals.Set("amount", req.SourceAmount)
	vals.Set("disableEstimate", "false")
	vals.Set("slippage", "1")

	var resp quoteResponse
	if _, err := c.http.GetJSON(ctx, fmt.Sprintf("%s/quote?%s", c.baseURL, vals.Encode()), &resp); err != nil {
		return model.QuoteResponse{}, err
	}
	if resp.ToTokenAmount == "" {
		return model.QuoteResponse{}, clierr.New(clierr.CodeProviderFailed, "1inch quote missing destination amount")
	}

	return model.QuoteResponse{
		SourceToken:       req.SourceToken,
		DestinationToken:  req.DestinationToken,
		SourceAmount:      req.SourceAmount,
		DestinationAmount: resp.ToTokenAmount,
	}, nil
}
