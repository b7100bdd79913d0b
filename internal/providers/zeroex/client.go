package zeroex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/airswap/aggregator-aggregator/internal/httpx"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/providers"
	"github.com/airswap/aggregator-aggregator/internal/registry"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

const providerKey = "zeroex"

type Client struct {
	http    *httpx.Client
	baseURL string
	tokens  *providers.TokenFuture
}

func New(httpClient *httpx.Client, network int64) (*Client, error) {
	return NewWithBaseURL(httpClient, network, registry.ZeroExBaseURL)
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
		Capabilities: []string{"tokens", "quote", "trade"},
	}
}

type tokensResponse struct {
	Records []struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"records"`
}

func (c *Client) fetchTokens(ctx context.Context) ([]model.Token, error) {
	var resp tokensResponse
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/swap/v0/tokens", &resp); err != nil {
		return nil, err
	}
	out := make([]model.Token, 0, len(resp.Records))
	for _, t := range resp.Records {
		out = append(out, model.Token{Address: t.Address, Symbol: t.Symbol, Decimals: t.Decimals})
	}
	return out, nil
}

func (c *Client) Tokens(ctx context.Context) ([]model.Token, error) {
	return c.tokens.Wait(ctx)
}

type quoteResponse struct {
	Price     string `json:"price"`
	To        string `json:"to"`
	Data      string `json:"data"`
	Value     string `json:"value"`
	Gas       string `json:"gas"`
	BuyAmount string `json:"buyAmount"`
}

func (c *Client) fetchZeroExQuote(ctx context.Context, req model.QuoteRequest, taker string, slippage float64) (quoteResponse, error) {
	vals := url.Values{}
	vals.Set("sellToken", req.SourceToken)
	vals.Set("buyToken", req.DestinationToken)
	vals.Set("sellAmount", req.SourceAmount)
	if taker != "" {
		vals.Set("takerAddress", taker)
	}
	if slippage > 0 {
		vals.Set("slippagePercentage", strconv.FormatFloat(slippage/100, 'f', -1, 64))
	}

	var resp quoteResponse
	if _, err := c.http.GetJSON(ctx, fmt.Sprintf("%s/swap/v0/quote?%s", c.baseURL, vals.Encode()), &resp); err != nil {
		return quoteResponse{}, err
	}
	if resp.BuyAmount == "" {
		return quoteResponse{}, clierr.New(clierr.CodeProviderFailed, "0x quote missing buy amount")
	}
	return resp, nil
}

// FetchQuote converts failures into an error-tagged response instead of
// returning an error; the coordinator accepts either style.
func (c *Client) FetchQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
	out := model.QuoteResponse{
		SourceToken:      req.SourceToken,
		DestinationToken: req.DestinationToken,
		SourceAmount:     req.SourceAmount,
	}
	resp, err := c.fetchZeroExQuote(ctx, req, "", 0)
	if err != nil {
		out.DestinationAmount = "0"
		out.Error = err.Error()
		return out, nil
	}
	out.DestinationAmount = resp.BuyAmount
	return out, nil
}

// FetchTrade uses the same quote endpoint: with a taker address the 0x
// payload already carries the executable transaction fields.
func (c *Client) FetchTrade(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error) {
	resp, err := c.fetchZeroExQuote(ctx, req.QuoteRequest, req.UserAddress, req.Slippage)
	if err != nil {
		return model.TradeResponse{}, err
	}
	if resp.To == "" || resp.Data == "" {
		return model.TradeResponse{}, clierr.New(clierr.CodeProviderFailed, "0x returned incomplete transaction payload")
	}

	return model.TradeResponse{
		QuoteResponse: model.QuoteResponse{
			SourceToken:       req.SourceToken,
			DestinationToken:  req.DestinationToken,
			SourceAmount:      req.SourceAmount,
			DestinationAmount: resp.BuyAmount,
		},
		To:    resp.To,
		Data:  resp.Data,
		Value: resp.Value,
		Gas:   resp.Gas,
	}, nil
}
