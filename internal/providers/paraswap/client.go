package paraswap

import (
	"context"
	"fmt"

	"github.com/airswap/aggregator-aggregator/internal/httpx"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/providers"
	"github.com/airswap/aggregator-aggregator/internal/registry"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

const providerKey = "paraswap"

type Client struct {
	http    *httpx.Client
	baseURL string
	network int64
	tokens  *providers.TokenFuture
}

func New(httpClient *httpx.Client, network int64) (*Client, error) {
	return NewWithBaseURL(httpClient, network, registry.ParaswapBaseURL)
}

func NewWithBaseURL(httpClient *httpx.Client, network int64, baseURL string) (*Client, error) {
	if err := providers.ValidateNetwork(providerKey, network); err != nil {
		return nil, err
	}
	c := &Client{http: httpClient, baseURL: baseURL, network: network}
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
	Tokens []struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"tokens"`
}

func (c *Client) fetchTokens(ctx context.Context) ([]model.Token, error) {
	var resp tokensResponse
	if _, err := c.http.GetJSON(ctx, fmt.Sprintf("%s/tokens/%d", c.baseURL, c.network), &resp); err != nil {
		return nil, err
	}
	out := make([]model.Token, 0, len(resp.Tokens))
	for _, t := range resp.Tokens {
		out = append(out, model.Token{Address: t.Address, Symbol: t.Symbol, Decimals: t.Decimals})
	}
	return out, nil
}

func (c *Client) Tokens(ctx context.Context) ([]model.Token, error) {
	return c.tokens.Wait(ctx)
}

type route struct {
	Exchange   string `json:"exchange"`
	Percent    string `json:"percent"`
	SrcAmount  string `json:"srcAmount"`
	DestAmount string `json:"destAmount"`
}

type pricesResponse struct {
	PriceRoute struct {
		Amount    string  `json:"amount"`
		BestRoute []route `json:"bestRoute"`
	} `json:"priceRoute"`
}

func (c *Client) fetchPrices(ctx context.Context, req model.QuoteRequest) (pricesResponse, error) {
	url := fmt.Sprintf("%s/prices/%d/%s/%s/%s", c.baseURL, c.network,
		req.SourceToken, req.DestinationToken, req.SourceAmount)
	var resp pricesResponse
	if _, err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return pricesResponse{}, err
	}
	return resp, nil
}

// FetchQuote lets failures propagate; the coordinator isolates them.
func (c *Client) FetchQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
	prices, err := c.fetchPrices(ctx, req)
	if err != nil {
		return model.QuoteResponse{}, err
	}
	if prices.PriceRoute.Amount == "" {
		return model.QuoteResponse{}, clierr.New(clierr.CodeProviderFailed, "paraswap quote missing destination amount")
	}
	return model.QuoteResponse{
		SourceToken:       req.SourceToken,
		DestinationToken:  req.DestinationToken,
		SourceAmount:      req.SourceAmount,
		DestinationAmount: prices.PriceRoute.Amount,
	}, nil
}

type transactionRequest struct {
	PriceRoute struct {
		BestRoute []route `json:"bestRoute"`
	} `json:"priceRoute"`
	SrcToken    string `json:"srcToken"`
	DestToken   string `json:"destToken"`
	SrcAmount   string `json:"srcAmount"`
	DestAmount  string `json:"destAmount"`
	UserAddress string `json:"userAddress"`
	Slippage    string `json:"slippage,omitempty"`
}

type transactionResponse struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
	Gas   string `json:"gas"`
}

// FetchTrade re-quotes for the freshest route, then asks Paraswap to build
// the swap transaction for it.
func (c *Client) FetchTrade(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error) {
	prices, err := c.fetchPrices(ctx, req.QuoteRequest)
	if err != nil {
		return model.TradeResponse{}, err
	}
	if prices.PriceRoute.Amount == "" {
		return model.TradeResponse{}, clierr.New(clierr.CodeProviderFailed, "paraswap trade missing price route")
	}

	body := transactionRequest{
		SrcToken:    req.SourceToken,
		DestToken:   req.DestinationToken,
		SrcAmount:   req.SourceAmount,
		DestAmount:  prices.PriceRoute.Amount,
		UserAddress: req.UserAddress,
	}
	body.PriceRoute.BestRoute = prices.PriceRoute.BestRoute
	if req.Slippage > 0 {
		body.Slippage = fmt.Sprintf("%g", req.Slippage)
	}

	var resp transactionResponse
	url := fmt.Sprintf("%s/transactions/%d", c.baseURL, c.network)
	if _, err := c.http.PostJSON(ctx, url, body, &resp); err != nil {
		return model.TradeResponse{}, err
	}
	if resp.To == "" || resp.Data == "" {
		return model.TradeResponse{}, clierr.New(clierr.CodeProviderFailed, "paraswap returned incomplete transaction payload")
	}

	return model.TradeResponse{
		QuoteResponse: model.QuoteResponse{
			SourceToken:       req.SourceToken,
			DestinationToken:  req.DestinationToken,
			SourceAmount:      req.SourceAmount,
			DestinationAmount: prices.PriceRoute.Amount,
		},
		To:    resp.To,
		Data:  resp.Data,
		Value: resp.Value,
		Gas:   resp.Gas,
	}, nil
}
