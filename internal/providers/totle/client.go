package totle

import (
	"context"

	"github.com/airswap/aggregator-aggregator/internal/httpx"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/providers"
	"github.com/airswap/aggregator-aggregator/internal/registry"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

const providerKey = "totle"

type Client struct {
	http    *httpx.Client
	baseURL string
	tokens  *providers.TokenFuture
}

func New(httpClient *httpx.Client, network int64) (*Client, error) {
	return NewWithBaseURL(httpClient, network, registry.TotleBaseURL)
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
	Tokens []struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"tokens"`
}

func (c *Client) fetchTokens(ctx context.Context) ([]model.Token, error) {
	var resp tokensResponse
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/tokens", &resp); err != nil {
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

type swapRequest struct {
	Swap struct {
		SourceAsset                 string `json:"sourceAsset"`
		DestinationAsset            string `json:"destinationAsset"`
		SourceAmount                string `json:"sourceAmount"`
		MaxMarketSlippagePercent    string `json:"maxMarketSlippagePercent"`
		MaxExecutionSlippagePercent string `json:"maxExecutionSlippagePercent"`
	} `json:"swap"`
	Config struct {
		Transactions bool `json:"transactions"`
	} `json:"config"`
}

type swapResponse struct {
	Success  bool `json:"success"`
	Response struct {
		Summary []struct {
			SourceAmount      string `json:"sourceAmount"`
			DestinationAmount string `json:"destinationAmount"`
		} `json:"summary"`
		Transactions []struct {
			Type string `json:"type"`
			Tx   struct {
				To    string `json:"to"`
				Data  string `json:"data"`
				Value string `json:"value"`
				Gas   string `json:"gas"`
			} `json:"tx"`
		} `json:"transactions"`
	} `json:"response"`
}

func buildSwapRequest(req model.QuoteRequest, includeTransaction bool) swapRequest {
	var body swapRequest
	body.Swap.SourceAsset = req.SourceToken
	body.Swap.DestinationAsset = req.DestinationToken
	body.Swap.SourceAmount = req.SourceAmount
	body.Swap.MaxMarketSlippagePercent = "10"
	body.Swap.MaxExecutionSlippagePercent = "3"
	body.Config.Transactions = includeTransaction
	return body
}

func (c *Client) fetchSwap(ctx context.Context, req model.QuoteRequest, includeTransaction bool) (swapResponse, error) {
	var resp swapResponse
	if _, err := c.http.PostJSON(ctx, c.baseURL+"/swap", buildSwapRequest(req, includeTransaction), &resp); err != nil {
		return swapResponse{}, err
	}
	if !resp.Success || len(resp.Response.Summary) == 0 {
		return swapResponse{}, clierr.New(clierr.CodeProviderFailed, "totle swap response has no summary")
	}
	return resp, nil
}

// FetchQuote never returns an error: failures come back as an error-tagged
// response with a zero destination amount, matching the provider's original
// adapter behavior. The coordinator treats both styles the same.
func (c *Client) FetchQuote(ctx context.Context, req model.QuoteRequest) (model.QuoteResponse, error) {
	out := model.QuoteResponse{
		SourceToken:      req.SourceToken,
		DestinationToken: req.DestinationToken,
		SourceAmount:     req.SourceAmount,
	}
	resp, err := c.fetchSwap(ctx, req, false)
	if err != nil {
		out.DestinationAmount = "0"
		out.Error = err.Error()
		return out, nil
	}
	out.DestinationAmount = resp.Response.Summary[0].DestinationAmount
	return out, nil
}

func (c *Client) FetchTrade(ctx context.Context, req model.TradeRequest) (model.TradeResponse, error) {
	resp, err := c.fetchSwap(ctx, req.QuoteRequest, true)
	if err != nil {
		return model.TradeResponse{}, err
	}
	if len(resp.Response.Transactions) == 0 {
		return model.TradeResponse{}, clierr.New(clierr.CodeProviderFailed, "totle swap response has no transactions")
	}
	tx := resp.Response.Transactions[len(resp.Response.Transactions)-1].Tx
	if tx.To == "" || tx.Data == "" {
		return model.TradeResponse{}, clierr.New(clierr.CodeProviderFailed, "totle returned incomplete transaction payload")
	}

	return model.TradeResponse{
		QuoteResponse: model.QuoteResponse{
			SourceToken:       req.SourceToken,
			DestinationToken:  req.DestinationToken,
			SourceAmount:      req.SourceAmount,
			DestinationAmount: resp.Response.Summary[0].DestinationAmount,
		},
		To:    tx.To,
		Data:  tx.Data,
		Value: tx.Value,
		Gas:   tx.Gas,
	}, nil
}
