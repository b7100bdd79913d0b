package model

import "time"

const EnvelopeVersion = "v1"

// EthereumMainnet is the only network the whole system supports.
const EthereumMainnet = int64(1)

// NativeETHAddress is the canonical sentinel for the chain's native coin.
// Provider-specific sentinels are collapsed to this value on every response.
const NativeETHAddress = "0x0000000000000000000000000000000000000000"

// Token is one entry of a provider's registry. Addresses are lowercase
// normalized on ingestion; comparisons are case-insensitive by construction.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// QuoteRequest is the canonical swap request, independent of any provider's
// wire format. SourceAmount is an integer string in the source token's
// atomic unit.
type QuoteRequest struct {
	SourceToken      string `json:"sourceToken"`
	DestinationToken string `json:"destinationToken"`
	SourceAmount     string `json:"sourceAmount"`
}

// QuoteResponse is the canonical quote shape. DestinationAmount is "0" and
// Error is set when the provider call failed; such entries are not rankable.
type QuoteResponse struct {
	SourceToken       string `json:"sourceToken"`
	DestinationToken  string `json:"destinationToken"`
	SourceAmount      string `json:"sourceAmount"`
	DestinationAmount string `json:"destinationAmount"`
	Error             string `json:"error,omitempty"`
}

// Failed reports whether the entry is an error placeholder rather than a
// valid quote.
func (q QuoteResponse) Failed() bool { return q.Error != "" }

// AggregatedQuoteResponse is a QuoteResponse annotated by the coordinator
// with the provider identifier and the wall-clock time of that provider's
// branch in milliseconds.
type AggregatedQuoteResponse struct {
	QuoteResponse
	FetchTimeMS int64  `json:"fetchTime"`
	Aggregator  string `json:"aggregator"`
}

// TradeRequest extends the quote shape with the account that will execute
// the swap and the accepted slippage in percent.
type TradeRequest struct {
	QuoteRequest
	UserAddress string  `json:"userAddress"`
	Slippage    float64 `json:"slippage"`
}

// TradeResponse carries the prepared on-chain call alongside the quote.
type TradeResponse struct {
	QuoteResponse
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
	Gas   string `json:"gas,omitempty"`
}

// AggregatedTradeResponse is the trade analogue of AggregatedQuoteResponse,
// post-processed with the spending-approval status for the source token.
type AggregatedTradeResponse struct {
	TradeResponse
	FetchTimeMS    int64  `json:"fetchTime"`
	Aggregator     string `json:"aggregator"`
	ApprovalNeeded bool   `json:"approvalNeeded"`
}

// ProviderInfo describes one configured provider adapter.
type ProviderInfo struct {
	Name         string   `json:"name"`
	BaseURL      string   `json:"base_url"`
	Capabilities []string `json:"capabilities"`
}

// ProviderStatus is per-provider call metadata surfaced in envelope meta.
type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// Envelope is the uniform CLI output shape.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}
