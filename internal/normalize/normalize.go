// Package normalize maps the canonical native-ETH sentinel address to and
// from each provider's own convention. Providers disagree on how the native
// coin is spelled: most use the all-e filler address, Totle uses the zero
// address itself. The mapping is a per-provider lookup table, not a single
// constant.
package normalize

import (
	"strings"

	"github.com/airswap/aggregator-aggregator/internal/model"
)

// EEEAddress is the all-e native-asset filler used by most providers.
const EEEAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

var nativeByProvider = map[string]string{
	"paraswap": EEEAddress,
	"oneinch":  EEEAddress,
	"totle":    model.NativeETHAddress,
	"dexag":    EEEAddress,
	"zeroex":   EEEAddress,
}

// NativeFor returns the native-asset sentinel the given provider expects on
// the wire.
func NativeFor(providerKey string) (string, bool) {
	v, ok := nativeByProvider[strings.ToLower(providerKey)]
	return v, ok
}

// IsNative reports whether addr is the canonical native-ETH sentinel.
func IsNative(addr string) bool {
	return strings.EqualFold(addr, model.NativeETHAddress)
}

// LowerAddress normalizes an address for registry keying.
func LowerAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// RequestTokens rewrites the canonical native sentinel into the provider's
// own convention. Applied to every request leaving the coordinator.
func RequestTokens(req model.QuoteRequest, providerKey string) model.QuoteRequest {
	native, ok := NativeFor(providerKey)
	if !ok {
		return req
	}
	req.SourceToken = fixOutbound(req.SourceToken, native)
	req.DestinationToken = fixOutbound(req.DestinationToken, native)
	return req
}

// TradeRequestTokens is RequestTokens for the trade shape; user address and
// slippage pass through untouched.
func TradeRequestTokens(req model.TradeRequest, providerKey string) model.TradeRequest {
	req.QuoteRequest = RequestTokens(req.QuoteRequest, providerKey)
	return req
}

// ResponseTokens collapses the provider's native sentinel back to the
// canonical zero address. Applied to every response entering the
// coordinator, with the same provider key the request went out with.
func ResponseTokens(resp model.QuoteResponse, providerKey string) model.QuoteResponse {
	native, ok := NativeFor(providerKey)
	if !ok {
		return resp
	}
	resp.SourceToken = fixInbound(resp.SourceToken, native)
	resp.DestinationToken = fixInbound(resp.DestinationToken, native)
	return resp
}

// TradeResponseTokens is ResponseTokens for the trade shape.
func TradeResponseTokens(resp model.TradeResponse, providerKey string) model.TradeResponse {
	resp.QuoteResponse = ResponseTokens(resp.QuoteResponse, providerKey)
	return resp
}

func fixOutbound(addr, native string) string {
	if IsNative(addr) {
		return native
	}
	return addr
}

func fixInbound(addr, native string) string {
	if strings.EqualFold(addr, native) {
		return model.NativeETHAddress
	}
	return addr
}

// ProviderKeys lists every provider key the sentinel table knows about, in
// no particular order.
func ProviderKeys() []string {
	keys := make([]string, 0, len(nativeByProvider))
	for k := range nativeByProvider {
		keys = append(keys, k)
	}
	return keys
}
