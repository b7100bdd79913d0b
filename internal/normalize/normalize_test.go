package normalize

import (
	"testing"

	"github.com/airswap/aggregator-aggregator/internal/model"
)

const dai = "0x6b175474e89094c44da98b954eedeac495271d0f"

func TestRequestTokensRewritesNativeSentinel(t *testing.T) {
	req := model.QuoteRequest{
		SourceToken:      model.NativeETHAddress,
		DestinationToken: dai,
		SourceAmount:     "1000000000000000000",
	}

	out := RequestTokens(req, "paraswap")
	if out.SourceToken != EEEAddress {
		t.Fatalf("expected paraswap native sentinel, got %s", out.SourceToken)
	}
	if out.DestinationToken != dai {
		t.Fatalf("non-native token must pass through, got %s", out.DestinationToken)
	}
	if out.SourceAmount != req.SourceAmount {
		t.Fatalf("amount must pass through, got %s", out.SourceAmount)
	}

	// Totle's own convention is the zero address; the rewrite is identity.
	out = RequestTokens(req, "totle")
	if out.SourceToken != model.NativeETHAddress {
		t.Fatalf("totle native sentinel should stay canonical, got %s", out.SourceToken)
	}
}

func TestRoundTripRestoresCanonicalAddresses(t *testing.T) {
	req := model.QuoteRequest{
		SourceToken:      model.NativeETHAddress,
		DestinationToken: dai,
		SourceAmount:     "42",
	}

	for _, key := range ProviderKeys() {
		outbound := RequestTokens(req, key)
		resp := ResponseTokens(model.QuoteResponse{
			SourceToken:      outbound.SourceToken,
			DestinationToken: outbound.DestinationToken,
			SourceAmount:     outbound.SourceAmount,
		}, key)
		if resp.SourceToken != model.NativeETHAddress {
			t.Fatalf("%s: round trip lost native sentinel: %s", key, resp.SourceToken)
		}
		if resp.DestinationToken != dai {
			t.Fatalf("%s: round trip changed token address: %s", key, resp.DestinationToken)
		}
	}
}

func TestResponseTokensIsCaseInsensitive(t *testing.T) {
	resp := ResponseTokens(model.QuoteResponse{
		SourceToken:      "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE",
		DestinationToken: dai,
	}, "oneinch")
	if resp.SourceToken != model.NativeETHAddress {
		t.Fatalf("mixed-case sentinel not collapsed: %s", resp.SourceToken)
	}
}

func TestNativeForUnknownProvider(t *testing.T) {
	if _, ok := NativeFor("sushiswap"); ok {
		t.Fatal("unknown provider key should not resolve")
	}
	if len(ProviderKeys()) != 5 {
		t.Fatalf("expected 5 provider keys, got %d", len(ProviderKeys()))
	}
}
