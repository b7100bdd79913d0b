package registry

// Provider REST endpoints. Everything is Ethereum mainnet only.
const (
	ParaswapBaseURL = "https://paraswap.io/api/v1"
	OneInchBaseURL  = "https://api.1inch.exchange/v1.1"
	TotleBaseURL    = "https://api.totle.com"
	DexagBaseURL    = "https://api-v2.dex.ag"
	ZeroExBaseURL   = "https://api.0x.org"
)
