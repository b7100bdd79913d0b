package registry

import (
	"fmt"
	"strings"
)

// ParaswapTokenTransferProxy is the shared allowance contract Paraswap routes
// token pulls through on mainnet. Approvals for paraswap trades target this
// proxy, not the trade's execution target.
const ParaswapTokenTransferProxy = "0x216b4b4ba9f3e719726886d34a177484278bfcae"

var defaultRPCByChainID = map[int64]string{
	1: "https://eth.llamarpc.com",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	v, ok := defaultRPCByChainID[chainID]
	return v, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if v, ok := DefaultRPCURL(chainID); ok {
		return v, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}
