// Package approval decides whether a prepared trade needs an ERC-20
// spending approval before it can execute, and builds the deferred approve
// transaction when it does.
package approval

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
	"github.com/airswap/aggregator-aggregator/internal/registry"
)

// CheckRequest identifies one trade's approval question: can OwnerAddress's
// AmountAtomic of TokenAddress be spent by the provider's spender contract.
type CheckRequest struct {
	ProviderKey  string
	TokenAddress string
	// TradeTarget is the prepared trade's `to` field. For most providers
	// the trade contract is also the spender.
	TradeTarget  string
	OwnerAddress string
	AmountAtomic string
}

// Action is a deferred approval: the approve call that must confirm before
// the trade itself is broadcast. Target is the token contract.
type Action struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
	Target  string `json:"target"`
	Data    string `json:"data"`
}

// Checker reports the approval state for a trade. A nil Action with a nil
// error means the current allowance already covers the trade.
type Checker interface {
	Check(ctx context.Context, req CheckRequest) (*Action, error)
}

// RPCChecker reads allowances over JSON-RPC.
type RPCChecker struct {
	rpcURL string
	erc20  abi.ABI
}

func NewRPCChecker(rpcURL string) (*RPCChecker, error) {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	return &RPCChecker{rpcURL: rpcURL, erc20: parsed}, nil
}

// SpenderFor resolves the contract that must be approved for a provider's
// trade. Paraswap splits settlement from custody: allowances go to its
// TokenTransferProxy, not to the trade target.
func SpenderFor(providerKey, tradeTarget string) string {
	if strings.EqualFold(providerKey, "paraswap") {
		return registry.ParaswapTokenTransferProxy
	}
	return tradeTarget
}

func (c *RPCChecker) Check(ctx context.Context, req CheckRequest) (*Action, error) {
	if !common.IsHexAddress(req.TokenAddress) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid token address %q", req.TokenAddress))
	}
	if !common.IsHexAddress(req.OwnerAddress) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid owner address %q", req.OwnerAddress))
	}
	spender := SpenderFor(req.ProviderKey, req.TradeTarget)
	if !common.IsHexAddress(spender) {
		return nil, clierr.New(clierr.CodeApprovalCheck, fmt.Sprintf("no spender contract for %s", req.ProviderKey))
	}
	amount, ok := new(big.Int).SetString(req.AmountAtomic, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid trade amount %q", req.AmountAtomic))
	}

	token := common.HexToAddress(req.TokenAddress)
	owner := common.HexToAddress(req.OwnerAddress)
	spenderAddr := common.HexToAddress(spender)

	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeApprovalCheck, "connect rpc", err)
	}
	defer client.Close()

	allowance, err := c.readAllowance(ctx, client, token, owner, spenderAddr)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil, nil
	}

	approveData, err := c.erc20.Pack("approve", spenderAddr, amount)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	return &Action{
		Token:   token.Hex(),
		Spender: spenderAddr.Hex(),
		Amount:  amount.String(),
		Target:  token.Hex(),
		Data:    "0x" + common.Bytes2Hex(approveData),
	}, nil
}

func (c *RPCChecker) readAllowance(ctx context.Context, client *ethclient.Client, token, owner, spender common.Address) (*big.Int, error) {
	callData, err := c.erc20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack allowance calldata", err)
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{From: owner, To: &token, Data: callData}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeApprovalCheck, "read token allowance", err)
	}
	out, err := c.erc20.Unpack("allowance", raw)
	if err != nil || len(out) == 0 {
		return nil, clierr.Wrap(clierr.CodeApprovalCheck, "decode token allowance", err)
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeApprovalCheck, "invalid allowance response")
	}
	return allowance, nil
}
