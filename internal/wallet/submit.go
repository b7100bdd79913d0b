package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/airswap/aggregator-aggregator/internal/model"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

// PreparedCall is a provider-built transaction payload ready for signing.
type PreparedCall struct {
	To    string
	Data  string
	Value string
	Gas   string
}

type SubmitOptions struct {
	Simulate           bool
	PollInterval       time.Duration
	ConfirmTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		Simulate:       true,
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
	}
}

type SubmitResult struct {
	TxHash      string `json:"tx_hash"`
	GasUsed     uint64 `json:"gas_used"`
	BlockNumber string `json:"block_number"`
}

// Submit signs and broadcasts one prepared call, then waits for the
// receipt. The call is simulated with eth_call first unless disabled.
func Submit(ctx context.Context, rpcURL string, txSigner Signer, call PreparedCall, opts SubmitOptions) (SubmitResult, error) {
	if txSigner == nil {
		return SubmitResult{}, clierr.New(clierr.CodeNoWallet, "missing signer")
	}
	if strings.TrimSpace(rpcURL) == "" {
		return SubmitResult{}, clierr.New(clierr.CodeUsage, "missing rpc url")
	}
	if strings.TrimSpace(call.To) == "" {
		return SubmitResult{}, clierr.New(clierr.CodeUsage, "missing transaction target")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return SubmitResult{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return SubmitResult{}, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if chainID.Int64() != model.EthereumMainnet {
		return SubmitResult{}, clierr.New(clierr.CodeUnsupportedNetwork,
			fmt.Sprintf("rpc is on chain %d, only Ethereum mainnet is supported", chainID.Int64()))
	}

	target := common.HexToAddress(call.To)
	data, err := decodeHex(call.Data)
	if err != nil {
		return SubmitResult{}, clierr.Wrap(clierr.CodeUsage, "decode transaction calldata", err)
	}
	value := big.NewInt(0)
	if strings.TrimSpace(call.Value) != "" {
		parsed, ok := new(big.Int).SetString(call.Value, 10)
		if !ok {
			return SubmitResult{}, clierr.New(clierr.CodeUsage, "invalid transaction value")
		}
		value = parsed
	}
	msg := ethereum.CallMsg{From: txSigner.Address(), To: &target, Value: value, Data: data}

	if opts.Simulate {
		if _, err := client.CallContract(ctx, msg, nil); err != nil {
			return SubmitResult{}, clierr.Wrap(clierr.CodeProviderFailed, "simulate transaction (eth_call)", err)
		}
	}

	gasLimit, err := resolveGasLimit(ctx, client, msg, call.Gas, opts.GasMultiplier)
	if err != nil {
		return SubmitResult{}, err
	}

	tipCap, err := resolveTipCap(ctx, client, opts.MaxPriorityFeeGwei)
	if err != nil {
		return SubmitResult{}, err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return SubmitResult{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return SubmitResult{}, err
	}

	nonce, err := client.PendingNonceAt(ctx, txSigner.Address())
	if err != nil {
		return SubmitResult{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := txSigner.SignTx(chainID, tx)
	if err != nil {
		return SubmitResult{}, clierr.Wrap(clierr.CodeNoWallet, "sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return SubmitResult{}, clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}

	receipt, err := waitForReceipt(ctx, client, signed.Hash(), opts)
	if err != nil {
		return SubmitResult{TxHash: signed.Hash().Hex()}, err
	}
	return SubmitResult{
		TxHash:      signed.Hash().Hex(),
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber.String(),
	}, nil
}

func resolveGasLimit(ctx context.Context, client *ethclient.Client, msg ethereum.CallMsg, providerGas string, multiplier float64) (uint64, error) {
	if strings.TrimSpace(providerGas) != "" {
		if v, ok := new(big.Int).SetString(strings.TrimSpace(providerGas), 10); ok && v.IsUint64() && v.Uint64() > 0 {
			return v.Uint64(), nil
		}
	}
	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeProviderFailed, "estimate gas", err)
	}
	return uint64(float64(gasLimit) * multiplier), nil
}

func waitForReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash, opts SubmitOptions) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, opts.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return nil, clierr.New(clierr.CodeUnavailable, "transaction reverted on-chain")
		}
		if waitCtx.Err() != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "timed out waiting for receipt", waitCtx.Err())
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeUnavailable, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func resolveTipCap(ctx context.Context, client *ethclient.Client, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	scale := big.NewRat(1_000_000_000, 1)
	rat.Mul(rat, scale)
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
