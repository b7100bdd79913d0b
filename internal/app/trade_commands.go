package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/airswap/aggregator-aggregator/internal/aggregator"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/normalize"
	"github.com/airswap/aggregator-aggregator/internal/wallet"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

func (s *runtimeState) newTradeCommand() *cobra.Command {
	root := &cobra.Command{Use: "trade", Short: "Prepared trade commands"}
	root.AddCommand(s.newTradeBuildCommand())
	root.AddCommand(s.newTradeSubmitCommand())
	return root
}

type tradeArgs struct {
	fromArg       string
	toArg         string
	amountBase    string
	amountDecimal string
	userAddress   string
	slippage      float64
}

func registerTradeFlags(cmd *cobra.Command, args *tradeArgs) {
	cmd.Flags().StringVar(&args.fromArg, "from", "", "Source token (address, symbol, or ETH)")
	cmd.Flags().StringVar(&args.toArg, "to", "", "Destination token (address, symbol, or ETH)")
	cmd.Flags().StringVar(&args.amountBase, "amount", "", "Source amount in atomic units")
	cmd.Flags().StringVar(&args.amountDecimal, "amount-decimal", "", "Source amount in display units")
	cmd.Flags().Float64Var(&args.slippage, "slippage", 1, "Accepted slippage in percent")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func (s *runtimeState) buildTradeRequest(args tradeArgs) (model.TradeRequest, error) {
	quoteReq, err := s.buildQuoteRequest(args.fromArg, args.toArg, args.amountBase, args.amountDecimal)
	if err != nil {
		return model.TradeRequest{}, err
	}
	return model.TradeRequest{
		QuoteRequest: quoteReq,
		UserAddress:  normalize.LowerAddress(args.userAddress),
		Slippage:     args.slippage,
	}, nil
}

func (s *runtimeState) newTradeBuildCommand() *cobra.Command {
	var args tradeArgs
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Prepare trade transactions from every provider that supports them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := s.buildTradeRequest(args)
			if err != nil {
				return err
			}

			// Trade payloads embed the caller address and expire quickly;
			// they are never cached.
			s.resetCommandDiagnostics()
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			results, err := s.agg.FetchTrades(ctx, req)
			if err != nil {
				return err
			}
			statuses, warnings, partial := tradeDiagnostics(results)
			s.captureCommandDiagnostics(warnings, statuses, partial)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), results, warnings, cacheMetaBypass(), statuses, partial)
		},
	}
	registerTradeFlags(cmd, &args)
	cmd.Flags().StringVar(&args.userAddress, "user", "", "Account that will execute the swap")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

type tradeSubmission struct {
	Provider string               `json:"provider"`
	Trade    wallet.SubmitResult  `json:"trade"`
	Approval *wallet.SubmitResult `json:"approval,omitempty"`
	Quote    model.TradeResponse  `json:"quote"`
}

func (s *runtimeState) newTradeSubmitCommand() *cobra.Command {
	var args tradeArgs
	var providerArg string
	var approve bool
	var simulate bool
	var keySource, privateKey string
	var pollInterval, confirmTimeout string
	var gasMultiplier float64
	var maxFeeGwei, maxPriorityFeeGwei string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Sign and broadcast one provider's prepared trade",
		RunE: func(cmd *cobra.Command, _ []string) error {
			txSigner, err := wallet.NewLocalSignerFromInputs(keySource, privateKey)
			if err != nil {
				return err
			}
			if strings.TrimSpace(args.userAddress) == "" {
				args.userAddress = txSigner.Address().Hex()
			} else if !strings.EqualFold(strings.TrimSpace(args.userAddress), txSigner.Address().Hex()) {
				return clierr.New(clierr.CodeNoWallet, "signer address does not match --user")
			}

			req, err := s.buildTradeRequest(args)
			if err != nil {
				return err
			}
			opts, err := parseSubmitOptions(simulate, pollInterval, confirmTimeout, gasMultiplier, maxFeeGwei, maxPriorityFeeGwei)
			if err != nil {
				return err
			}

			s.resetCommandDiagnostics()
			fetchCtx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			results, err := s.agg.FetchTrades(fetchCtx, req)
			cancel()
			if err != nil {
				return err
			}
			statuses, warnings, partial := tradeDiagnostics(results)
			s.captureCommandDiagnostics(warnings, statuses, partial)

			entry, err := findTrade(results, providerArg)
			if err != nil {
				return err
			}
			if entry.Failed() {
				return clierr.New(clierr.CodeProviderFailed, fmt.Sprintf("%s: %s", entry.Aggregator, entry.Error))
			}

			// Confirmation can outlast the provider timeout by design of the
			// receipt poll loop.
			submitCtx, cancelSubmit := context.WithTimeout(context.Background(), opts.ConfirmTimeout+s.settings.Timeout)
			defer cancelSubmit()

			var approvalResult *wallet.SubmitResult
			if entry.ApprovalNeeded {
				if !approve {
					return clierr.New(clierr.CodeApprovalCheck, "source token requires an allowance; re-run with --approve")
				}
				if entry.Approval == nil {
					return clierr.New(clierr.CodeApprovalCheck, "allowance state could not be read; approve the token manually and retry")
				}
				res, err := wallet.Submit(submitCtx, s.settings.RPCURL, txSigner, wallet.PreparedCall{
					To:   entry.Approval.Target,
					Data: entry.Approval.Data,
				}, opts)
				if err != nil {
					return err
				}
				approvalResult = &res
			}

			tradeResult, err := wallet.Submit(submitCtx, s.settings.RPCURL, txSigner, wallet.PreparedCall{
				To:    entry.To,
				Data:  entry.Data,
				Value: entry.Value,
				Gas:   entry.Gas,
			}, opts)
			if err != nil {
				return err
			}

			data := tradeSubmission{
				Provider: entry.Aggregator,
				Trade:    tradeResult,
				Approval: approvalResult,
				Quote:    entry.TradeResponse,
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, cacheMetaBypass(), statuses, partial)
		},
	}
	registerTradeFlags(cmd, &args)
	cmd.Flags().StringVar(&args.userAddress, "user", "", "Account that will execute the swap (defaults to the signer address)")
	cmd.Flags().StringVar(&providerArg, "provider", "", "Provider whose prepared trade to submit")
	cmd.Flags().BoolVar(&approve, "approve", false, "Broadcast the ERC-20 approve call first when an allowance is missing")
	cmd.Flags().BoolVar(&simulate, "simulate", true, "Simulate the call before broadcasting")
	cmd.Flags().StringVar(&keySource, "key-source", "", "Signing key source (env|file|keystore)")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "Hex private key override")
	cmd.Flags().StringVar(&pollInterval, "poll-interval", "", "Receipt poll interval")
	cmd.Flags().StringVar(&confirmTimeout, "confirm-timeout", "", "Receipt confirmation timeout")
	cmd.Flags().Float64Var(&gasMultiplier, "gas-multiplier", 0, "Gas estimate safety multiplier")
	cmd.Flags().StringVar(&maxFeeGwei, "max-fee-gwei", "", "Max fee per gas override in gwei")
	cmd.Flags().StringVar(&maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Max priority fee override in gwei")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func parseSubmitOptions(simulate bool, pollInterval, confirmTimeout string, gasMultiplier float64, maxFeeGwei, maxPriorityFeeGwei string) (wallet.SubmitOptions, error) {
	opts := wallet.DefaultSubmitOptions()
	opts.Simulate = simulate
	if strings.TrimSpace(pollInterval) != "" {
		d, err := time.ParseDuration(pollInterval)
		if err != nil {
			return wallet.SubmitOptions{}, clierr.Wrap(clierr.CodeUsage, "parse --poll-interval", err)
		}
		opts.PollInterval = d
	}
	if strings.TrimSpace(confirmTimeout) != "" {
		d, err := time.ParseDuration(confirmTimeout)
		if err != nil {
			return wallet.SubmitOptions{}, clierr.Wrap(clierr.CodeUsage, "parse --confirm-timeout", err)
		}
		opts.ConfirmTimeout = d
	}
	if gasMultiplier > 0 {
		opts.GasMultiplier = gasMultiplier
	}
	opts.MaxFeeGwei = strings.TrimSpace(maxFeeGwei)
	opts.MaxPriorityFeeGwei = strings.TrimSpace(maxPriorityFeeGwei)
	return opts, nil
}

func findTrade(results []aggregator.TradeResult, providerArg string) (aggregator.TradeResult, error) {
	needle := strings.ToLower(strings.TrimSpace(providerArg))
	for _, result := range results {
		if result.Aggregator == needle {
			return result, nil
		}
	}
	return aggregator.TradeResult{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("provider %q is not configured", providerArg))
}

func tradeDiagnostics(results []aggregator.TradeResult) ([]model.ProviderStatus, []string, bool) {
	statuses := make([]model.ProviderStatus, 0, len(results))
	warnings := []string{}
	partial := false
	for _, result := range results {
		status := "ok"
		if result.Failed() {
			status = "error"
			partial = true
			warnings = append(warnings, fmt.Sprintf("provider %s failed: %s", result.Aggregator, result.Error))
		}
		statuses = append(statuses, model.ProviderStatus{
			Name:      result.Aggregator,
			Status:    status,
			LatencyMS: result.FetchTimeMS,
		})
	}
	return statuses, warnings, partial
}
