// Package app wires the cobra command tree: configuration loading, provider
// construction, response caching, and envelope emission all live here.
package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/airswap/aggregator-aggregator/internal/aggregator"
	"github.com/airswap/aggregator-aggregator/internal/approval"
	"github.com/airswap/aggregator-aggregator/internal/cache"
	"github.com/airswap/aggregator-aggregator/internal/config"
	"github.com/airswap/aggregator-aggregator/internal/httpx"
	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/out"
	"github.com/airswap/aggregator-aggregator/internal/policy"
	"github.com/airswap/aggregator-aggregator/internal/providers"
	"github.com/airswap/aggregator-aggregator/internal/providers/dexag"
	"github.com/airswap/aggregator-aggregator/internal/providers/oneinch"
	"github.com/airswap/aggregator-aggregator/internal/providers/paraswap"
	"github.com/airswap/aggregator-aggregator/internal/providers/totle"
	"github.com/airswap/aggregator-aggregator/internal/providers/zeroex"
	"github.com/airswap/aggregator-aggregator/internal/registry"
	"github.com/airswap/aggregator-aggregator/internal/schema"
	"github.com/airswap/aggregator-aggregator/internal/version"

	clierr "github.com/airswap/aggregator-aggregator/internal/errors"
)

// Result order of every multi-provider response. Configuration can disable
// providers but never reorders them.
var providerOrder = []string{"paraswap", "oneinch", "totle", "dexag", "zeroex"}

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	cache         *cache.Store
	root          *cobra.Command
	logger        *logrus.Logger
	agg           *aggregator.Aggregator
	providerInfos []model.ProviderInfo
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err == nil {
		if state.cache != nil {
			_ = state.cache.Close()
		}
		return 0
	}

	state.renderError("", err, state.lastWarnings, state.lastProviders, state.lastPartial)
	if state.cache != nil {
		_ = state.cache.Close()
	}
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "DEX aggregator price comparison CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.logger = newLogger(s.runner.stderr, settings.Verbose)

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			if commandNeedsProviders(path) && s.agg == nil {
				if err := s.buildAggregator(); err != nil {
					return err
				}
			}

			if settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.Verbose, "verbose", false, "Log provider calls and retries to stderr")
	cmd.PersistentFlags().Int64Var(&s.flags.Network, "network", 0, "Chain id (only Ethereum mainnet is supported)")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "Ethereum JSON-RPC endpoint")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Provider request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per provider request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newTradeCommand())
	cmd.AddCommand(s.newTokensCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// buildAggregator constructs the enabled provider adapters in canonical
// order and hands them to one coordinator instance. Adapter construction
// starts the token registry prefetch, so it only happens for commands that
// talk to providers.
func (s *runtimeState) buildAggregator() error {
	httpClient := httpx.NewWithLogger(s.settings.Timeout, s.settings.Retries, s.logger)

	provs := make([]providers.Aggregator, 0, len(providerOrder))
	for _, key := range providerOrder {
		ps := s.settings.Providers[key]
		if !ps.Enabled {
			continue
		}
		adapter, err := newAdapter(key, httpClient, s.settings.Network, ps.BaseURL)
		if err != nil {
			return err
		}
		provs = append(provs, adapter)
	}
	if len(provs) == 0 {
		return clierr.New(clierr.CodeUsage, "all providers are disabled by configuration")
	}

	checker, err := approval.NewRPCChecker(s.settings.RPCURL)
	if err != nil {
		return err
	}

	agg, err := aggregator.New(aggregator.Config{
		Providers:       provs,
		ProviderTimeout: s.settings.Timeout,
		Approvals:       checker,
		Logger:          s.logger,
	})
	if err != nil {
		return err
	}
	s.agg = agg
	s.providerInfos = agg.Providers()
	return nil
}

func newAdapter(key string, httpClient *httpx.Client, network int64, baseURL string) (providers.Aggregator, error) {
	var (
		adapter providers.Aggregator
		err     error
	)
	switch key {
	case "paraswap":
		if baseURL == "" {
			baseURL = registry.ParaswapBaseURL
		}
		adapter, err = paraswap.NewWithBaseURL(httpClient, network, baseURL)
	case "oneinch":
		if baseURL == "" {
			baseURL = registry.OneInchBaseURL
		}
		adapter, err = oneinch.NewWithBaseURL(httpClient, network, baseURL)
	case "totle":
		if baseURL == "" {
			baseURL = registry.TotleBaseURL
		}
		adapter, err = totle.NewWithBaseURL(httpClient, network, baseURL)
	case "dexag":
		if baseURL == "" {
			baseURL = registry.DexagBaseURL
		}
		adapter, err = dexag.NewWithBaseURL(httpClient, network, baseURL)
	case "zeroex":
		if baseURL == "" {
			baseURL = registry.ZeroExBaseURL
		}
		adapter, err = zeroex.NewWithBaseURL(httpClient, network, baseURL)
	default:
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("unknown provider key %q", key))
	}
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

func newLogger(w io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Build(s.root, path)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	return cmd
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List configured providers and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.providerInfos, nil, cacheMetaBypass(), nil, false)
		},
	}
	root.AddCommand(list)
	return root
}

type fetchFn func(ctx context.Context) (data any, providerStatus []model.ProviderStatus, warnings []string, partial bool, err error)

func (s *runtimeState) runCachedCommand(commandPath, key string, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	cacheStatus := cacheMetaMiss()
	warnings := []string{}
	var staleData any
	staleAvailable := false
	staleObservedAge := time.Duration(0)
	staleObservedAt := time.Time{}
	staleCacheStatus := cacheMetaMiss()

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit {
			entryStatus := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			var data any
			if err := json.Unmarshal(cached.Value, &data); err == nil {
				if !cached.Stale {
					s.captureCommandDiagnostics(warnings, nil, false)
					return s.emitSuccess(commandPath, data, warnings, entryStatus, nil, false)
				}
				staleData = data
				staleAvailable = true
				staleObservedAge = cached.Age
				staleObservedAt = time.Now()
				staleCacheStatus = entryStatus
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()
	data, providerStatus, providerWarnings, partial, err := fetch(ctx)
	warnings = append(warnings, providerWarnings...)
	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	if err != nil {
		if staleAvailable {
			if !staleFallbackAllowed(err) {
				return err
			}
			currentStaleAge := staleObservedAge
			if !staleObservedAt.IsZero() {
				currentStaleAge += time.Since(staleObservedAt)
			}
			staleCacheStatus.AgeMS = currentStaleAge.Milliseconds()
			if s.settings.NoStale {
				return clierr.Wrap(clierr.CodeUnavailable, "fresh provider fetch failed and stale fallback is disabled (--no-stale)", err)
			}
			if staleExceedsBudget(currentStaleAge, ttl, s.settings.MaxStale) {
				return clierr.Wrap(clierr.CodeUnavailable, "fresh provider fetch failed and cached data exceeded stale budget", err)
			}
			warnings = append(warnings, "provider fetch failed; serving stale data within max-stale budget")
			s.captureCommandDiagnostics(warnings, providerStatus, false)
			return s.emitSuccess(commandPath, staleData, warnings, staleCacheStatus, providerStatus, false)
		}
		return err
	}

	if s.settings.CacheEnabled && s.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			_ = s.cache.Set(key, payload, ttl)
			cacheStatus = model.CacheStatus{Status: "write", AgeMS: 0, Stale: false}
		}
	}

	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	return s.emitSuccess(commandPath, data, warnings, cacheStatus, providerStatus, partial)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providerStatus []model.ProviderStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providerStatus,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providerStatus []model.ProviderStatus, partial bool) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		switch cErr.Code {
		case clierr.CodeUsage:
			typ = "usage_error"
		case clierr.CodeUnsupportedNetwork:
			typ = "unsupported_network"
		case clierr.CodeTokenNotSupported:
			typ = "token_not_supported"
		case clierr.CodeProviderFailed:
			typ = "provider_failed"
		case clierr.CodeUnavailable:
			typ = "provider_unavailable"
		case clierr.CodeRateLimited:
			typ = "rate_limited"
		case clierr.CodeAuth:
			typ = "auth_error"
		case clierr.CodeNoWallet:
			typ = "no_wallet"
		case clierr.CodeApprovalCheck:
			typ = "approval_check_failed"
		case clierr.CodeBlocked:
			typ = "command_blocked"
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providerStatus,
			Cache:     cacheMetaBypass(),
			Partial:   partial,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func cacheKey(commandPath string, req any) string {
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(commandPath+"|"), buf...))
	return hex.EncodeToString(sum[:])
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		case clierr.CodeTokenNotSupported:
			return "token_not_supported"
		default:
			return "error"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	if age <= ttl {
		return false
	}
	if maxStale < 0 {
		return false
	}
	return age > ttl+maxStale
}

// Only transient provider outcomes justify serving yesterday's data;
// usage and auth failures must surface.
func staleFallbackAllowed(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	return cErr.Code == clierr.CodeUnavailable || cErr.Code == clierr.CodeRateLimited || cErr.Code == clierr.CodeProviderFailed
}

func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "quote", "tokens list":
		return true
	default:
		return false
	}
}

// commandNeedsProviders gates adapter construction: building an adapter
// starts its registry prefetch, which commands like version must not do.
func commandNeedsProviders(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "", "version", "schema", "help":
		return false
	default:
		return true
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providerStatus []model.ProviderStatus, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providerStatus) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providerStatus...)
	}
	s.lastPartial = partial
}
