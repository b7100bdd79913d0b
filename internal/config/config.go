// Package config resolves CLI settings with the precedence
// defaults < config file < environment < flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/airswap/aggregator-aggregator/internal/model"
	"github.com/airswap/aggregator-aggregator/internal/registry"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Verbose        bool
	Network        int64
	RPCURL         string
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
}

// ProviderSettings are the per-provider knobs. An empty BaseURL means the
// provider's published endpoint.
type ProviderSettings struct {
	Enabled bool
	BaseURL string
}

type Settings struct {
	OutputMode    string
	SelectFields  []string
	ResultsOnly   bool
	EnableCommands []string
	Verbose       bool
	Network       int64
	RPCURL        string
	Timeout       time.Duration
	Retries       int
	MaxStale      time.Duration
	NoStale       bool
	CacheEnabled  bool
	CachePath     string
	CacheLockPath string
	Providers     map[string]ProviderSettings
}

var providerKeys = []string{"paraswap", "oneinch", "totle", "dexag", "zeroex"}

type providerFileConfig struct {
	Enabled *bool  `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Verbose *bool  `yaml:"verbose"`
	Network *int64 `yaml:"network"`
	RPCURL  string `yaml:"rpc_url"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Providers map[string]providerFileConfig `yaml:"providers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.RPCURL == "" {
		if v, ok := registry.DefaultRPCURL(settings.Network); ok {
			settings.RPCURL = v
		}
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	providers := make(map[string]ProviderSettings, len(providerKeys))
	for _, key := range providerKeys {
		providers[key] = ProviderSettings{Enabled: true}
	}
	return Settings{
		OutputMode:    "json",
		Network:       model.EthereumMainnet,
		Timeout:       10 * time.Second,
		Retries:       2,
		MaxStale:      5 * time.Minute,
		CacheEnabled:  true,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		Providers:     providers,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "agg", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "agg")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Verbose != nil {
		settings.Verbose = *cfg.Verbose
	}
	if cfg.Network != nil {
		settings.Network = *cfg.Network
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	for key, pc := range cfg.Providers {
		key = strings.ToLower(strings.TrimSpace(key))
		current, ok := settings.Providers[key]
		if !ok {
			return fmt.Errorf("config providers: unknown provider %q", key)
		}
		if pc.Enabled != nil {
			current.Enabled = *pc.Enabled
		}
		if pc.BaseURL != "" {
			current.BaseURL = pc.BaseURL
		}
		settings.Providers[key] = current
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("AGG_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("AGG_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Verbose = b
		}
	}
	if v := os.Getenv("AGG_NETWORK"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.Network = n
		}
	}
	if v := os.Getenv("AGG_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("AGG_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("AGG_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("AGG_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("AGG_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("AGG_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("AGG_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("AGG_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	for _, key := range providerKeys {
		envKey := "AGG_" + strings.ToUpper(key) + "_BASE_URL"
		if v := os.Getenv(envKey); v != "" {
			current := settings.Providers[key]
			current.BaseURL = v
			settings.Providers[key] = current
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		parts := strings.Split(flags.EnableCommands, ",")
		allowed := make([]string, 0, len(parts))
		for _, part := range parts {
			v := strings.TrimSpace(part)
			if v != "" {
				allowed = append(allowed, v)
			}
		}
		settings.EnableCommands = allowed
	}

	if flags.Verbose {
		settings.Verbose = true
	}
	if flags.Network > 0 {
		settings.Network = flags.Network
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = flags.RPCURL
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
