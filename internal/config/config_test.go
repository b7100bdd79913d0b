package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nretries: 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("AGG_OUTPUT", "json")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadProviderOverrides(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := "providers:\n  totle:\n    enabled: false\n  oneinch:\n    base_url: http://localhost:9001\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("AGG_ZEROEX_BASE_URL", "http://localhost:9002")
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Providers["totle"].Enabled {
		t.Fatal("expected totle to be disabled by config file")
	}
	if settings.Providers["oneinch"].BaseURL != "http://localhost:9001" {
		t.Fatalf("expected oneinch base url override, got %s", settings.Providers["oneinch"].BaseURL)
	}
	if settings.Providers["zeroex"].BaseURL != "http://localhost:9002" {
		t.Fatalf("expected zeroex base url from env, got %s", settings.Providers["zeroex"].BaseURL)
	}
	if !settings.Providers["paraswap"].Enabled {
		t.Fatal("untouched providers stay enabled")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("providers:\n  kyber:\n    enabled: true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(GlobalFlags{ConfigPath: configPath, Retries: -1}); err == nil {
		t.Fatal("expected unknown provider error")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Network != 1 {
		t.Fatalf("expected mainnet default, got %d", settings.Network)
	}
	if settings.RPCURL == "" {
		t.Fatal("expected a default rpc url")
	}
	if len(settings.Providers) != 5 {
		t.Fatalf("expected 5 providers, got %d", len(settings.Providers))
	}
	if !settings.CacheEnabled {
		t.Fatal("cache defaults to enabled")
	}
}
