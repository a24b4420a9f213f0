package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("default config invalid: %v", errs)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
store:
  path: /tmp/escrow-test/escrow.db
chains:
  endpoints:
    137:
      name: polygon
      rpc_url: https://polygon-rpc.com
settlement:
  caller: "0x3000000000000000000000000000000000000001"
  max_attempts: 5
gateway:
  listen_addr: ":9090"
`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Store.Path != "/tmp/escrow-test/escrow.db" {
		t.Errorf("store path = %s", cfg.Store.Path)
	}
	if cfg.Chains.Endpoints[137].RPCURL != "https://polygon-rpc.com" {
		t.Errorf("chain endpoint = %+v", cfg.Chains.Endpoints[137])
	}
	if cfg.Settlement.MaxAttempts != 5 {
		t.Errorf("max attempts = %d", cfg.Settlement.MaxAttempts)
	}
	if cfg.Gateway.ListenAddr != ":9090" {
		t.Errorf("listen addr = %s", cfg.Gateway.ListenAddr)
	}
	// Untouched sections keep their defaults.
	if cfg.Settlement.RetryBackoff != 2*time.Second {
		t.Errorf("retry backoff = %v", cfg.Settlement.RetryBackoff)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("loaded config invalid: %v", errs)
	}
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settlement.Caller = "not-an-address"
	cfg.Settlement.MaxAttempts = 0
	cfg.Gateway.ListenAddr = "no-port"
	cfg.Chains.Endpoints[0] = ChainEndpoint{RPCURL: "ftp://nope"}

	errs := cfg.Validate()
	if len(errs) < 4 {
		t.Fatalf("expected at least 4 errors, got %d: %v", len(errs), errs)
	}
}
