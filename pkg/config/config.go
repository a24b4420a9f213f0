package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration for an escrow engine node
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Store      StoreConfig      `yaml:"store"`
	Chains     ChainsConfig     `yaml:"chains"`
	Storage    StorageConfig    `yaml:"storage"`
	Settlement SettlementConfig `yaml:"settlement"`
	Logging    LoggingConfig    `yaml:"logging"`
	Gateway    GatewayConfig    `yaml:"gateway"`
}

// NodeConfig contains node-specific configuration
type NodeConfig struct {
	ID      string `yaml:"id"`       // Node identifier, auto-generated if empty
	DataDir string `yaml:"data_dir"` // Data directory
	Admin   string `yaml:"admin"`    // Hex address of the platform admin identity
}

// StoreConfig contains the persistence configuration
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite database path
}

// ChainsConfig maps chain IDs to their RPC endpoints
type ChainsConfig struct {
	// Endpoints is keyed by chain ID (e.g. 137 for Polygon)
	Endpoints map[uint64]ChainEndpoint `yaml:"endpoints"`
}

// ChainEndpoint is one chain's JSON-RPC configuration
type ChainEndpoint struct {
	Name   string `yaml:"name"`    // Human-readable chain name
	RPCURL string `yaml:"rpc_url"` // JSON-RPC endpoint URL
}

// StorageConfig contains oracle blob storage configuration
type StorageConfig struct {
	// Timeout for blob downloads and uploads
	// If zero, defaults to 60 seconds
	Timeout time.Duration `yaml:"timeout"`
}

// SettlementConfig contains the coordinator configuration
type SettlementConfig struct {
	Caller        string        `yaml:"caller"`          // Hex address payouts are issued as (reputation oracle)
	MaxAttempts   int           `yaml:"max_attempts"`    // Payout retry attempts, default 3
	RetryBackoff  time.Duration `yaml:"retry_backoff"`   // Base retry delay, default 2s
	MaxBackoff    time.Duration `yaml:"max_backoff"`     // Backoff cap, default 30s
	ForceComplete bool          `yaml:"force_complete"`  // Finalize escrows even with funds left reserved
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Colors     bool   `yaml:"colors"`      // ANSI colors on console output
	OutputFile string `yaml:"output_file"` // Empty for stdout
}

// GatewayConfig contains the HTTP API configuration
type GatewayConfig struct {
	Enabled        bool          `yaml:"enabled"`         // Enable the HTTP gateway
	ListenAddr     string        `yaml:"listen_addr"`     // Address to listen on (e.g., ":8080")
	RequestTimeout time.Duration `yaml:"request_timeout"` // Per-request timeout, default 30s
	AuthEnabled    bool          `yaml:"auth_enabled"`    // Require wallet signatures on mutating calls
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir: "./data",
		},
		Store: StoreConfig{
			Path: "./data/escrow.db",
		},
		Chains: ChainsConfig{
			Endpoints: make(map[uint64]ChainEndpoint),
		},
		Storage: StorageConfig{
			Timeout: 60 * time.Second,
		},
		Settlement: SettlementConfig{
			MaxAttempts:  3,
			RetryBackoff: 2 * time.Second,
			MaxBackoff:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Colors: true,
		},
		Gateway: GatewayConfig{
			Enabled:        true,
			ListenAddr:     ":8080",
			RequestTimeout: 30 * time.Second,
			AuthEnabled:    true,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
