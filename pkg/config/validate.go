package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "settlement.caller"
	Message string // e.g., "not a hex address"
	Hint    string // e.g., "expected 0x-prefixed 20-byte hex"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs comprehensive validation of the entire config.
// It aggregates all errors and returns them, allowing the caller to print all issues at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateNode()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateChains()...)
	errs = append(errs, c.validateSettlement()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateGateway()...)

	return errs
}

func (c *Config) validateNode() []error {
	var errs []error
	nc := c.Node

	if nc.DataDir == "" {
		errs = append(errs, ValidationError{
			Path:    "node.data_dir",
			Message: "must not be empty",
		})
	} else if err := validateDataDir(nc.DataDir); err != nil {
		errs = append(errs, ValidationError{
			Path:    "node.data_dir",
			Message: err.Error(),
		})
	}

	if nc.Admin != "" && !common.IsHexAddress(nc.Admin) {
		errs = append(errs, ValidationError{
			Path:    "node.admin",
			Message: fmt.Sprintf("invalid address %q", nc.Admin),
			Hint:    "expected 0x-prefixed 20-byte hex",
		})
	}

	return errs
}

func (c *Config) validateStore() []error {
	var errs []error

	if c.Store.Path == "" {
		errs = append(errs, ValidationError{
			Path:    "store.path",
			Message: "must not be empty",
		})
	}

	return errs
}

func (c *Config) validateChains() []error {
	var errs []error

	for chainID, ep := range c.Chains.Endpoints {
		path := fmt.Sprintf("chains.endpoints[%d]", chainID)
		if chainID == 0 {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: "chain id must be > 0",
			})
		}
		if ep.RPCURL == "" {
			errs = append(errs, ValidationError{
				Path:    path + ".rpc_url",
				Message: "must not be empty",
				Hint:    "e.g., https://polygon-rpc.com",
			})
		} else if !strings.HasPrefix(ep.RPCURL, "http://") && !strings.HasPrefix(ep.RPCURL, "https://") &&
			!strings.HasPrefix(ep.RPCURL, "ws://") && !strings.HasPrefix(ep.RPCURL, "wss://") {
			errs = append(errs, ValidationError{
				Path:    path + ".rpc_url",
				Message: fmt.Sprintf("unsupported scheme in %q", ep.RPCURL),
				Hint:    "expected http(s):// or ws(s)://",
			})
		}
	}

	return errs
}

func (c *Config) validateSettlement() []error {
	var errs []error
	sc := c.Settlement

	if sc.Caller != "" && !common.IsHexAddress(sc.Caller) {
		errs = append(errs, ValidationError{
			Path:    "settlement.caller",
			Message: fmt.Sprintf("invalid address %q", sc.Caller),
			Hint:    "expected 0x-prefixed 20-byte hex",
		})
	}

	if sc.MaxAttempts < 1 {
		errs = append(errs, ValidationError{
			Path:    "settlement.max_attempts",
			Message: fmt.Sprintf("must be >= 1; got %d", sc.MaxAttempts),
		})
	}
	if sc.RetryBackoff < 0 {
		errs = append(errs, ValidationError{
			Path:    "settlement.retry_backoff",
			Message: fmt.Sprintf("must be >= 0; got %v", sc.RetryBackoff),
		})
	}
	if sc.MaxBackoff != 0 && sc.MaxBackoff < sc.RetryBackoff {
		errs = append(errs, ValidationError{
			Path:    "settlement.max_backoff",
			Message: fmt.Sprintf("must be >= retry_backoff (%v); got %v", sc.RetryBackoff, sc.MaxBackoff),
		})
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	log := c.Logging

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[log.Level] {
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", log.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}

	if log.OutputFile != "" {
		dir := filepath.Dir(log.OutputFile)
		if dir != "" && dir != "." {
			if err := validateDirWritable(dir); err != nil {
				errs = append(errs, ValidationError{
					Path:    "logging.output_file",
					Message: fmt.Sprintf("parent directory not writable: %v", err),
				})
			}
		}
	}

	return errs
}

func (c *Config) validateGateway() []error {
	var errs []error
	gw := c.Gateway

	if !gw.Enabled {
		return errs
	}

	if gw.ListenAddr == "" {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: "must not be empty when gateway is enabled",
			Hint:    "e.g., \":8080\"",
		})
	} else if _, _, err := net.SplitHostPort(gw.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: fmt.Sprintf("invalid listen address: %v", err),
			Hint:    "expected host:port",
		})
	}

	if gw.RequestTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "gateway.request_timeout",
			Message: fmt.Sprintf("must be > 0; got %v", gw.RequestTimeout),
		})
	}

	return errs
}

// Helper validation functions

func validateDataDir(path string) error {
	if path == "" {
		return fmt.Errorf("must not be empty")
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %v", err)
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}

	if info, err := os.Stat(expandedPath); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory")
		}
		testFile := filepath.Join(expandedPath, ".write_test")
		if err := os.WriteFile(testFile, []byte(""), 0644); err != nil {
			return fmt.Errorf("directory not writable: %v", err)
		}
		os.Remove(testFile)
	} else if os.IsNotExist(err) {
		// Missing directories are created at runtime; only reject an
		// unusable parent.
		parent := filepath.Dir(expandedPath)
		if parent == "" || parent == "." {
			return nil
		}
		if info, err := os.Stat(parent); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("parent directory not accessible: %v", err)
			}
		} else if !info.IsDir() {
			return fmt.Errorf("parent path is not a directory")
		}
	} else {
		return fmt.Errorf("cannot access path: %v", err)
	}

	return nil
}

func validateDirWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access directory: %v", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory")
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte(""), 0644); err != nil {
		return fmt.Errorf("directory not writable: %v", err)
	}
	os.Remove(testFile)

	return nil
}
