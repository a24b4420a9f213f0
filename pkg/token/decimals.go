package token

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/logging"
)

// DecimalsLookup resolves a token's decimal precision on a given chain.
type DecimalsLookup interface {
	Decimals(ctx context.Context, chainID uint64, token common.Address) (uint8, error)
}

// StaticDecimals is a fixed in-memory lookup, used in tests and local mode.
type StaticDecimals map[common.Address]uint8

// Decimals implements DecimalsLookup.
func (s StaticDecimals) Decimals(_ context.Context, _ uint64, token common.Address) (uint8, error) {
	d, ok := s[token]
	if !ok {
		return 0, errors.NewNotFoundError("token", token.Hex())
	}
	return d, nil
}

const erc20DecimalsABI = `[{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}]`

// ChainRegistry resolves token decimals by calling the ERC-20 decimals()
// view through per-chain RPC clients. Results never change for a deployed
// token, so they are cached forever.
type ChainRegistry struct {
	logger  *logging.ColoredLogger
	clients map[uint64]*ethclient.Client
	abi     abi.ABI

	mu    sync.RWMutex
	cache map[string]uint8
}

// NewChainRegistry dials the given chainID -> RPC URL endpoints.
func NewChainRegistry(logger *logging.ColoredLogger, rpcURLs map[uint64]string) (*ChainRegistry, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20DecimalsABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	clients := make(map[uint64]*ethclient.Client, len(rpcURLs))
	for chainID, url := range rpcURLs {
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("failed to dial chain %d at %s: %w", chainID, url, err)
		}
		clients[chainID] = client
	}

	return &ChainRegistry{
		logger:  logger,
		clients: clients,
		abi:     parsed,
		cache:   make(map[string]uint8),
	}, nil
}

// Decimals implements DecimalsLookup.
func (r *ChainRegistry) Decimals(ctx context.Context, chainID uint64, token common.Address) (uint8, error) {
	key := fmt.Sprintf("%d:%s", chainID, token.Hex())

	r.mu.RLock()
	if d, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	r.mu.RUnlock()

	client, ok := r.clients[chainID]
	if !ok {
		return 0, errors.NewNotFoundError("chain", fmt.Sprintf("%d", chainID))
	}

	data, err := r.abi.Pack("decimals")
	if err != nil {
		return 0, errors.NewInternalError("failed to pack decimals call", err)
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "decimals call failed for token %s on chain %d", token.Hex(), chainID)
	}

	var decimals uint8
	if err := r.abi.UnpackIntoInterface(&decimals, "decimals", out); err != nil {
		return 0, errors.NewInternalError("failed to unpack decimals result", err)
	}

	r.mu.Lock()
	r.cache[key] = decimals
	r.mu.Unlock()

	r.logger.ComponentDebug(logging.ComponentChain, "resolved token decimals",
		zap.Uint64("chain_id", chainID),
		zap.String("token", token.Hex()),
		zap.Uint8("decimals", decimals),
	)
	return decimals, nil
}

// Close closes all RPC clients.
func (r *ChainRegistry) Close() {
	for _, client := range r.clients {
		client.Close()
	}
}
