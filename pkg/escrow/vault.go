package escrow

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

// TokenVault is the custody transaction primitive the ledger moves value
// through. Implementations must apply each call atomically; the ledger
// guarantees calls for one escrow are serialized. The ledger commits its
// journal before invoking Transfer, so a transfer the ledger's balance
// checks admitted must not fail, or the journal runs ahead of custody.
type TokenVault interface {
	// Credit moves value into an escrow's custody account.
	Credit(tok common.Address, account string, amount token.Amount) error
	// Transfer moves value out of an escrow's custody account to a wallet.
	Transfer(tok common.Address, account string, to common.Address, amount token.Amount) error
	// Balance returns the custody balance of an escrow account. This can
	// exceed the ledger's accounting balance when value was credited
	// outside a Deposit (the Withdraw operation recovers the excess).
	Balance(tok common.Address, account string) token.Amount
}

// MemoryVault is the in-process reference vault. Wallet balances are kept
// too so tests can assert on where funds ended up.
type MemoryVault struct {
	mu       sync.Mutex
	custody  map[string]token.Amount // token:account -> amount
	wallets  map[string]token.Amount // token:address -> amount
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		custody: make(map[string]token.Amount),
		wallets: make(map[string]token.Amount),
	}
}

func custodyKey(tok common.Address, account string) string {
	return tok.Hex() + ":" + account
}

func walletKey(tok, addr common.Address) string {
	return tok.Hex() + ":" + addr.Hex()
}

// Credit implements TokenVault.
func (v *MemoryVault) Credit(tok common.Address, account string, amount token.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := custodyKey(tok, account)
	v.custody[key] = v.custody[key].Add(amount)
	return nil
}

// Transfer implements TokenVault.
func (v *MemoryVault) Transfer(tok common.Address, account string, to common.Address, amount token.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := custodyKey(tok, account)
	held := v.custody[key]
	remaining, err := held.Sub(amount)
	if err != nil {
		return errors.NewInsufficientFundsError(
			fmt.Sprintf("custody account %s holds %s, cannot transfer %s", account, held, amount))
	}
	v.custody[key] = remaining

	wkey := walletKey(tok, to)
	v.wallets[wkey] = v.wallets[wkey].Add(amount)
	return nil
}

// Balance implements TokenVault.
func (v *MemoryVault) Balance(tok common.Address, account string) token.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.custody[custodyKey(tok, account)]
}

// WalletBalance returns the amount a wallet has received from the vault.
func (v *MemoryVault) WalletBalance(tok, addr common.Address) token.Amount {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallets[walletKey(tok, addr)]
}
