package main

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdforge/escrow-engine/pkg/escrow"
	"github.com/crowdforge/escrow-engine/pkg/payout"
)

// ledgerMetadata answers calculator metadata lookups from the local ledger.
// Escrow ids are hex addresses, so the lookup key is the address itself.
type ledgerMetadata struct {
	ledger *escrow.Ledger
}

// GetEscrow implements payout.MetadataLookup.
func (m *ledgerMetadata) GetEscrow(_ context.Context, _ uint64, escrowAddress common.Address) (*payout.EscrowMetadata, error) {
	e, err := m.ledger.Get(escrowAddress.Hex())
	if err != nil {
		return nil, err
	}
	return &payout.EscrowMetadata{
		Launcher:         e.Launcher,
		Token:            e.Token,
		ReputationOracle: e.ReputationOracle,
		RecordingOracle:  e.RecordingOracle,
		ExchangeOracle:   e.ExchangeOracle,
		Status:           e.Status.String(),
		Balance:          e.Balance,
		// The remaining pot is what Audino splits per job; at settlement
		// time nothing has been paid out yet, so Balance is the pot.
		TotalFundedAmount: e.Balance,
		ManifestURL:       e.ManifestURL,
		FinalResultsURL:   e.FinalResultsURL,
	}, nil
}
