package payout

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

// CalculatedPayout is one worker's share of a settlement round.
type CalculatedPayout struct {
	Address common.Address `json:"address"`
	Amount  token.Amount   `json:"amount"`
}

// Calculator decides how a pot is split among workers from job-type-specific
// result data. Calculators are pure with respect to funds: they never move
// value, they only compute the recipients/amounts that BulkPayOut consumes.
// The entire output is materialized before it is handed to the ledger.
type Calculator interface {
	Calculate(ctx context.Context, chainID uint64, escrowAddress common.Address,
		manifest *Manifest, finalResultsURL string) ([]CalculatedPayout, error)
}

// Downloader fetches result blobs from object storage.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// EscrowMetadata is what the indexer knows about a deployed escrow.
type EscrowMetadata struct {
	Launcher          common.Address
	Token             common.Address
	ReputationOracle  common.Address
	RecordingOracle   common.Address
	ExchangeOracle    common.Address
	Status            string
	Balance           token.Amount
	TotalFundedAmount token.Amount
	ManifestURL       string
	FinalResultsURL   string
}

// MetadataLookup resolves escrow metadata on a given chain.
type MetadataLookup interface {
	GetEscrow(ctx context.Context, chainID uint64, escrowAddress common.Address) (*EscrowMetadata, error)
}

// Registry maps job types to their calculator.
type Registry map[JobType]Calculator

// For returns the calculator for a job type.
func (r Registry) For(jobType JobType) (Calculator, error) {
	c, ok := r[jobType]
	if !ok {
		return nil, errors.NewValidationError("unsupported job type").WithField(string(jobType))
	}
	return c, nil
}
