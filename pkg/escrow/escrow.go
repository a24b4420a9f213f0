package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdforge/escrow-engine/pkg/token"
)

// Status is the lifecycle state of an escrow.
type Status uint8

const (
	// Launched is the initial, unfunded state.
	Launched Status = iota
	// Pending means setup has bound oracles and fee splits.
	Pending
	// Partial means some, but not all, reserved funds have been paid out.
	Partial
	// Paid is a legacy state kept for escrows settled by older tooling;
	// no current transition produces it, but Complete() accepts it.
	Paid
	// Complete is terminal: all funds settled.
	Complete
	// Cancelled is terminal: funds returned to the launcher.
	Cancelled
	// ToCancel flags a pending cancellation, reconciled lazily by the next
	// reservation or payout call.
	ToCancel
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Launched:
		return "Launched"
	case Pending:
		return "Pending"
	case Partial:
		return "Partial"
	case Paid:
		return "Paid"
	case Complete:
		return "Complete"
	case Cancelled:
		return "Cancelled"
	case ToCancel:
		return "ToCancel"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further mutating operation is legal.
func (s Status) Terminal() bool {
	return s == Complete || s == Cancelled
}

// BulkMaxRecipients caps a single bulk payout.
const BulkMaxRecipients = 100

// MaxFeePercentage caps the summed oracle fee split.
const MaxFeePercentage = 100

// Escrow is the fund-custody unit bound to one job. All fields are mutated
// exclusively through Ledger operations; callers only ever see copies.
type Escrow struct {
	ID     string         `json:"id"`
	Token  common.Address `json:"token"`
	Status Status         `json:"status"`

	Launcher common.Address `json:"launcher"`
	Admin    common.Address `json:"admin"`

	ReputationOracle common.Address `json:"reputationOracle"`
	RecordingOracle  common.Address `json:"recordingOracle"`
	ExchangeOracle   common.Address `json:"exchangeOracle"`

	ReputationFee uint8 `json:"reputationFee"`
	RecordingFee  uint8 `json:"recordingFee"`
	ExchangeFee   uint8 `json:"exchangeFee"`

	ManifestURL  string `json:"manifestUrl"`
	ManifestHash string `json:"manifestHash"`

	IntermediateResultsURL  string `json:"intermediateResultsUrl"`
	IntermediateResultsHash string `json:"intermediateResultsHash"`

	FinalResultsURL  string `json:"finalResultsUrl"`
	FinalResultsHash string `json:"finalResultsHash"`

	// Balance is the accounting balance: funds deposited and not yet paid
	// out or refunded. ReservedFunds is the portion earmarked for an
	// already-recorded result set; ReservedFunds <= Balance always holds.
	Balance       token.Amount `json:"balance"`
	ReservedFunds token.Amount `json:"reservedFunds"`
}

// clone returns a deep copy safe to hand to callers.
func (e *Escrow) clone() *Escrow {
	c := *e
	return &c
}

// isLauncherOrAdmin reports whether caller may run launcher-level operations.
func (e *Escrow) isLauncherOrAdmin(caller common.Address) bool {
	return caller == e.Launcher || caller == e.Admin
}
