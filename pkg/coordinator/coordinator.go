package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/escrow"
	"github.com/crowdforge/escrow-engine/pkg/logging"
	"github.com/crowdforge/escrow-engine/pkg/payout"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

// Ledger is the slice of escrow operations settlement needs.
type Ledger interface {
	Get(id string) (*escrow.Escrow, error)
	BulkPayOut(id string, caller common.Address, recipients []common.Address,
		amounts []token.Amount, resultURL, resultHash, payoutID string, forceComplete bool) error
}

// BlobStore downloads oracle blobs, verifying recorded content hashes.
type BlobStore interface {
	DownloadVerified(ctx context.Context, url, expectedHash string) ([]byte, error)
}

// SettlementStatus tracks one escrow through Settle.
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementPaid    SettlementStatus = "paid"
	SettlementFailed  SettlementStatus = "failed"
)

// SettlementRecord is the coordinator's bookkeeping for one settlement.
type SettlementRecord struct {
	EscrowID   string           `json:"escrowId"`
	ChainID    uint64           `json:"chainId"`
	Status     SettlementStatus `json:"status"`
	JobType    payout.JobType   `json:"jobType,omitempty"`
	Attempts   int              `json:"attempts"`
	Recipients int              `json:"recipients,omitempty"`
	Total      string           `json:"total,omitempty"`
	LastError  string           `json:"lastError,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// RetryPolicy bounds the payout retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the settlement defaults shipped in config.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// Coordinator drives a full settlement round: resolve the escrow, fetch and
// parse the manifest, run the job-type calculator, and apply the result
// through one BulkPayOut. Calculation never moves funds; only the final
// ledger call does, and it is guarded by a payout id minted per attempt.
type Coordinator struct {
	logger      *logging.ColoredLogger
	ledger      Ledger
	blobs       BlobStore
	calculators payout.Registry
	caller      common.Address
	retry       RetryPolicy
	forceAll    bool

	mu      sync.RWMutex
	records map[string]*SettlementRecord
}

// New creates a coordinator settling on behalf of caller, the reputation
// oracle identity the ledger authorizes for payouts. forceComplete makes
// every settlement finalize the escrow even when funds stay reserved,
// regardless of the per-call flag.
func New(logger *logging.ColoredLogger, ledger Ledger, blobs BlobStore,
	calculators payout.Registry, caller common.Address, retry RetryPolicy,
	forceComplete bool) *Coordinator {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Coordinator{
		logger:      logger,
		ledger:      ledger,
		blobs:       blobs,
		calculators: calculators,
		caller:      caller,
		retry:       retry,
		forceAll:    forceComplete,
		records:     make(map[string]*SettlementRecord),
	}
}

// Record returns the settlement record for an escrow, if any.
func (c *Coordinator) Record(escrowID string) (*SettlementRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[escrowID]
	if !ok {
		return nil, false
	}
	copied := *r
	return &copied, true
}

// Records returns a snapshot of all settlement records.
func (c *Coordinator) Records() []*SettlementRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*SettlementRecord, 0, len(c.records))
	for _, r := range c.records {
		copied := *r
		out = append(out, &copied)
	}
	return out
}

func (c *Coordinator) update(escrowID string, fn func(*SettlementRecord)) *SettlementRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records[escrowID]
	if !ok {
		r = &SettlementRecord{EscrowID: escrowID, Status: SettlementPending}
		c.records[escrowID] = r
	}
	fn(r)
	r.UpdatedAt = time.Now().UTC()
	copied := *r
	return &copied
}

// Settle runs one settlement round for the escrow and returns the final
// record. Upstream data and precision failures are terminal: retrying will
// not change the inputs. Only internal failures (store, transfer) are
// retried, with a fresh payout id each attempt so a half-applied round can
// never double-pay.
func (c *Coordinator) Settle(ctx context.Context, chainID uint64, escrowID string, forceComplete bool) (*SettlementRecord, error) {
	forceComplete = forceComplete || c.forceAll
	c.update(escrowID, func(r *SettlementRecord) {
		r.ChainID = chainID
		r.Status = SettlementPending
		r.LastError = ""
	})

	payouts, jobType, resultsURL, resultsHash, err := c.calculate(ctx, chainID, escrowID)
	if err != nil {
		return c.fail(escrowID, err), err
	}
	c.update(escrowID, func(r *SettlementRecord) { r.JobType = jobType })

	recipients := make([]common.Address, len(payouts))
	amounts := make([]token.Amount, len(payouts))
	for i, p := range payouts {
		recipients[i] = p.Address
		amounts[i] = p.Amount
	}
	total := token.Sum(amounts)

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		payoutID := uuid.NewString()
		c.update(escrowID, func(r *SettlementRecord) { r.Attempts++ })

		lastErr = c.ledger.BulkPayOut(escrowID, c.caller, recipients, amounts,
			resultsURL, resultsHash, payoutID, forceComplete)
		if lastErr == nil {
			rec := c.update(escrowID, func(r *SettlementRecord) {
				r.Status = SettlementPaid
				r.Recipients = len(recipients)
				r.Total = total.String()
				r.LastError = ""
			})
			c.logger.ComponentInfo(logging.ComponentCoordinator, "settlement paid",
				zap.String("escrow_id", escrowID),
				zap.String("payout_id", payoutID),
				zap.Int("recipients", len(recipients)),
				zap.String("total", total.String()),
			)
			return rec, nil
		}

		if !retryable(lastErr) {
			break
		}
		c.logger.ComponentWarn(logging.ComponentCoordinator, "payout attempt failed, retrying",
			zap.String("escrow_id", escrowID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			return c.fail(escrowID, lastErr), lastErr
		case <-time.After(c.backoff(attempt)):
		}
	}

	return c.fail(escrowID, lastErr), lastErr
}

// calculate resolves the escrow, parses its manifest and runs the matching
// calculator. It touches no funds.
func (c *Coordinator) calculate(ctx context.Context, chainID uint64, escrowID string) ([]payout.CalculatedPayout, payout.JobType, string, string, error) {
	e, err := c.ledger.Get(escrowID)
	if err != nil {
		return nil, "", "", "", err
	}
	if e.IntermediateResultsURL == "" {
		return nil, "", "", "", errors.NewInvalidStateError(e.Status.String())
	}
	if !common.IsHexAddress(e.ID) {
		return nil, "", "", "", errors.NewValidationError("escrow id is not an address").WithField(e.ID)
	}

	manifestBlob, err := c.blobs.DownloadVerified(ctx, e.ManifestURL, e.ManifestHash)
	if err != nil {
		return nil, "", "", "", err
	}
	manifest, err := payout.ParseManifest(manifestBlob)
	if err != nil {
		return nil, "", "", "", err
	}

	calc, err := c.calculators.For(manifest.Type)
	if err != nil {
		return nil, manifest.Type, "", "", err
	}

	payouts, err := calc.Calculate(ctx, chainID, common.HexToAddress(e.ID), manifest, e.IntermediateResultsURL)
	if err != nil {
		return nil, manifest.Type, "", "", err
	}
	return payouts, manifest.Type, e.IntermediateResultsURL, e.IntermediateResultsHash, nil
}

func (c *Coordinator) fail(escrowID string, err error) *SettlementRecord {
	msg := "settlement failed"
	if err != nil {
		msg = err.Error()
	}
	rec := c.update(escrowID, func(r *SettlementRecord) {
		r.Status = SettlementFailed
		r.LastError = msg
	})
	c.logger.ComponentError(logging.ComponentCoordinator, "settlement failed",
		zap.String("escrow_id", escrowID),
		zap.Error(err),
	)
	return rec
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.retry.BaseDelay << uint(attempt-1)
	if c.retry.MaxDelay > 0 && d > c.retry.MaxDelay {
		d = c.retry.MaxDelay
	}
	return d
}

// retryable reports whether a payout failure might succeed on retry.
// Domain rejections are deterministic; only internal faults qualify.
func retryable(err error) bool {
	return errors.HasCode(err, errors.CodeInternal)
}
