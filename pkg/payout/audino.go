package payout

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/logging"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

// AudinoCalculator pays transcription jobs from the funded pot directly:
// there is no manifest bounty, each job is worth totalFundedAmount divided
// by the number of jobs in the result set. Matching and accumulation work
// the same way as for image annotation.
type AudinoCalculator struct {
	logger     *logging.ColoredLogger
	downloader Downloader
	metadata   MetadataLookup
}

// NewAudinoCalculator creates an audio-transcription calculator.
func NewAudinoCalculator(logger *logging.ColoredLogger, downloader Downloader, metadata MetadataLookup) *AudinoCalculator {
	return &AudinoCalculator{logger: logger, downloader: downloader, metadata: metadata}
}

// Calculate implements Calculator.
func (c *AudinoCalculator) Calculate(ctx context.Context, chainID uint64, escrowAddress common.Address,
	manifest *Manifest, finalResultsURL string) ([]CalculatedPayout, error) {

	if manifest == nil || manifest.Audino == nil {
		return nil, errors.NewValidationError("transcription manifest required")
	}

	resultSet, err := downloadResultSet(ctx, c.downloader, finalResultsURL)
	if err != nil {
		return nil, err
	}

	meta, err := c.metadata.GetEscrow(ctx, chainID, escrowAddress)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve escrow metadata")
	}

	bounty, err := meta.TotalFundedAmount.DivUint64(uint64(len(resultSet.Jobs)))
	if err != nil {
		return nil, err
	}

	payouts, err := accumulateBounties(resultSet, func(AnnotationJob) (token.Amount, error) {
		return bounty, nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.ComponentDebug(logging.ComponentPayout, "transcription payouts calculated",
		zap.String("escrow", escrowAddress.Hex()),
		zap.Int("jobs", len(resultSet.Jobs)),
		zap.Int("recipients", len(payouts)),
		zap.String("jobBounty", bounty.String()),
	)
	return payouts, nil
}
