package payout

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/logging"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

// fortuneDecimals is the precision fortune pots are declared in: the fund
// amount is a plain token count, always scaled by 18.
const fortuneDecimals = 18

// FortuneCalculator splits the declared pot equally among every worker whose
// submission carries no error. An empty or fully-errored result set is a
// hard failure, not an empty payout list.
type FortuneCalculator struct {
	logger     *logging.ColoredLogger
	downloader Downloader
}

// NewFortuneCalculator creates a fortune calculator.
func NewFortuneCalculator(logger *logging.ColoredLogger, downloader Downloader) *FortuneCalculator {
	return &FortuneCalculator{logger: logger, downloader: downloader}
}

// Calculate implements Calculator.
func (c *FortuneCalculator) Calculate(ctx context.Context, chainID uint64, escrowAddress common.Address,
	manifest *Manifest, finalResultsURL string) ([]CalculatedPayout, error) {

	if manifest == nil || manifest.Fortune == nil {
		return nil, errors.NewValidationError("fortune manifest required")
	}

	blob, err := c.downloader.Download(ctx, finalResultsURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download final results")
	}

	var results []FortuneResult
	if err := json.Unmarshal(blob, &results); err != nil {
		return nil, errors.NewUpstreamDataError("malformed fortune results", err).WithURL(finalResultsURL)
	}
	if len(results) == 0 {
		return nil, errors.NewUpstreamDataError("no intermediate results found", nil).WithURL(finalResultsURL)
	}

	var recipients []common.Address
	for _, r := range results {
		if r.Error != "" {
			continue
		}
		if !common.IsHexAddress(r.WorkerAddress) {
			return nil, errors.NewUpstreamDataError("malformed worker address "+r.WorkerAddress, nil)
		}
		recipients = append(recipients, common.HexToAddress(r.WorkerAddress))
	}
	if len(recipients) == 0 {
		return nil, errors.NewUpstreamDataError("no qualified results", nil).WithURL(finalResultsURL)
	}

	pot, err := token.ParseUnits(manifest.Fortune.FundAmount.String(), fortuneDecimals)
	if err != nil {
		return nil, err
	}
	share, err := pot.DivUint64(uint64(len(recipients)))
	if err != nil {
		return nil, err
	}

	payouts := make([]CalculatedPayout, len(recipients))
	for i, addr := range recipients {
		payouts[i] = CalculatedPayout{Address: addr, Amount: share}
	}

	c.logger.ComponentDebug(logging.ComponentPayout, "fortune payouts calculated",
		zap.String("escrow", escrowAddress.Hex()),
		zap.Int("recipients", len(payouts)),
		zap.String("share", share.String()),
	)
	return payouts, nil
}
