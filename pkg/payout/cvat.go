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

// CvatCalculator credits the manifest-declared job bounty to the annotator
// behind each job's final result, accumulating per worker across jobs. The
// bounty is a decimal string parsed against the token's actual on-chain
// decimals. Jobs without a matching result (and results no job points at)
// are skipped silently; that tolerance is deliberate and changing it would
// change historical payout totals.
type CvatCalculator struct {
	logger     *logging.ColoredLogger
	downloader Downloader
	decimals   token.DecimalsLookup
	metadata   MetadataLookup
}

// NewCvatCalculator creates a CVAT calculator.
func NewCvatCalculator(logger *logging.ColoredLogger, downloader Downloader,
	decimals token.DecimalsLookup, metadata MetadataLookup) *CvatCalculator {
	return &CvatCalculator{logger: logger, downloader: downloader, decimals: decimals, metadata: metadata}
}

// Calculate implements Calculator.
func (c *CvatCalculator) Calculate(ctx context.Context, chainID uint64, escrowAddress common.Address,
	manifest *Manifest, finalResultsURL string) ([]CalculatedPayout, error) {

	if manifest == nil || manifest.Cvat == nil {
		return nil, errors.NewValidationError("annotation manifest required")
	}

	resultSet, err := downloadResultSet(ctx, c.downloader, finalResultsURL)
	if err != nil {
		return nil, err
	}

	meta, err := c.metadata.GetEscrow(ctx, chainID, escrowAddress)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve escrow metadata")
	}
	decimals, err := c.decimals.Decimals(ctx, chainID, meta.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve token decimals")
	}

	bounty, err := token.ParseUnits(manifest.Cvat.JobBounty, decimals)
	if err != nil {
		return nil, err
	}

	payouts, err := accumulateBounties(resultSet, func(AnnotationJob) (token.Amount, error) {
		return bounty, nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.ComponentDebug(logging.ComponentPayout, "annotation payouts calculated",
		zap.String("escrow", escrowAddress.Hex()),
		zap.Int("jobs", len(resultSet.Jobs)),
		zap.Int("recipients", len(payouts)),
	)
	return payouts, nil
}

// downloadResultSet fetches and validates the annotation result set.
// Both arrays must be non-empty; anything less is upstream data loss.
func downloadResultSet(ctx context.Context, downloader Downloader, url string) (*AnnotationResultSet, error) {
	blob, err := downloader.Download(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download final results")
	}

	var resultSet AnnotationResultSet
	if err := json.Unmarshal(blob, &resultSet); err != nil {
		return nil, errors.NewUpstreamDataError("malformed annotation meta", err).WithURL(url)
	}
	if len(resultSet.Jobs) == 0 || len(resultSet.Results) == 0 {
		return nil, errors.NewUpstreamDataError("no annotation meta found", nil).WithURL(url)
	}
	return &resultSet, nil
}

// accumulateBounties walks jobs in order, credits each matched final result's
// annotator, and returns payouts in first-seen worker order so output is
// deterministic.
func accumulateBounties(resultSet *AnnotationResultSet, bountyFor func(AnnotationJob) (token.Amount, error)) ([]CalculatedPayout, error) {
	byID := make(map[int]AnnotationResult, len(resultSet.Results))
	for _, r := range resultSet.Results {
		byID[r.ID] = r
	}

	accumulated := make(map[common.Address]token.Amount)
	var order []common.Address
	for _, job := range resultSet.Jobs {
		result, ok := byID[job.FinalResultID]
		if !ok {
			continue
		}
		if !common.IsHexAddress(result.AnnotatorWalletAddress) {
			return nil, errors.NewUpstreamDataError("malformed annotator address "+result.AnnotatorWalletAddress, nil)
		}
		bounty, err := bountyFor(job)
		if err != nil {
			return nil, err
		}
		addr := common.HexToAddress(result.AnnotatorWalletAddress)
		if _, seen := accumulated[addr]; !seen {
			order = append(order, addr)
		}
		accumulated[addr] = accumulated[addr].Add(bounty)
	}

	payouts := make([]CalculatedPayout, 0, len(order))
	for _, addr := range order {
		payouts = append(payouts, CalculatedPayout{Address: addr, Amount: accumulated[addr]})
	}
	return payouts, nil
}
