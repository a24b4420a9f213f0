package payout

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/logging"
)

var (
	testToken   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testEscrow  = common.HexToAddress("0x6000000000000000000000000000000000000001")
	annotator1  = common.HexToAddress("0x4000000000000000000000000000000000000001")
	annotator2  = common.HexToAddress("0x4000000000000000000000000000000000000002")
	testChainID = uint64(137)
)

// fakeDownloader serves canned blobs by URL.
type fakeDownloader map[string][]byte

func (d fakeDownloader) Download(_ context.Context, url string) ([]byte, error) {
	blob, ok := d[url]
	if !ok {
		return nil, errors.NewUpstreamDataError("blob request failed", nil).WithURL(url)
	}
	return blob, nil
}

// fakeMetadata serves a single escrow's metadata.
type fakeMetadata struct {
	meta *EscrowMetadata
}

func (m *fakeMetadata) GetEscrow(_ context.Context, _ uint64, _ common.Address) (*EscrowMetadata, error) {
	return m.meta, nil
}

func testLogger(t *testing.T) *logging.ColoredLogger {
	t.Helper()
	logger, err := logging.NewColoredLogger(logging.ComponentPayout, false)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func assertPayout(t *testing.T, got CalculatedPayout, addr common.Address, amount string) {
	t.Helper()
	if got.Address != addr {
		t.Fatalf("payout address = %s, want %s", got.Address.Hex(), addr.Hex())
	}
	if got.Amount.String() != amount {
		t.Fatalf("payout amount = %s, want %s", got.Amount, amount)
	}
}

func TestRegistryRejectsUnknownJobType(t *testing.T) {
	r := Registry{JobTypeFortune: NewFortuneCalculator(testLogger(t), fakeDownloader{})}

	if _, err := r.For(JobTypeFortune); err != nil {
		t.Fatalf("known job type failed: %v", err)
	}
	if _, err := r.For(JobType("captcha")); !errors.HasCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
