package payout

import (
	"context"
	"testing"

	"github.com/crowdforge/escrow-engine/pkg/errors"
)

const fortuneResultsURL = "s3://results/fortune.json"

func TestFortuneEqualSplit(t *testing.T) {
	downloader := fakeDownloader{
		fortuneResultsURL: []byte(`[
			{"workerAddress":"0x4000000000000000000000000000000000000001","solution":"a"},
			{"workerAddress":"0x4000000000000000000000000000000000000002","solution":"b"},
			{"workerAddress":"0x4000000000000000000000000000000000000003","solution":"c","error":"duplicated"}
		]`),
	}
	calc := NewFortuneCalculator(testLogger(t), downloader)

	manifest := &Manifest{Type: JobTypeFortune, Fortune: &FortuneManifest{FundAmount: "30"}}
	payouts, err := calc.Calculate(context.Background(), testChainID, testEscrow, manifest, fortuneResultsURL)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	// 30 tokens at 18 decimals, split across the two error-free workers.
	if len(payouts) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(payouts))
	}
	assertPayout(t, payouts[0], annotator1, "15000000000000000000")
	assertPayout(t, payouts[1], annotator2, "15000000000000000000")
}

func TestFortuneFlooredShare(t *testing.T) {
	downloader := fakeDownloader{
		fortuneResultsURL: []byte(`[
			{"workerAddress":"0x4000000000000000000000000000000000000001","solution":"a"},
			{"workerAddress":"0x4000000000000000000000000000000000000002","solution":"b"},
			{"workerAddress":"0x4000000000000000000000000000000000000004","solution":"c"}
		]`),
	}
	calc := NewFortuneCalculator(testLogger(t), downloader)

	manifest := &Manifest{Type: JobTypeFortune, Fortune: &FortuneManifest{FundAmount: "1"}}
	payouts, err := calc.Calculate(context.Background(), testChainID, testEscrow, manifest, fortuneResultsURL)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	// floor(1e18 / 3); the dust stays in escrow and returns to the launcher.
	for _, p := range payouts {
		if p.Amount.String() != "333333333333333333" {
			t.Fatalf("share = %s", p.Amount)
		}
	}
}

func TestFortuneEmptyResults(t *testing.T) {
	downloader := fakeDownloader{fortuneResultsURL: []byte(`[]`)}
	calc := NewFortuneCalculator(testLogger(t), downloader)

	manifest := &Manifest{Type: JobTypeFortune, Fortune: &FortuneManifest{FundAmount: "30"}}
	_, err := calc.Calculate(context.Background(), testChainID, testEscrow, manifest, fortuneResultsURL)
	if !errors.HasCode(err, errors.CodeUpstreamData) {
		t.Fatalf("expected upstream data error, got %v", err)
	}
}

func TestFortuneAllErrored(t *testing.T) {
	downloader := fakeDownloader{
		fortuneResultsURL: []byte(`[
			{"workerAddress":"0x4000000000000000000000000000000000000001","solution":"a","error":"junk"}
		]`),
	}
	calc := NewFortuneCalculator(testLogger(t), downloader)

	manifest := &Manifest{Type: JobTypeFortune, Fortune: &FortuneManifest{FundAmount: "30"}}
	_, err := calc.Calculate(context.Background(), testChainID, testEscrow, manifest, fortuneResultsURL)
	if !errors.HasCode(err, errors.CodeUpstreamData) {
		t.Fatalf("expected upstream data error, got %v", err)
	}
}

func TestFortuneMalformedWorkerAddress(t *testing.T) {
	downloader := fakeDownloader{
		fortuneResultsURL: []byte(`[{"workerAddress":"not-an-address","solution":"a"}]`),
	}
	calc := NewFortuneCalculator(testLogger(t), downloader)

	manifest := &Manifest{Type: JobTypeFortune, Fortune: &FortuneManifest{FundAmount: "30"}}
	_, err := calc.Calculate(context.Background(), testChainID, testEscrow, manifest, fortuneResultsURL)
	if !errors.HasCode(err, errors.CodeUpstreamData) {
		t.Fatalf("expected upstream data error, got %v", err)
	}
}
