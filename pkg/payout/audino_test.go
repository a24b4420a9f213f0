package payout

import (
	"context"
	"testing"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

func audinoManifest() *Manifest {
	return &Manifest{
		Type: JobTypeAudioTranscription,
		Audino: &AudinoManifest{
			Annotation: CvatAnnotation{Type: JobTypeAudioTranscription, JobSize: 5},
		},
	}
}

func TestAudinoPotSplitAcrossJobs(t *testing.T) {
	downloader := fakeDownloader{annotationResultsURL: []byte(`{
		"jobs": [
			{"job_id": 1, "final_result_id": 11},
			{"job_id": 2, "final_result_id": 12},
			{"job_id": 3, "final_result_id": 13},
			{"job_id": 4, "final_result_id": 14}
		],
		"results": [
			{"id": 11, "job_id": 1, "annotator_wallet_address": "0x4000000000000000000000000000000000000001", "annotation_quality": 0.9},
			{"id": 12, "job_id": 2, "annotator_wallet_address": "0x4000000000000000000000000000000000000002", "annotation_quality": 0.9},
			{"id": 13, "job_id": 3, "annotator_wallet_address": "0x4000000000000000000000000000000000000001", "annotation_quality": 0.9},
			{"id": 14, "job_id": 4, "annotator_wallet_address": "0x4000000000000000000000000000000000000001", "annotation_quality": 0.9}
		]
	}`)}
	metadata := &fakeMetadata{meta: &EscrowMetadata{
		Token:             testToken,
		TotalFundedAmount: token.FromUint64(100),
	}}
	calc := NewAudinoCalculator(testLogger(t), downloader, metadata)

	payouts, err := calc.Calculate(context.Background(), testChainID, testEscrow, audinoManifest(), annotationResultsURL)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	// 100 funded across 4 jobs: 25 per job, accumulated per annotator.
	if len(payouts) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(payouts))
	}
	assertPayout(t, payouts[0], annotator1, "75")
	assertPayout(t, payouts[1], annotator2, "25")
}

func TestAudinoUnmatchedJobGetsNoShare(t *testing.T) {
	downloader := fakeDownloader{annotationResultsURL: []byte(`{
		"jobs": [
			{"job_id": 1, "final_result_id": 11},
			{"job_id": 2, "final_result_id": 99}
		],
		"results": [
			{"id": 11, "job_id": 1, "annotator_wallet_address": "0x4000000000000000000000000000000000000001", "annotation_quality": 0.9}
		]
	}`)}
	metadata := &fakeMetadata{meta: &EscrowMetadata{
		Token:             testToken,
		TotalFundedAmount: token.FromUint64(100),
	}}
	calc := NewAudinoCalculator(testLogger(t), downloader, metadata)

	payouts, err := calc.Calculate(context.Background(), testChainID, testEscrow, audinoManifest(), annotationResultsURL)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	// The per-job bounty divides by all declared jobs, matched or not: the
	// unmatched job's 50 stays in escrow.
	if len(payouts) != 1 {
		t.Fatalf("expected 1 payout, got %d", len(payouts))
	}
	assertPayout(t, payouts[0], annotator1, "50")
}

func TestAudinoEmptyMeta(t *testing.T) {
	downloader := fakeDownloader{annotationResultsURL: []byte(`{"jobs": [], "results": []}`)}
	metadata := &fakeMetadata{meta: &EscrowMetadata{Token: testToken}}
	calc := NewAudinoCalculator(testLogger(t), downloader, metadata)

	_, err := calc.Calculate(context.Background(), testChainID, testEscrow, audinoManifest(), annotationResultsURL)
	if !errors.HasCode(err, errors.CodeUpstreamData) {
		t.Fatalf("expected upstream data error, got %v", err)
	}
}
