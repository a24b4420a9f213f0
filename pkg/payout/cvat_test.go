package payout

import (
	"context"
	"testing"

	"github.com/crowdforge/escrow-engine/pkg/errors"
	"github.com/crowdforge/escrow-engine/pkg/token"
)

const annotationResultsURL = "s3://results/annotation-meta.json"

func cvatFixture(t *testing.T, resultSet []byte) *CvatCalculator {
	t.Helper()
	downloader := fakeDownloader{annotationResultsURL: resultSet}
	decimals := token.StaticDecimals{testToken: 6}
	metadata := &fakeMetadata{meta: &EscrowMetadata{
		Token:             testToken,
		Balance:           token.FromUint64(100_000_000),
		TotalFundedAmount: token.FromUint64(100_000_000),
	}}
	return NewCvatCalculator(testLogger(t), downloader, decimals, metadata)
}

func cvatManifest(jobBounty string) *Manifest {
	return &Manifest{
		Type: JobTypeImageBoxes,
		Cvat: &CvatManifest{
			Annotation: CvatAnnotation{Type: JobTypeImageBoxes, JobSize: 10},
			Validation: CvatValidation{MinQuality: 0.8},
			JobBounty:  jobBounty,
		},
	}
}

func TestCvatBountyPerMatchedJob(t *testing.T) {
	// Two jobs resolve to annotator1's results, one to annotator2's.
	calc := cvatFixture(t, []byte(`{
		"jobs": [
			{"job_id": 1, "final_result_id": 11},
			{"job_id": 2, "final_result_id": 12},
			{"job_id": 3, "final_result_id": 13}
		],
		"results": [
			{"id": 11, "job_id": 1, "annotator_wallet_address": "0x4000000000000000000000000000000000000001", "annotation_quality": 0.95},
			{"id": 12, "job_id": 2, "annotator_wallet_address": "0x4000000000000000000000000000000000000002", "annotation_quality": 0.91},
			{"id": 13, "job_id": 3, "annotator_wallet_address": "0x4000000000000000000000000000000000000001", "annotation_quality": 0.88}
		]
	}`))

	payouts, err := calc.Calculate(context.Background(), testChainID, testEscrow, cvatManifest("1.5"), annotationResultsURL)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}

	// "1.5" at the token's 6 decimals is 1,500,000 base units per job.
	if len(payouts) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(payouts))
	}
	assertPayout(t, payouts[0], annotator1, "3000000")
	assertPayout(t, payouts[1], annotator2, "1500000")
}

func TestCvatBountyPrecision(t *testing.T) {
	calc := cvatFixture(t, []byte(`{
		"jobs": [{"job_id": 1, "final_result_id": 11}],
		"results": [{"id": 11, "job_id": 1, "annotator_wallet_address": "0x4000000000000000000000000000000000000001", "annotation_quality": 0.9}]
	}`))

	// Seven fractional digits against a 6-decimal token must fail loudly,
	// not round.
	_, err := calc.Calculate(context.Background(), testChainID, testEscrow, cvatManifest("0.1234567"), annotationResultsURL)
	if !errors.HasCode(err, errors.CodePrecision) {
		t.Fatalf("expected precision error, got %v", err)
	}
}

func TestCvatUnmatchedJobsSkipped(t *testing.T) {
	calc := cvatFixture(t, []byte(`{
		"jobs": [
			{"job_id": 1, "final_result_id": 11},
			{"job_id": 2, "final_result_id": 99}
		],
		"results": [
			{"id": 11, "job_id": 1, "annotator_wallet_address": "0x4000000000000000000000000000000000000001", "annotation_quality": 0.9}
		]
	}`))

	payouts, err := calc.Calculate(context.Background(), testChainID, testEscrow, cvatManifest("2"), annotationResultsURL)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if len(payouts) != 1 {
		t.Fatalf("expected 1 payout, got %d", len(payouts))
	}
	assertPayout(t, payouts[0], annotator1, "2000000")
}

func TestCvatEmptyResultSet(t *testing.T) {
	for _, blob := range []string{
		`{"jobs": [], "results": []}`,
		`{"jobs": [{"job_id": 1, "final_result_id": 11}], "results": []}`,
	} {
		calc := cvatFixture(t, []byte(blob))
		_, err := calc.Calculate(context.Background(), testChainID, testEscrow, cvatManifest("1"), annotationResultsURL)
		if !errors.HasCode(err, errors.CodeUpstreamData) {
			t.Fatalf("expected upstream data error for %s, got %v", blob, err)
		}
	}
}
