package payout

import (
	"encoding/json"

	"github.com/crowdforge/escrow-engine/pkg/errors"
)

// JobType tags a manifest with the kind of work it describes.
type JobType string

const (
	JobTypeFortune JobType = "fortune"

	JobTypeImageBoxes              JobType = "image_boxes"
	JobTypeImagePoints             JobType = "image_points"
	JobTypeImagePolygons           JobType = "image_polygons"
	JobTypeImageBoxesFromPoints    JobType = "image_boxes_from_points"
	JobTypeImageSkeletonsFromBoxes JobType = "image_skeletons_from_boxes"

	JobTypeAudioTranscription JobType = "audio_transcription"
)

// NumberString is a decimal that decodes from either a JSON number or a
// numeric string; manifest producers disagree on the encoding.
type NumberString string

// UnmarshalJSON implements json.Unmarshaler.
func (n *NumberString) UnmarshalJSON(data []byte) error {
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*n = NumberString(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*n = NumberString(s)
	return nil
}

// String returns the decimal text.
func (n NumberString) String() string { return string(n) }

// FortuneManifest describes a fortune job: a flat pot split equally among
// workers who submitted a valid solution.
type FortuneManifest struct {
	RequesterTitle       string       `json:"requesterTitle"`
	RequesterDescription string       `json:"requesterDescription"`
	SubmissionsRequired  int          `json:"submissionsRequired"`
	FundAmount           NumberString `json:"fundAmount"`
}

// CvatAnnotation holds the annotation parameters shared by CVAT job types.
type CvatAnnotation struct {
	Type    JobType `json:"type"`
	JobSize int     `json:"job_size"`
}

// CvatValidation holds the quality gate parameters.
type CvatValidation struct {
	MinQuality float64 `json:"min_quality"`
}

// CvatManifest describes an image-annotation job with a manifest-declared
// per-job bounty.
type CvatManifest struct {
	Annotation CvatAnnotation `json:"annotation"`
	Validation CvatValidation `json:"validation"`
	JobBounty  string         `json:"job_bounty"`
}

// AudinoManifest describes an audio-transcription job. Unlike CVAT there is
// no declared bounty: the whole pot is split equally across jobs.
type AudinoManifest struct {
	Annotation CvatAnnotation `json:"annotation"`
	Validation CvatValidation `json:"validation"`
}

// Manifest is the tagged variant handed to calculators. Exactly one of the
// job-type pointers is set, matching Type.
type Manifest struct {
	Type    JobType
	Fortune *FortuneManifest
	Cvat    *CvatManifest
	Audino  *AudinoManifest
}

// rawManifest is the loosely-shaped wire form used only for detection.
type rawManifest struct {
	RequestType JobType         `json:"requestType"`
	Annotation  *CvatAnnotation `json:"annotation"`
}

// ParseManifest deserializes a manifest blob into its tagged variant.
// The job type comes from requestType, or from annotation.type for the
// annotation tools that nest it there. Unknown or missing types are
// rejected rather than guessed at.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewUpstreamDataError("malformed manifest", err)
	}

	jobType := raw.RequestType
	if jobType == "" && raw.Annotation != nil {
		jobType = raw.Annotation.Type
	}

	switch jobType {
	case JobTypeFortune:
		var m FortuneManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.NewUpstreamDataError("malformed fortune manifest", err)
		}
		if m.FundAmount == "" {
			return nil, errors.NewUpstreamDataError("fortune manifest missing fund amount", nil)
		}
		return &Manifest{Type: jobType, Fortune: &m}, nil

	case JobTypeImageBoxes, JobTypeImagePoints, JobTypeImagePolygons,
		JobTypeImageBoxesFromPoints, JobTypeImageSkeletonsFromBoxes:
		var m CvatManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.NewUpstreamDataError("malformed annotation manifest", err)
		}
		if m.JobBounty == "" {
			return nil, errors.NewUpstreamDataError("annotation manifest missing job bounty", nil)
		}
		return &Manifest{Type: jobType, Cvat: &m}, nil

	case JobTypeAudioTranscription:
		var m AudinoManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.NewUpstreamDataError("malformed transcription manifest", err)
		}
		return &Manifest{Type: jobType, Audino: &m}, nil

	case "":
		return nil, errors.NewUpstreamDataError("manifest missing job type", nil)
	default:
		return nil, errors.NewUpstreamDataError("unknown job type "+string(jobType), nil)
	}
}

// FortuneResult is one worker submission in a fortune result blob.
type FortuneResult struct {
	WorkerAddress string `json:"workerAddress"`
	Solution      string `json:"solution"`
	Error         string `json:"error,omitempty"`
}

// AnnotationJob is one unit of annotation work in a result set.
type AnnotationJob struct {
	JobID         int `json:"job_id"`
	FinalResultID int `json:"final_result_id"`
}

// AnnotationResult is one validated annotation in a result set.
type AnnotationResult struct {
	ID                     int     `json:"id"`
	JobID                  int     `json:"job_id"`
	AnnotatorWalletAddress string  `json:"annotator_wallet_address"`
	AnnotationQuality      float64 `json:"annotation_quality"`
}

// AnnotationResultSet is the validation metadata produced by the annotation
// tools: jobs and the results they were validated against.
type AnnotationResultSet struct {
	Jobs    []AnnotationJob    `json:"jobs"`
	Results []AnnotationResult `json:"results"`
}
