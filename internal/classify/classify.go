// Package classify assigns images with detections to review buckets.
package classify

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"sift/internal/detection"
	"sift/internal/services"
)

// Bucket names produced by the built-in policies.
const (
	BucketMixed            = "mixed"
	BucketHighConfidence   = "high_confidence"
	BucketMediumConfidence = "medium_confidence"
	BucketLowConfidence    = "low_confidence"

	byTypePrefix = "by_type"
)

// Confidence band boundaries used by ByConfidence. A value equal to a bound
// falls into the higher band.
const (
	HighThreshold   = 0.8
	MediumThreshold = 0.5
)

// Policy names accepted by Parse.
const (
	PolicyType       = "type"
	PolicyConfidence = "confidence"
)

// ErrNoDetections is returned for results that should not be relocated.
var ErrNoDetections = errors.New("result has no detections")

// Assignment is a computed bucket for one result. Buckets are relative
// slash-separated paths under the review root.
type Assignment struct {
	Result    detection.Result
	Bucket    string
	Rationale string
}

// Policy maps a result with detections to a bucket.
type Policy interface {
	Name() string
	Classify(result detection.Result) (Assignment, error)
}

// ByType buckets single-subject images under by_type/<label> and everything
// else under mixed.
type ByType struct{}

func (ByType) Name() string { return PolicyType }

func (ByType) Classify(result detection.Result) (Assignment, error) {
	if !result.HasDetections {
		return Assignment{}, ErrNoDetections
	}
	if len(result.Labels) == 1 {
		label := sanitize(result.Labels[0])
		return Assignment{
			Result:    result,
			Bucket:    path.Join(byTypePrefix, label),
			Rationale: fmt.Sprintf("only %s detected", result.Labels[0]),
		}, nil
	}
	return Assignment{
		Result:    result,
		Bucket:    BucketMixed,
		Rationale: fmt.Sprintf("%d subject types: %s", len(result.Labels), strings.Join(result.Labels, ", ")),
	}, nil
}

// ByConfidence buckets on the highest detection confidence.
type ByConfidence struct{}

func (ByConfidence) Name() string { return PolicyConfidence }

func (ByConfidence) Classify(result detection.Result) (Assignment, error) {
	if !result.HasDetections {
		return Assignment{}, ErrNoDetections
	}
	maxConf := result.MaxConfidence()
	bucket := Band(maxConf)
	return Assignment{
		Result:    result,
		Bucket:    bucket,
		Rationale: fmt.Sprintf("max confidence %.3f", maxConf),
	}, nil
}

// Band returns the confidence bucket for a single score.
func Band(confidence float64) string {
	switch {
	case confidence >= HighThreshold:
		return BucketHighConfidence
	case confidence >= MediumThreshold:
		return BucketMediumConfidence
	default:
		return BucketLowConfidence
	}
}

// Parse resolves a policy by name.
func Parse(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PolicyType, "":
		return ByType{}, nil
	case PolicyConfidence:
		return ByConfidence{}, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "classify", "parse policy",
			fmt.Sprintf("unknown policy %q (want %s or %s)", name, PolicyType, PolicyConfidence), nil)
	}
}

// sanitize keeps labels from escaping their bucket directory.
func sanitize(label string) string {
	label = strings.TrimSpace(label)
	label = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(label)
	if label == "" || label == "." || label == ".." {
		return "unlabeled"
	}
	return label
}
