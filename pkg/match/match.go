// Package match decides whether a live palm capture belongs to an enrolled subject.
package match

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/teslashibe/go-palm/pkg/store"
)

// ErrNoDescriptors is returned by feature matchers when either image has no
// usable keypoints. The engine treats it as a non-match rather than a failure.
var ErrNoDescriptors = errors.New("match: no descriptors")

// Defaults for the accept decision.
const (
	DefaultThreshold     = 15   // matches required, exclusive
	DefaultSaturation    = 50.0 // match count that maps to full confidence
	DefaultMaxConfidence = 0.99
)

// FeatureMatcher counts feature correspondences between two JPEG images.
type FeatureMatcher interface {
	Match(reference, live []byte) (int, error)
}

// ReferenceSource loads a subject's reference image. It returns an error
// wrapping store.ErrNotFound for subjects that were never enrolled.
type ReferenceSource interface {
	Load(subjectID string) ([]byte, error)
}

// Result is the outcome of one verification.
type Result struct {
	Matched    bool
	Confidence float64
	Count      int
	Known      bool // false when the subject has no reference
}

// Engine applies the accept threshold and confidence normalization on top
// of a feature matcher.
type Engine struct {
	matcher FeatureMatcher
	refs    ReferenceSource

	Threshold     int
	Saturation    float64
	MaxConfidence float64
}

// NewEngine creates an engine with the default threshold and normalization.
func NewEngine(matcher FeatureMatcher, refs ReferenceSource) *Engine {
	return &Engine{
		matcher:       matcher,
		refs:          refs,
		Threshold:     DefaultThreshold,
		Saturation:    DefaultSaturation,
		MaxConfidence: DefaultMaxConfidence,
	}
}

// Confidence maps a raw match count to [0, MaxConfidence]. The scale is
// linear up to Saturation and never reaches 1.
func (e *Engine) Confidence(count int) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(float64(count)/e.Saturation, e.MaxConfidence)
}

// Verify compares a live frame against the subject's reference.
// An unknown subject is a non-match with zero confidence, not an error.
func (e *Engine) Verify(ctx context.Context, subjectID string, live []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	ref, err := e.refs.Load(subjectID)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidSubject) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load reference: %w", err)
	}

	count, err := e.matcher.Match(ref, live)
	if errors.Is(err, ErrNoDescriptors) {
		return Result{Known: true}, nil
	}
	if err != nil {
		return Result{Known: true}, fmt.Errorf("feature match: %w", err)
	}

	return Result{
		Matched:    count > e.Threshold,
		Confidence: e.Confidence(count),
		Count:      count,
		Known:      true,
	}, nil
}
