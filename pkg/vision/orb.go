package vision

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-palm/pkg/match"
)

// ORBMatcher counts cross-checked ORB descriptor matches between a stored
// reference and a live frame.
type ORBMatcher struct {
	orb     gocv.ORB
	matcher gocv.BFMatcher
	mu      sync.Mutex // Protects inference
}

var _ match.FeatureMatcher = (*ORBMatcher)(nil)

// NewORBMatcher creates a matcher. Close releases its OpenCV resources.
func NewORBMatcher(cfg Config) (*ORBMatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	orb := gocv.NewORBWithParams(cfg.ORBFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)

	return &ORBMatcher{
		orb:     orb,
		matcher: gocv.NewBFMatcherWithParams(gocv.NormHamming, true),
	}, nil
}

// Match returns the number of matches. It returns match.ErrNoDescriptors
// when either frame yields no keypoints.
func (m *ORBMatcher) Match(reference, live []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	refDesc, err := m.describe(reference)
	if err != nil {
		return 0, fmt.Errorf("reference: %w", err)
	}
	defer refDesc.Close()

	liveDesc, err := m.describe(live)
	if err != nil {
		return 0, fmt.Errorf("live: %w", err)
	}
	defer liveDesc.Close()

	if refDesc.Empty() || liveDesc.Empty() {
		return 0, match.ErrNoDescriptors
	}

	matches := m.matcher.Match(refDesc, liveDesc)
	return len(matches), nil
}

func (m *ORBMatcher) describe(jpeg []byte) (gocv.Mat, error) {
	if len(jpeg) == 0 {
		return gocv.Mat{}, ErrEmptyImage
	}

	img, err := gocv.IMDecode(jpeg, gocv.IMReadGrayScale)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return gocv.Mat{}, ErrEmptyImage
	}

	mask := gocv.NewMat()
	defer mask.Close()

	_, desc := m.orb.DetectAndCompute(img, mask)
	return desc, nil
}

// Close releases the detector resources
func (m *ORBMatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orb.Close()
	m.matcher.Close()
	return nil
}
