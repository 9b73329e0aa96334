package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-palm/pkg/positioning"
)

// fullFrameRatio is the contour coverage above which a frame is treated as empty.
const fullFrameRatio = 0.9

// HandFinder segments the darkest large blob of a frame, which is the hand
// held over the light sensor housing.
type HandFinder struct {
	config Config
	mu     sync.Mutex // Protects the work mats
}

var _ positioning.RegionFinder = (*HandFinder)(nil)

// NewHandFinder creates a finder.
func NewHandFinder(cfg Config) (*HandFinder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HandFinder{config: cfg}, nil
}

// LargestRegion returns the area and minimum-area-rectangle angle of the
// largest foreground contour. ok is false when there is no contour at all.
func (f *HandFinder) LargestRegion(jpeg []byte) (positioning.Region, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(jpeg) == 0 {
		return positioning.Region{}, false, ErrEmptyImage
	}

	// Decode straight to grayscale
	gray, err := gocv.IMDecode(jpeg, gocv.IMReadGrayScale)
	if err != nil {
		return positioning.Region{}, false, fmt.Errorf("decode image: %w", err)
	}
	defer gray.Close()

	if gray.Empty() {
		return positioning.Region{}, false, ErrEmptyImage
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := f.config.BlurKernel
	gocv.GaussianBlur(gray, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(blurred, &mask, float32(f.config.Threshold), 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

	contours := gocv.FindContours(mask, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return positioning.Region{}, false, nil
	}

	best, bestArea := -1, -1.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			best, bestArea = i, area
		}
	}

	// A uniform frame thresholds to all foreground.
	if bestArea >= fullFrameRatio*float64(gray.Rows()*gray.Cols()) {
		return positioning.Region{}, false, nil
	}

	rect := gocv.MinAreaRect(contours.At(best))

	// OpenCV 4.5+ reports (0, 90]; shift to the classic [-90, 0) range that
	// positioning.NormalizeAngle expects.
	angle := rect.Angle
	if angle > 0 {
		angle -= 90
	}

	return positioning.Region{Area: bestArea, Angle: angle}, true, nil
}
