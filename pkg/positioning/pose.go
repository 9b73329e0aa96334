package positioning

import "fmt"

// Tilt is the coarse rotation of the hand around the camera axis.
type Tilt int

const (
	TiltNone Tilt = iota
	TiltLeft
	TiltStraight
	TiltRight
)

// String returns the wire label for the tilt.
func (t Tilt) String() string {
	switch t {
	case TiltLeft:
		return "LEFT"
	case TiltStraight:
		return "STRAIGHT"
	case TiltRight:
		return "RIGHT"
	default:
		return "NONE"
	}
}

const (
	// DefaultMinArea is the smallest foreground region (px²) treated as a hand.
	DefaultMinArea = 5000.0

	// TiltTolerance is the angle (degrees) within which a hand counts as straight.
	TiltTolerance = 15.0
)

// Region is the largest foreground blob found in a frame.
type Region struct {
	Area  float64 // px²
	Angle float64 // raw minimum-area-rectangle angle, degrees
}

// RegionFinder extracts the largest foreground region from a JPEG frame.
// ok is false when the frame has no foreground at all.
type RegionFinder interface {
	LargestRegion(jpeg []byte) (region Region, ok bool, err error)
}

// Pose is the outcome of classifying one frame.
type Pose struct {
	HandPresent bool
	Tilt        Tilt
	Angle       float64 // normalized angle, valid when HandPresent
}

// NormalizeAngle folds minimum-area-rectangle angles below -45° back into
// range by adding 90°. Angles in [-45, 90) are returned unchanged.
func NormalizeAngle(angle float64) float64 {
	if angle < -45 {
		return angle + 90
	}
	return angle
}

// BucketTilt maps a normalized angle to a tilt bucket.
func BucketTilt(angle float64) Tilt {
	switch {
	case angle > TiltTolerance:
		return TiltRight
	case angle < -TiltTolerance:
		return TiltLeft
	default:
		return TiltStraight
	}
}

// PoseClassifier decides whether a frame shows a hand and how it is tilted.
type PoseClassifier struct {
	finder  RegionFinder
	minArea float64
}

// NewPoseClassifier wraps a region finder. A non-positive minArea selects
// DefaultMinArea.
func NewPoseClassifier(finder RegionFinder, minArea float64) *PoseClassifier {
	if minArea <= 0 {
		minArea = DefaultMinArea
	}
	return &PoseClassifier{finder: finder, minArea: minArea}
}

// Classify runs the region finder on a frame and buckets the result.
func (p *PoseClassifier) Classify(jpeg []byte) (Pose, error) {
	region, ok, err := p.finder.LargestRegion(jpeg)
	if err != nil {
		return Pose{}, fmt.Errorf("find region: %w", err)
	}
	if !ok || region.Area < p.minArea {
		return Pose{}, nil
	}

	angle := NormalizeAngle(region.Angle)
	return Pose{
		HandPresent: true,
		Tilt:        BucketTilt(angle),
		Angle:       angle,
	}, nil
}
