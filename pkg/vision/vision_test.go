package vision

import (
	"errors"
	"math"
	"testing"

	"github.com/teslashibe/go-palm/pkg/match"
	"github.com/teslashibe/go-palm/pkg/positioning"
	"github.com/teslashibe/go-palm/pkg/sim"
)

func render(t *testing.T, s sim.Scene) []byte {
	t.Helper()
	data, err := sim.Render(s)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return data
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := []Config{
		{BlurKernel: 4, Threshold: 70, ORBFeatures: 500},
		{BlurKernel: 5, Threshold: 300, ORBFeatures: 500},
		{BlurKernel: 5, Threshold: 70, ORBFeatures: 1},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) should fail", c)
		}
	}
}

func TestHandFinderUprightHand(t *testing.T) {
	f, err := NewHandFinder(DefaultConfig())
	if err != nil {
		t.Fatalf("NewHandFinder() error = %v", err)
	}

	region, ok, err := f.LargestRegion(render(t, sim.DefaultScene()))
	if err != nil {
		t.Fatalf("LargestRegion() error = %v", err)
	}
	if !ok {
		t.Fatal("expected a region")
	}
	if region.Area < positioning.DefaultMinArea {
		t.Errorf("Area = %.0f, want >= %.0f", region.Area, positioning.DefaultMinArea)
	}
	if a := positioning.NormalizeAngle(region.Angle); math.Abs(a) > positioning.TiltTolerance {
		t.Errorf("normalized angle = %.1f, want straight", a)
	}
}

func TestHandFinderTiltedHand(t *testing.T) {
	f, _ := NewHandFinder(DefaultConfig())

	scene := sim.DefaultScene()
	scene.Angle = 30
	region, ok, err := f.LargestRegion(render(t, scene))
	if err != nil || !ok {
		t.Fatalf("LargestRegion() = %v, %v", ok, err)
	}

	pose := positioning.BucketTilt(positioning.NormalizeAngle(region.Angle))
	if pose == positioning.TiltStraight {
		t.Errorf("30 degree hand classified as straight (angle %.1f)", region.Angle)
	}
}

func TestHandFinderPoseClassifier(t *testing.T) {
	f, _ := NewHandFinder(DefaultConfig())
	classifier := positioning.NewPoseClassifier(f, positioning.DefaultMinArea)

	pose, err := classifier.Classify(render(t, sim.DefaultScene()))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !pose.HandPresent || pose.Tilt != positioning.TiltStraight {
		t.Errorf("pose = %+v, want present and straight", pose)
	}

	empty := sim.DefaultScene()
	empty.HandPresent = false
	pose, err = classifier.Classify(render(t, empty))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if pose.HandPresent {
		t.Errorf("empty frame reported a hand: %+v", pose)
	}
}

func TestHandFinderBadInput(t *testing.T) {
	f, _ := NewHandFinder(DefaultConfig())

	if _, _, err := f.LargestRegion(nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("nil input error = %v, want ErrEmptyImage", err)
	}
	if _, _, err := f.LargestRegion([]byte("not a jpeg")); err == nil {
		t.Error("expected error for invalid JPEG")
	}
}

func TestORBMatcherSameHand(t *testing.T) {
	m, err := NewORBMatcher(DefaultConfig())
	if err != nil {
		t.Fatalf("NewORBMatcher() error = %v", err)
	}
	defer m.Close()

	frame := render(t, sim.DefaultScene())
	count, err := m.Match(frame, frame)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if count <= match.DefaultThreshold {
		t.Errorf("identical frames matched %d times, want > %d", count, match.DefaultThreshold)
	}
}

func TestORBMatcherBlankFrame(t *testing.T) {
	m, _ := NewORBMatcher(DefaultConfig())
	defer m.Close()

	blank := sim.DefaultScene()
	blank.HandPresent = false

	_, err := m.Match(render(t, sim.DefaultScene()), render(t, blank))
	if !errors.Is(err, match.ErrNoDescriptors) {
		t.Errorf("Match() error = %v, want ErrNoDescriptors", err)
	}

	if _, err := m.Match(nil, render(t, blank)); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Match(nil) error = %v, want ErrEmptyImage", err)
	}
}

func TestORBMatcherWithEngine(t *testing.T) {
	m, _ := NewORBMatcher(DefaultConfig())
	defer m.Close()

	ref := render(t, sim.DefaultScene())
	engine := match.NewEngine(m, refSource{"alice": ref})

	res, err := engine.Verify(t.Context(), "alice", ref)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.Matched || res.Confidence <= 0.3 {
		t.Errorf("Verify() = %+v, want a confident match", res)
	}
}

type refSource map[string][]byte

func (r refSource) Load(id string) ([]byte, error) {
	if b, ok := r[id]; ok {
		return b, nil
	}
	return nil, errors.New("missing")
}
