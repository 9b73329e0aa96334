package positioning

// Progress bounds and the per-tick steps.
const (
	ProgressMax   = 100
	ProgressStep  = 5
	ProgressDecay = 2
)

// Accumulator integrates a "well positioned" signal into scan progress.
// A good tick adds ProgressStep; a bad one removes ProgressDecay, floored
// at zero, so a single twitch does not throw away a nearly complete scan.
type Accumulator struct {
	progress int
}

// Update feeds one tick and returns the new progress.
func (a *Accumulator) Update(wellPositioned bool) int {
	if wellPositioned {
		a.progress += ProgressStep
		if a.progress > ProgressMax {
			a.progress = ProgressMax
		}
		return a.progress
	}

	a.progress -= ProgressDecay
	if a.progress < 0 {
		a.progress = 0
	}
	return a.progress
}

// Progress returns the current value.
func (a *Accumulator) Progress() int {
	return a.progress
}

// Complete reports whether the capture threshold has been reached.
func (a *Accumulator) Complete() bool {
	return a.progress >= ProgressMax
}

// Reset zeroes the accumulator.
func (a *Accumulator) Reset() {
	a.progress = 0
}

// WellPositioned is the single condition under which progress advances.
func WellPositioned(r Reading, p Pose) bool {
	return r.State == Perfect && p.HandPresent && p.Tilt == TiltStraight
}
