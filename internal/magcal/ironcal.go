// Package magcal maintains the magnetometer iron-distortion model and the
// Earth-field estimate for one tracking session. The hard-iron offset and
// soft-iron matrix come from three cooperating paths: the guided wizard,
// continuous min/max tracking, and an orientation-aware batch optimizer.
package magcal

import (
	"math"

	"github.com/relabs-tech/magnet_tracker/internal/geomag"
	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// Config holds the tunables of the iron calibration engine. Zero values are
// replaced with defaults by New.
type Config struct {
	// AutoMinSamples is the minimum number of magnetometer samples before
	// the automatic estimate may be declared ready.
	AutoMinSamples int
	// DefaultFieldUT is the assumed Earth-field magnitude in µT when no
	// geomagnetic reference has been set.
	DefaultFieldUT float64
	// DefaultRangeUT is the per-axis rotation-coverage threshold in µT
	// used when no reference is known.
	DefaultRangeUT float64
	// MinRangeUT clamps the observed range when deriving the automatic
	// soft-iron scale, so a barely-ready axis cannot produce a huge scale.
	MinRangeUT float64
	// PairBufferCap bounds the paired (mag, accel) samples collected for
	// the orientation-aware optimizer.
	PairBufferCap int
	// OptimizerMaxIterations bounds the gradient descent run.
	OptimizerMaxIterations int
}

func (c Config) withDefaults() Config {
	if c.AutoMinSamples == 0 {
		c.AutoMinSamples = 400
	}
	if c.DefaultFieldUT == 0 {
		c.DefaultFieldUT = 50
	}
	if c.DefaultRangeUT == 0 {
		c.DefaultRangeUT = 64
	}
	if c.MinRangeUT == 0 {
		c.MinRangeUT = 5
	}
	if c.PairBufferCap == 0 {
		c.PairBufferCap = 600
	}
	if c.OptimizerMaxIterations == 0 {
		c.OptimizerMaxIterations = 50
	}
	return c
}

// rangeCoverageFactor scales the expected field magnitude into the minimum
// per-axis range that proves sufficient rotation. Rotating fully makes the
// Earth component sweep ±|B| around the hard-iron constant, so the observed
// range approaches 2|B|; requiring 1.6|B| tolerates imperfect coverage
// while still rejecting single-axis rotation.
const rangeCoverageFactor = 1.6

type pairedSample struct {
	Mag   vec.Vector3
	Accel vec.Vector3
}

// IronCalibrator owns the hard-iron offset and soft-iron matrix for one
// session. Not safe for concurrent use; one sample at a time.
type IronCalibrator struct {
	cfg Config

	ref    *geomag.Reference
	hasRef bool

	// Wizard calibration. Once set it always wins over the automatic
	// estimate.
	wizardOffset     vec.Vector3
	wizardMatrix     vec.Matrix3
	wizardHasMatrix  bool
	calibratedWizard bool

	// Automatic min/max tracking.
	autoMin         vec.Vector3
	autoMax         vec.Vector3
	autoEstimate    vec.Vector3
	autoSampleCount int
	autoReady       bool
	autoScale       vec.Vector3
	autoHasScale    bool

	// Orientation-aware refinement.
	pairs       []pairedSample
	refined     bool
	refinedOff  vec.Vector3
	refinedMat  vec.Matrix3
	optimizeRan bool
}

// NewIronCalibrator creates a calibrator with identity soft iron and no
// offset knowledge.
func NewIronCalibrator(cfg Config) *IronCalibrator {
	c := &IronCalibrator{cfg: cfg.withDefaults()}
	c.wizardMatrix = vec.Identity()
	c.resetAutoBounds()
	return c
}

func (c *IronCalibrator) resetAutoBounds() {
	inf := math.Inf(1)
	c.autoMin = vec.Vector3{X: inf, Y: inf, Z: inf}
	c.autoMax = vec.Vector3{X: -inf, Y: -inf, Z: -inf}
}

// SetReference installs the expected geomagnetic field, set at most once
// per relocation. It tightens the readiness threshold and the automatic
// soft-iron scale.
func (c *IronCalibrator) SetReference(ref geomag.Reference) {
	r := ref
	c.ref = &r
	c.hasRef = true
}

// Reference returns the installed geomagnetic reference, if any.
func (c *IronCalibrator) Reference() (geomag.Reference, bool) {
	if !c.hasRef {
		return geomag.Reference{}, false
	}
	return *c.ref, true
}

func (c *IronCalibrator) expectedFieldUT() float64 {
	if c.hasRef {
		return c.ref.FieldMagnitude()
	}
	return c.cfg.DefaultFieldUT
}

func (c *IronCalibrator) rangeThresholdUT() float64 {
	if c.hasRef {
		return rangeCoverageFactor * c.ref.FieldMagnitude()
	}
	return c.cfg.DefaultRangeUT
}

// Update feeds one magnetometer sample (µT) into the automatic min/max
// tracker. NaN samples are absorbed without touching state.
func (c *IronCalibrator) Update(magUT vec.Vector3) {
	if magUT.IsNaN() {
		return
	}

	c.autoMin = vec.Vector3{
		X: math.Min(c.autoMin.X, magUT.X),
		Y: math.Min(c.autoMin.Y, magUT.Y),
		Z: math.Min(c.autoMin.Z, magUT.Z),
	}
	c.autoMax = vec.Vector3{
		X: math.Max(c.autoMax.X, magUT.X),
		Y: math.Max(c.autoMax.Y, magUT.Y),
		Z: math.Max(c.autoMax.Z, magUT.Z),
	}
	c.autoSampleCount++

	c.autoEstimate = vec.Vector3{
		X: (c.autoMax.X + c.autoMin.X) / 2,
		Y: (c.autoMax.Y + c.autoMin.Y) / 2,
		Z: (c.autoMax.Z + c.autoMin.Z) / 2,
	}

	if !c.autoReady && c.autoSampleCount >= c.cfg.AutoMinSamples &&
		c.minAxisRange() >= c.rangeThresholdUT() {
		c.autoReady = true
		c.deriveAutoScale()
	}
}

func (c *IronCalibrator) minAxisRange() float64 {
	if c.autoSampleCount == 0 {
		return 0
	}
	rx := c.autoMax.X - c.autoMin.X
	ry := c.autoMax.Y - c.autoMin.Y
	rz := c.autoMax.Z - c.autoMin.Z
	return math.Min(rx, math.Min(ry, rz))
}

// deriveAutoScale fixes the per-axis soft-iron scale the moment the
// estimate first becomes ready: a full rotation should span 2|B| per axis,
// so the observed range tells us each axis's gain.
func (c *IronCalibrator) deriveAutoScale() {
	expected := 2 * c.expectedFieldUT()
	c.autoScale = vec.Vector3{
		X: expected / math.Max(c.autoMax.X-c.autoMin.X, c.cfg.MinRangeUT),
		Y: expected / math.Max(c.autoMax.Y-c.autoMin.Y, c.cfg.MinRangeUT),
		Z: expected / math.Max(c.autoMax.Z-c.autoMin.Z, c.cfg.MinRangeUT),
	}
	c.autoHasScale = true
}

// AddOrientationSample buffers one (mag, accel) pair for the
// orientation-aware optimizer. The buffer is bounded; extra pairs are
// dropped once it is full.
func (c *IronCalibrator) AddOrientationSample(magUT, accelG vec.Vector3) {
	if magUT.IsNaN() || accelG.IsNaN() {
		return
	}
	if len(c.pairs) >= c.cfg.PairBufferCap {
		return
	}
	c.pairs = append(c.pairs, pairedSample{Mag: magUT, Accel: accelG})
}

// OrientationBufferFull reports whether enough pairs are buffered to run
// the optimizer.
func (c *IronCalibrator) OrientationBufferFull() bool {
	return len(c.pairs) >= c.cfg.PairBufferCap
}

// correctionMode resolves the dual-path priority rule in one place:
// wizard beats the refined estimate, which beats the ready automatic
// estimate, which beats nothing.
type correctionMode int

const (
	modeUncalibrated correctionMode = iota
	modeAuto
	modeRefined
	modeWizard
)

func (c *IronCalibrator) effective() (offset vec.Vector3, m vec.Matrix3, hasMatrix bool, mode correctionMode) {
	switch {
	case c.calibratedWizard:
		return c.wizardOffset, c.wizardMatrix, c.wizardHasMatrix, modeWizard
	case c.refined:
		return c.refinedOff, c.refinedMat, true, modeRefined
	case c.autoReady:
		m := vec.Diagonal(c.autoScale.X, c.autoScale.Y, c.autoScale.Z)
		return c.autoEstimate, m, c.autoHasScale, modeAuto
	default:
		return vec.Vector3{}, vec.Identity(), false, modeUncalibrated
	}
}

// ApplyCorrection applies the authoritative correction: the wizard result
// when present, otherwise the ready automatic estimate, otherwise nothing.
func (c *IronCalibrator) ApplyCorrection(raw vec.Vector3) vec.Vector3 {
	offset, m, hasMatrix, mode := c.effective()
	if mode == modeUncalibrated {
		return raw
	}
	out := raw.Sub(offset)
	if hasMatrix {
		out = m.MulVec(out)
	}
	return out
}

// ApplyProgressiveCorrection applies the current best offset and scale even
// before the automatic estimate is ready, so fusion quality improves
// continuously instead of jumping when calibration completes.
func (c *IronCalibrator) ApplyProgressiveCorrection(raw vec.Vector3) vec.Vector3 {
	offset, m, hasMatrix, mode := c.effective()
	if mode == modeUncalibrated {
		// Not ready, but the running midpoint is still the best offset
		// guess we have.
		if c.autoSampleCount == 0 {
			return raw
		}
		return raw.Sub(c.autoEstimate)
	}
	out := raw.Sub(offset)
	if hasMatrix {
		out = m.MulVec(out)
	}
	return out
}

// ReadinessFraction reports calibration completeness in [0,1], used to
// scale magnetometer trust in the orientation filter. Wizard or ready
// automatic calibration counts as fully ready; before that the fraction
// grows with sample count and rotation coverage.
func (c *IronCalibrator) ReadinessFraction() float64 {
	if c.calibratedWizard || c.refined || c.autoReady {
		return 1
	}
	if c.autoSampleCount == 0 {
		return 0
	}
	sampleFrac := float64(c.autoSampleCount) / float64(c.cfg.AutoMinSamples)
	rangeFrac := c.minAxisRange() / c.rangeThresholdUT()
	f := math.Min(sampleFrac, rangeFrac)
	return math.Min(f, 0.95)
}

// CalibratedByWizard reports whether a wizard calibration is installed.
func (c *IronCalibrator) CalibratedByWizard() bool { return c.calibratedWizard }

// AutoReady reports whether the automatic estimate has converged.
func (c *IronCalibrator) AutoReady() bool { return c.autoReady }

// AutoEstimate returns the current automatic hard-iron estimate (midpoint
// of observed min/max).
func (c *IronCalibrator) AutoEstimate() vec.Vector3 { return c.autoEstimate }

// AutoSampleCount returns the number of samples fed into min/max tracking.
func (c *IronCalibrator) AutoSampleCount() int { return c.autoSampleCount }

// Refined reports whether the orientation-aware optimizer has produced a
// joint offset+matrix refinement this session.
func (c *IronCalibrator) Refined() bool { return c.refined }

// Reset clears all derived calibration state: wizard results, the
// automatic tracker, and the optimizer buffer. The configuration and the
// geomagnetic reference survive.
func (c *IronCalibrator) Reset() {
	c.wizardOffset = vec.Vector3{}
	c.wizardMatrix = vec.Identity()
	c.wizardHasMatrix = false
	c.calibratedWizard = false

	c.resetAutoBounds()
	c.autoEstimate = vec.Vector3{}
	c.autoSampleCount = 0
	c.autoReady = false
	c.autoScale = vec.Vector3{}
	c.autoHasScale = false

	c.pairs = nil
	c.refined = false
	c.refinedOff = vec.Vector3{}
	c.refinedMat = vec.Matrix3{}
	c.optimizeRan = false
}
