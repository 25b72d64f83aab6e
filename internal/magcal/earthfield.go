package magcal

import (
	"math"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// EarthConfig holds the Earth-field estimator tunables. Zero values are
// replaced with defaults.
type EarthConfig struct {
	// WindowSize is the capacity of the world-frame sample ring.
	WindowSize int
	// MinSamples gates the estimate: magnitude stays 0 until this many
	// samples are buffered.
	MinSamples int
	// ResidualThresholdUT maps mean residual magnitude to confidence:
	// confidence = max(0, 1 - meanResidual/threshold).
	ResidualThresholdUT float64
	// ResidualWindow is the capacity of the recent-residual ring.
	ResidualWindow int
	// BaselineMinSamples is the minimum batch for extended-baseline
	// capture.
	BaselineMinSamples int
	// BaselineMaxUT rejects a captured baseline whose magnitude exceeds
	// it (movement contamination, not a stable offset).
	BaselineMaxUT float64
}

func (c EarthConfig) withDefaults() EarthConfig {
	if c.WindowSize == 0 {
		c.WindowSize = 300
	}
	if c.MinSamples == 0 {
		c.MinSamples = 50
	}
	if c.ResidualThresholdUT == 0 {
		c.ResidualThresholdUT = 25
	}
	if c.ResidualWindow == 0 {
		c.ResidualWindow = 60
	}
	if c.BaselineMinSamples == 0 {
		c.BaselineMinSamples = 30
	}
	if c.BaselineMaxUT == 0 {
		c.BaselineMaxUT = 20
	}
	return c
}

// ExtendedBaseline is an optional per-session residual offset captured at
// session start, subtracted from every residual while active.
type ExtendedBaseline struct {
	Offset vec.Vector3 `json:"offset_ut"`
	Active bool        `json:"active"`
}

// BaselineResult reports an extended-baseline capture attempt.
type BaselineResult struct {
	OK          bool        `json:"ok"`
	Reason      string      `json:"reason,omitempty"`
	Remediation string      `json:"remediation,omitempty"`
	Offset      vec.Vector3 `json:"offset_ut"`
	Established bool        `json:"established"`
}

// ReasonBaselineTooLarge marks a baseline rejected for movement
// contamination.
const ReasonBaselineTooLarge = "baseline_too_large"

// EarthFieldEstimator maintains a moving-window estimate of the Earth
// field in the world frame, using the session's iron calibrator for
// progressive correction. Not safe for concurrent use.
type EarthFieldEstimator struct {
	cfg EarthConfig
	cal *IronCalibrator

	world     ringVec3
	residuals ringFloat

	total      int
	earthWorld vec.Vector3
	earthMagUT float64
	confidence float64

	baseline ExtendedBaseline
}

// NewEarthFieldEstimator creates an estimator bound to the session's iron
// calibrator.
func NewEarthFieldEstimator(cfg EarthConfig, cal *IronCalibrator) *EarthFieldEstimator {
	c := cfg.withDefaults()
	return &EarthFieldEstimator{
		cfg:       c,
		cal:       cal,
		world:     newRingVec3(c.WindowSize),
		residuals: newRingFloat(c.ResidualWindow),
	}
}

// Update feeds one magnetometer sample (µT) with the current orientation.
// The sample is iron-corrected progressively, rotated into the world frame
// and pushed into the window; the field estimate and confidence are
// recomputed from the full buffer each time for stability.
func (e *EarthFieldEstimator) Update(magUT vec.Vector3, orientation vec.Quaternion) {
	if magUT.IsNaN() {
		return
	}

	corrected := e.cal.ApplyProgressiveCorrection(magUT)
	world := orientation.Rotate(corrected)
	e.world.push(world)
	e.total++

	n := e.world.len()
	if n < e.cfg.MinSamples {
		e.earthWorld = vec.Vector3{}
		e.earthMagUT = 0
		e.confidence = e.bootstrapConfidence()
		return
	}

	// Mean direction rescaled to the mean of per-sample magnitudes:
	// averaging vectors of a noisy but constant-magnitude field shrinks
	// the mean toward zero, so magnitude is averaged separately.
	var sum vec.Vector3
	var magSum float64
	e.world.each(func(v vec.Vector3) {
		sum = sum.Add(v)
		magSum += v.Norm()
	})
	mean := sum.Scale(1 / float64(n))
	meanMag := magSum / float64(n)
	e.earthWorld = mean.Normalized().Scale(meanMag)
	e.earthMagUT = meanMag

	// Residual of this sample against the fresh estimate feeds the
	// confidence window.
	res := world.Sub(e.earthWorld).Norm()
	e.residuals.push(res)

	if e.residuals.len() < e.cfg.ResidualWindow/2 {
		e.confidence = e.bootstrapConfidence()
		return
	}
	meanRes := e.residuals.mean()
	e.confidence = math.Max(0, 1-meanRes/e.cfg.ResidualThresholdUT)
}

func (e *EarthFieldEstimator) bootstrapConfidence() float64 {
	return math.Min(0.5, float64(e.total)/float64(2*e.cfg.MinSamples))
}

// Ready reports whether the estimator has a usable field estimate.
func (e *EarthFieldEstimator) Ready() bool { return e.earthMagUT > 0 }

// FieldWorld returns the current world-frame Earth-field estimate in µT.
func (e *EarthFieldEstimator) FieldWorld() vec.Vector3 { return e.earthWorld }

// FieldMagnitudeUT returns the estimated field strength, 0 until ready.
func (e *EarthFieldEstimator) FieldMagnitudeUT() float64 { return e.earthMagUT }

// Confidence returns the residual-based confidence in [0,1].
func (e *EarthFieldEstimator) Confidence() float64 { return e.confidence }

// Residual returns the magnet-presence signal for one sample: the
// iron-corrected reading minus the Earth field rotated back into the
// sensor frame, minus the extended baseline when active.
func (e *EarthFieldEstimator) Residual(magUT vec.Vector3, orientation vec.Quaternion) vec.Vector3 {
	corrected := e.cal.ApplyProgressiveCorrection(magUT)
	expected := orientation.RotateInverse(e.earthWorld)
	res := corrected.Sub(expected)
	if e.baseline.Active {
		res = res.Sub(e.baseline.Offset)
	}
	return res
}

// CaptureBaseline fixes the extended per-session baseline from a batch of
// early residuals. A large mean residual indicates the wearer was moving
// during capture and the batch is rejected.
func (e *EarthFieldEstimator) CaptureBaseline(residuals []vec.Vector3) BaselineResult {
	if len(residuals) < e.cfg.BaselineMinSamples {
		return BaselineResult{
			Reason:      ReasonInsufficientSamples,
			Remediation: "hold still and collect more residual samples",
		}
	}

	var sum vec.Vector3
	n := 0
	for _, r := range residuals {
		if r.IsNaN() {
			continue
		}
		sum = sum.Add(r)
		n++
	}
	if n < e.cfg.BaselineMinSamples {
		return BaselineResult{
			Reason:      ReasonInsufficientSamples,
			Remediation: "hold still and collect more residual samples",
		}
	}

	mean := sum.Scale(1 / float64(n))
	if mean.Norm() > e.cfg.BaselineMaxUT {
		return BaselineResult{
			Reason:      ReasonBaselineTooLarge,
			Remediation: "keep the hand still and away from the marker, then retry",
			Offset:      mean,
		}
	}

	e.baseline = ExtendedBaseline{Offset: mean, Active: true}
	return BaselineResult{OK: true, Offset: mean, Established: true}
}

// Baseline returns the current extended baseline.
func (e *EarthFieldEstimator) Baseline() ExtendedBaseline { return e.baseline }

// SetBaseline installs a previously persisted baseline.
func (e *EarthFieldEstimator) SetBaseline(b ExtendedBaseline) { e.baseline = b }

// Reset clears the window, estimate, confidence history and baseline.
func (e *EarthFieldEstimator) Reset() {
	e.world = newRingVec3(e.cfg.WindowSize)
	e.residuals = newRingFloat(e.cfg.ResidualWindow)
	e.total = 0
	e.earthWorld = vec.Vector3{}
	e.earthMagUT = 0
	e.confidence = 0
	e.baseline = ExtendedBaseline{}
}

// restore installs a persisted field estimate so detection can resume
// without re-converging.
func (e *EarthFieldEstimator) restore(world vec.Vector3, magnitudeUT float64) {
	e.earthWorld = world
	e.earthMagUT = magnitudeUT
}
