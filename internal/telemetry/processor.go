// Package telemetry turns raw wearable samples into decorated telemetry:
// orientation, corrected magnetometer, Earth-field residual and marker
// status. One processor per session, one sample at a time.
package telemetry

import (
	"math"

	"github.com/relabs-tech/magnet_tracker/internal/detector"
	"github.com/relabs-tech/magnet_tracker/internal/fusion"
	"github.com/relabs-tech/magnet_tracker/internal/geomag"
	"github.com/relabs-tech/magnet_tracker/internal/imu"
	"github.com/relabs-tech/magnet_tracker/internal/magcal"
	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// MPU-9250 full-scale unit conversions: ±2 g accel, ±250 °/s gyro, and the
// bridge's µT×10 magnetometer convention.
const (
	accelCountsPerG   = 16384.0
	gyroCountsPerDps  = 131.0
	magCountsPerUT    = 10.0
	degToRad          = math.Pi / 180
)

// Config holds the processor tunables. Zero values are replaced with
// defaults.
type Config struct {
	// SampleIntervalSec is the nominal time between samples, used when
	// consecutive timestamps are missing or non-monotonic.
	SampleIntervalSec float64
	// MagTrust is the maximum magnetometer weight handed to the
	// orientation filter once calibration is fully ready.
	MagTrust float64
	// StationaryMinSamples is the consecutive stationary-sample count
	// required before the gyro bias may be calibrated.
	StationaryMinSamples int
	// SeedAccelMinG and SeedAccelMaxG bound the accel magnitude accepted
	// for seeding the orientation filter.
	SeedAccelMinG float64
	SeedAccelMaxG float64
	// ResidualSmoothingAlpha is the blend factor of the residual
	// low-pass.
	ResidualSmoothingAlpha float64

	Calibration magcal.Config
	EarthField  magcal.EarthConfig
	Detector    detector.Config
	Motion      fusion.MotionConfig
}

func (c Config) withDefaults() Config {
	if c.SampleIntervalSec == 0 {
		c.SampleIntervalSec = 0.02
	}
	if c.MagTrust == 0 {
		c.MagTrust = 0.8
	}
	if c.StationaryMinSamples == 0 {
		c.StationaryMinSamples = 50
	}
	if c.SeedAccelMinG == 0 {
		c.SeedAccelMinG = 0.8
	}
	if c.SeedAccelMaxG == 0 {
		c.SeedAccelMaxG = 1.2
	}
	if c.ResidualSmoothingAlpha == 0 {
		c.ResidualSmoothingAlpha = 0.3
	}
	return c
}

// Decorated is the per-sample output: the raw sample embedded untouched,
// plus everything the pipeline derived from it. Fields are only ever
// appended by later stages, never rewritten.
type Decorated struct {
	Raw imu.RawSample `json:"raw"`

	AccelG  vec.Vector3 `json:"accel_g"`
	GyroDps vec.Vector3 `json:"gyro_dps"`
	MagUT   vec.Vector3 `json:"mag_ut"`

	Motion fusion.MotionState `json:"motion"`

	GyroBiasCalibrated bool `json:"gyro_bias_calibrated"`
	// GyroBiasEvent is true only on the single sample that completed the
	// bias calibration.
	GyroBiasEvent bool `json:"gyro_bias_event,omitempty"`

	Orientation vec.Quaternion     `json:"orientation"`
	Euler       fusion.EulerAngles `json:"euler"`
	MagTrust    float64            `json:"mag_trust"`

	MagCorrectedUT       vec.Vector3 `json:"mag_corrected_ut,omitempty"`
	CalibrationReadiness float64     `json:"calibration_readiness"`

	EarthFieldUT         float64     `json:"earth_field_ut"`
	EarthFieldConfidence float64     `json:"earth_field_confidence"`
	ResidualUT           vec.Vector3 `json:"residual_ut,omitempty"`
	ResidualSmoothedUT   vec.Vector3 `json:"residual_smoothed_ut,omitempty"`
	ResidualMagnitudeUT  float64     `json:"residual_magnitude_ut"`

	MagnetStatus     detector.Status        `json:"magnet_status"`
	MagnetConfidence float64                `json:"magnet_confidence"`
	MagnetChange     *detector.StatusChange `json:"magnet_change,omitempty"`
}

// Processor owns all per-session pipeline state. Single-threaded by
// contract: callers feed one sample to completion before the next.
type Processor struct {
	cfg Config

	cal    *magcal.IronCalibrator
	earth  *magcal.EarthFieldEstimator
	det    *detector.MagnetDetector
	filter *fusion.OrientationFilter
	motion *fusion.MotionClassifier
	smooth *fusion.SmoothingFilter

	lastT int64

	stationaryRun      int
	gyroBiasSum        vec.Vector3
	gyroBiasCalibrated bool
}

// NewProcessor creates a fresh pipeline with independent state.
func NewProcessor(cfg Config) *Processor {
	c := cfg.withDefaults()
	cal := magcal.NewIronCalibrator(c.Calibration)
	return &Processor{
		cfg:    c,
		cal:    cal,
		earth:  magcal.NewEarthFieldEstimator(c.EarthField, cal),
		det:    detector.New(c.Detector),
		filter: fusion.NewOrientationFilter(),
		motion: fusion.NewMotionClassifier(c.Motion),
		smooth: fusion.NewSmoothingFilter(c.ResidualSmoothingAlpha),
	}
}

// SetGeomagneticReference installs the expected local field into the
// calibrator and the orientation filter.
func (p *Processor) SetGeomagneticReference(ref geomag.Reference) {
	p.cal.SetReference(ref)
	p.filter.SetGeomagneticReference(ref)
}

// Calibrator exposes the session's iron calibrator for wizard runs,
// refinement and persistence.
func (p *Processor) Calibrator() *magcal.IronCalibrator { return p.cal }

// EarthField exposes the session's Earth-field estimator.
func (p *Processor) EarthField() *magcal.EarthFieldEstimator { return p.earth }

// Detector exposes the session's magnet detector.
func (p *Processor) Detector() *detector.MagnetDetector { return p.det }

// Filter exposes the session's orientation filter.
func (p *Processor) Filter() *fusion.OrientationFilter { return p.filter }

// Process runs one raw sample through the fixed pipeline and returns the
// decorated result. Raw fields pass through untouched.
func (p *Processor) Process(raw imu.RawSample) Decorated {
	out := Decorated{Raw: raw}

	// Unit conversion from sensor counts.
	out.AccelG = vec.Vector3{
		X: float64(raw.Ax) / accelCountsPerG,
		Y: float64(raw.Ay) / accelCountsPerG,
		Z: float64(raw.Az) / accelCountsPerG,
	}
	out.GyroDps = vec.Vector3{
		X: float64(raw.Gx) / gyroCountsPerDps,
		Y: float64(raw.Gy) / gyroCountsPerDps,
		Z: float64(raw.Gz) / gyroCountsPerDps,
	}
	magValid := raw.MagValid
	if magValid {
		// The AK8963 magnetometer frame is rotated against the
		// accel/gyro frame: X and Y swap and Z flips.
		out.MagUT = vec.Vector3{
			X: float64(raw.My) / magCountsPerUT,
			Y: float64(raw.Mx) / magCountsPerUT,
			Z: -float64(raw.Mz) / magCountsPerUT,
		}
		if out.MagUT.IsNaN() {
			magValid = false
		}
	}

	dt := p.deltaT(raw.T)
	gyroRad := out.GyroDps.Scale(degToRad)

	// Motion classification.
	out.Motion = p.motion.Update(out.AccelG, gyroRad)

	// Gyro bias, only after a sustained stationary run.
	p.updateGyroBias(&out, gyroRad)

	// Orientation fusion with progressive magnetometer trust.
	p.updateOrientation(&out, gyroRad, magValid, dt)
	out.Orientation = p.filter.Quaternion()
	out.Euler = p.filter.EulerAngles()

	// Iron calibration feed and corrected output.
	out.CalibrationReadiness = p.cal.ReadinessFraction()
	if magValid {
		p.cal.Update(out.MagUT)
		p.cal.AddOrientationSample(out.MagUT, out.AccelG)
		out.MagCorrectedUT = p.cal.ApplyProgressiveCorrection(out.MagUT)

		if _, ok := p.cal.Reference(); ok && p.cal.OrientationBufferFull() {
			p.cal.RefineWithOrientation()
		}
	}

	// Earth field and residual.
	if magValid && p.filter.Initialized() {
		p.earth.Update(out.MagUT, out.Orientation)
	}
	out.EarthFieldUT = p.earth.FieldMagnitudeUT()
	out.EarthFieldConfidence = p.earth.Confidence()

	if magValid && p.earth.Ready() {
		res := p.earth.Residual(out.MagUT, out.Orientation)
		out.ResidualUT = res
		out.ResidualSmoothedUT = p.smooth.Update(res)
		out.ResidualMagnitudeUT = out.ResidualSmoothedUT.Norm()
		out.MagnetChange = p.det.Update(out.ResidualMagnitudeUT)
	}
	out.MagnetStatus = p.det.Status()
	out.MagnetConfidence = p.det.Confidence()

	return out
}

// deltaT derives dt from consecutive timestamps, falling back to the
// nominal interval on the first sample or a non-monotonic clock.
func (p *Processor) deltaT(t int64) float64 {
	defer func() { p.lastT = t }()
	if p.lastT == 0 || t <= p.lastT {
		return p.cfg.SampleIntervalSec
	}
	dt := float64(t-p.lastT) / 1000
	// A gap longer than a second means the stream stalled; integrating
	// across it would slew the attitude.
	if dt > 1 {
		return p.cfg.SampleIntervalSec
	}
	return dt
}

func (p *Processor) updateGyroBias(out *Decorated, gyroRad vec.Vector3) {
	out.GyroBiasCalibrated = p.gyroBiasCalibrated
	if p.gyroBiasCalibrated {
		return
	}
	if out.Motion.IsMoving || gyroRad.IsNaN() {
		p.stationaryRun = 0
		p.gyroBiasSum = vec.Vector3{}
		return
	}

	p.stationaryRun++
	p.gyroBiasSum = p.gyroBiasSum.Add(gyroRad)

	if p.stationaryRun >= p.cfg.StationaryMinSamples {
		bias := p.gyroBiasSum.Scale(1 / float64(p.stationaryRun))
		p.filter.UpdateGyroBias(bias)
		p.gyroBiasCalibrated = true
		out.GyroBiasCalibrated = true
		out.GyroBiasEvent = true
	}
}

func (p *Processor) updateOrientation(out *Decorated, gyroRad vec.Vector3, magValid bool, dt float64) {
	if !p.filter.Initialized() {
		n := out.AccelG.Norm()
		if n >= p.cfg.SeedAccelMinG && n <= p.cfg.SeedAccelMaxG {
			p.filter.InitFromAccel(out.AccelG)
		}
		out.MagTrust = 0
		return
	}

	_, hasRef := p.cal.Reference()
	if magValid && hasRef {
		trust := p.cfg.MagTrust * p.cal.ReadinessFraction()
		p.filter.SetMagTrust(trust)
		out.MagTrust = trust
		p.filter.UpdateWithMag(gyroRad, out.AccelG, p.cal.ApplyProgressiveCorrection(out.MagUT), dt)
		return
	}

	out.MagTrust = 0
	p.filter.Update(gyroRad, out.AccelG, dt)
}

// Reset returns every pipeline stage to its initial state. The
// configuration and the calibrator's geomagnetic reference survive.
func (p *Processor) Reset() {
	p.cal.Reset()
	p.earth.Reset()
	p.det.Reset()
	p.filter.Reset()
	p.motion.Reset()
	p.smooth.Reset()
	p.lastT = 0
	p.stationaryRun = 0
	p.gyroBiasSum = vec.Vector3{}
	p.gyroBiasCalibrated = false
}
