// Package fusion estimates device orientation from 9-axis samples and
// classifies motion. The orientation filter is a Mahony-style quaternion
// complementary filter with an adjustable magnetometer trust weight.
package fusion

import (
	"math"

	"github.com/relabs-tech/magnet_tracker/internal/geomag"
	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// Filter gains and limits.
const (
	defaultKp = 2.0
	defaultKi = 0.01
	// maxCorrection caps the feedback added to the gyro rate so one bad
	// accelerometer or magnetometer sample cannot slew the attitude.
	maxCorrection = 0.1 // rad/s
)

// EulerAngles holds roll, pitch and yaw in radians.
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// OrientationFilter fuses gyro, accel and magnetometer into a unit
// quaternion. Not safe for concurrent use.
type OrientationFilter struct {
	q  vec.Quaternion
	kp float64
	ki float64

	integralFB vec.Vector3
	gyroBias   vec.Vector3

	magTrust    float64
	ref         *geomag.Reference
	magResidual float64

	initialized bool
}

// NewOrientationFilter creates a filter at identity orientation with full
// magnetometer trust.
func NewOrientationFilter() *OrientationFilter {
	return &OrientationFilter{
		q:        vec.IdentityQuaternion(),
		kp:       defaultKp,
		ki:       defaultKi,
		magTrust: 1,
	}
}

// Initialized reports whether the attitude has been seeded from gravity.
func (f *OrientationFilter) Initialized() bool { return f.initialized }

// InitFromAccel seeds roll and pitch from a gravity measurement, yaw zero.
// The accelerometer should be close to 1 g (device at rest).
func (f *OrientationFilter) InitFromAccel(accelG vec.Vector3) {
	roll := math.Atan2(accelG.Y, accelG.Z)
	pitch := math.Atan2(-accelG.X, math.Sqrt(accelG.Y*accelG.Y+accelG.Z*accelG.Z))

	sr, cr := math.Sincos(roll / 2)
	sp, cp := math.Sincos(pitch / 2)

	f.q = vec.Quaternion{
		W: cr * cp,
		X: sr * cp,
		Y: cr * sp,
		Z: -sr * sp,
	}.Normalized()
	f.integralFB = vec.Vector3{}
	f.initialized = true
}

// SetMagTrust sets the magnetometer feedback weight, clamped to [0,1].
// Zero degrades UpdateWithMag to gyro+accel only.
func (f *OrientationFilter) SetMagTrust(trust float64) {
	f.magTrust = math.Max(0, math.Min(1, trust))
}

// MagTrust returns the current magnetometer feedback weight.
func (f *OrientationFilter) MagTrust() float64 { return f.magTrust }

// SetGeomagneticReference installs the expected local field so yaw can be
// corrected to true north through the declination.
func (f *OrientationFilter) SetGeomagneticReference(ref geomag.Reference) {
	r := ref
	f.ref = &r
}

// UpdateGyroBias installs a gyro bias estimate (rad/s) that is subtracted
// from every subsequent rate sample.
func (f *OrientationFilter) UpdateGyroBias(bias vec.Vector3) {
	f.gyroBias = bias
}

// GyroBias returns the installed bias estimate in rad/s.
func (f *OrientationFilter) GyroBias() vec.Vector3 { return f.gyroBias }

// Update advances the attitude by one 6-DOF step: gyro in rad/s, accel in
// g, dt in seconds. Gravity feedback corrects roll and pitch; yaw drifts
// with the gyro.
func (f *OrientationFilter) Update(gyro, accelG vec.Vector3, dt float64) {
	f.step(gyro, accelG, vec.Vector3{}, false, dt)
}

// UpdateWithMag advances the attitude by one 9-DOF step. The magnetometer
// (any consistent unit, normalized internally) corrects yaw, weighted by
// the current trust.
func (f *OrientationFilter) UpdateWithMag(gyro, accelG, mag vec.Vector3, dt float64) {
	useMag := f.magTrust > 0 && mag.Norm() > 1e-9 && !mag.IsNaN()
	f.step(gyro, accelG, mag, useMag, dt)
}

func (f *OrientationFilter) step(gyro, accelG, mag vec.Vector3, useMag bool, dt float64) {
	if dt <= 0 || gyro.IsNaN() || accelG.IsNaN() {
		return
	}

	gx := gyro.X - f.gyroBias.X
	gy := gyro.Y - f.gyroBias.Y
	gz := gyro.Z - f.gyroBias.Z

	q0, q1, q2, q3 := f.q.W, f.q.X, f.q.Y, f.q.Z

	var ex, ey, ez float64

	an := accelG.Norm()
	if an > 1e-9 {
		ax, ay, az := accelG.X/an, accelG.Y/an, accelG.Z/an

		// Estimated gravity direction in the sensor frame.
		vx := 2 * (q1*q3 - q0*q2)
		vy := 2 * (q0*q1 + q2*q3)
		vz := q0*q0 - q1*q1 - q2*q2 + q3*q3

		ex += ay*vz - az*vy
		ey += az*vx - ax*vz
		ez += ax*vy - ay*vx
	}

	if useMag {
		mn := mag.Norm()
		mx, my, mz := mag.X/mn, mag.Y/mn, mag.Z/mn

		// Measured field rotated into the world frame; its horizontal
		// magnitude and vertical component form the reference direction,
		// which makes the mag feedback insensitive to dip angle.
		hx := 2*mx*(0.5-q2*q2-q3*q3) + 2*my*(q1*q2-q0*q3) + 2*mz*(q1*q3+q0*q2)
		hy := 2*mx*(q1*q2+q0*q3) + 2*my*(0.5-q1*q1-q3*q3) + 2*mz*(q2*q3-q0*q1)
		bx := math.Hypot(hx, hy)
		bz := 2*mx*(q1*q3-q0*q2) + 2*my*(q2*q3+q0*q1) + 2*mz*(0.5-q1*q1-q2*q2)

		// Expected field direction back in the sensor frame.
		wx := 2*bx*(0.5-q2*q2-q3*q3) + 2*bz*(q1*q3-q0*q2)
		wy := 2*bx*(q1*q2-q0*q3) + 2*bz*(q0*q1+q2*q3)
		wz := 2*bx*(q0*q2+q1*q3) + 2*bz*(0.5-q1*q1-q2*q2)

		mex := my*wz - mz*wy
		mey := mz*wx - mx*wz
		mez := mx*wy - my*wx

		ex += f.magTrust * mex
		ey += f.magTrust * mey
		ez += f.magTrust * mez

		// Angle between measured and expected field, a cheap disturbance
		// indicator for telemetry.
		f.magResidual = math.Asin(math.Min(1, math.Hypot(math.Hypot(mex, mey), mez)))
	}

	if f.ki > 0 {
		f.integralFB.X += f.ki * ex * dt
		f.integralFB.Y += f.ki * ey * dt
		f.integralFB.Z += f.ki * ez * dt
		gx += f.integralFB.X
		gy += f.integralFB.Y
		gz += f.integralFB.Z
	}

	gx = clamp(gx+f.kp*ex, maxCorrectionFor(gyro.X))
	gy = clamp(gy+f.kp*ey, maxCorrectionFor(gyro.Y))
	gz = clamp(gz+f.kp*ez, maxCorrectionFor(gyro.Z))

	gx *= 0.5 * dt
	gy *= 0.5 * dt
	gz *= 0.5 * dt
	qa, qb, qc := q0, q1, q2
	q0 += -qb*gx - qc*gy - q3*gz
	q1 += qa*gx + qc*gz - q3*gy
	q2 += qa*gy - qb*gz + q3*gx
	q3 += qa*gz + qb*gy - qc*gx

	f.q = vec.Quaternion{W: q0, X: q1, Y: q2, Z: q3}.Normalized()
}

// maxCorrectionFor bounds the corrected rate around the raw gyro reading,
// so feedback can only nudge the attitude, never overpower the gyro.
func maxCorrectionFor(raw float64) float64 {
	return math.Abs(raw) + maxCorrection
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// Quaternion returns the current attitude (sensor to world).
func (f *OrientationFilter) Quaternion() vec.Quaternion { return f.q }

// MagResidual returns the last measured-vs-expected field angle in
// radians, updated on each magnetometer step.
func (f *OrientationFilter) MagResidual() float64 { return f.magResidual }

// EulerAngles converts the attitude to roll, pitch and yaw. When a
// geomagnetic reference is set, yaw is declination-corrected to true
// north.
func (f *OrientationFilter) EulerAngles() EulerAngles {
	q0, q1, q2, q3 := f.q.W, f.q.X, f.q.Y, f.q.Z

	roll := math.Atan2(2*(q0*q1+q2*q3), 1-2*(q1*q1+q2*q2))

	sinp := 2 * (q0*q2 - q3*q1)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	yaw := math.Atan2(2*(q0*q3+q1*q2), 1-2*(q2*q2+q3*q3))
	if f.ref != nil {
		yaw += f.ref.DeclinationDeg * math.Pi / 180
		for yaw > math.Pi {
			yaw -= 2 * math.Pi
		}
		for yaw < -math.Pi {
			yaw += 2 * math.Pi
		}
	}

	return EulerAngles{Roll: roll, Pitch: pitch, Yaw: yaw}
}

// Reset returns the filter to identity attitude with cleared feedback and
// bias. Trust and the geomagnetic reference survive.
func (f *OrientationFilter) Reset() {
	f.q = vec.IdentityQuaternion()
	f.integralFB = vec.Vector3{}
	f.gyroBias = vec.Vector3{}
	f.magResidual = 0
	f.initialized = false
}
