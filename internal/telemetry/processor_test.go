package telemetry

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/detector"
	"github.com/relabs-tech/magnet_tracker/internal/geomag"
	"github.com/relabs-tech/magnet_tracker/internal/imu"
	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// magWiggle is the per-sample magnetometer noise pattern in counts,
// asymmetric so the noise mean is nonzero like real sensor noise.
var magWiggle = [3]int16{20, 0, -12}

// stream produces level at-rest samples: 1 g on Z, no rotation, a ~50 µT
// field with a little magnetometer noise.
type stream struct {
	t int64
	i int
}

func (s *stream) next() imu.RawSample {
	s.t += 20
	s.i++
	w := magWiggle[s.i%len(magWiggle)]
	return imu.RawSample{
		T:        s.t,
		Az:       16384,
		Mx:       0 + w,
		My:       300 + w, // realigned to sensor X, ~30 µT
		Mz:       400 + w, // realigned to sensor -Z, ~-40 µT
		MagValid: true,
	}
}

func TestRawFieldsPassThroughUnchanged(t *testing.T) {
	p := NewProcessor(Config{})

	raw := imu.RawSample{
		Session: "s1", T: 1000,
		Ax: 12, Ay: -30, Az: 16400,
		Gx: 5, Gy: -5, Gz: 100,
		Mx: 210, My: -40, Mz: 333,
		MagValid: true,
	}
	out := p.Process(raw)

	if diff := cmp.Diff(raw, out.Raw); diff != "" {
		t.Errorf("raw sample mutated (-want +got):\n%s", diff)
	}
}

func TestUnitConversion(t *testing.T) {
	p := NewProcessor(Config{})

	out := p.Process(imu.RawSample{
		T: 1000, Ax: 16384, Gy: 131, Mx: 100, My: 200, Mz: 300, MagValid: true,
	})

	assert.InDelta(t, 1.0, out.AccelG.X, 1e-9)
	assert.InDelta(t, 1.0, out.GyroDps.Y, 1e-9)
	// Magnetometer axes realign to the accel/gyro frame: X and Y swap,
	// Z flips.
	assert.InDelta(t, 20, out.MagUT.X, 1e-9)
	assert.InDelta(t, 10, out.MagUT.Y, 1e-9)
	assert.InDelta(t, -30, out.MagUT.Z, 1e-9)
}

func TestOrientationSeedsFromStrongAccel(t *testing.T) {
	p := NewProcessor(Config{})

	// Freefall-like sample: too weak to seed.
	p.Process(imu.RawSample{T: 1000, Az: 3000})
	assert.False(t, p.Filter().Initialized())

	s := &stream{t: 1000}
	p.Process(s.next())
	assert.True(t, p.Filter().Initialized())
}

func TestGyroBiasCalibratesOnceWhileStationary(t *testing.T) {
	p := NewProcessor(Config{})

	s := &stream{}
	var events int
	var calibratedAt int
	for i := 0; i < 200; i++ {
		raw := s.next()
		raw.Gz = 131 // constant 1 °/s drift while physically still
		out := p.Process(raw)
		if out.GyroBiasEvent {
			events++
			calibratedAt = i
		}
		assert.Equal(t, events > 0, out.GyroBiasCalibrated)
	}

	assert.Equal(t, 1, events, "bias calibration notifies exactly once")
	assert.GreaterOrEqual(t, calibratedAt, 49)

	bias := p.Filter().GyroBias()
	assert.InDelta(t, 1*math.Pi/180, bias.Z, 1e-6)
}

func TestProgressiveMagTrust(t *testing.T) {
	p := NewProcessor(Config{})
	s := &stream{}

	// Without a geomagnetic reference fusion stays 6-DOF.
	p.Process(s.next())
	out := p.Process(s.next())
	assert.Equal(t, 0.0, out.MagTrust)

	p.SetGeomagneticReference(geomag.Reference{HorizontalUT: 30, VerticalUT: 40})

	// A few more samples give the automatic tracker a little per-axis
	// range, so readiness and trust lift off zero together.
	p.Process(s.next())
	out = p.Process(s.next())

	assert.Greater(t, out.MagTrust, 0.0)
	assert.Less(t, out.MagTrust, 0.8, "trust stays scaled down while calibration is not ready")
	assert.InDelta(t, 0.8*out.CalibrationReadiness, out.MagTrust, 1e-9)
}

func TestEarthFieldAndResidualPipeline(t *testing.T) {
	p := NewProcessor(Config{})
	s := &stream{}

	var out Decorated
	for i := 0; i < 120; i++ {
		out = p.Process(s.next())
	}

	require.True(t, p.EarthField().Ready())
	assert.Greater(t, out.EarthFieldUT, 0.0)
	assert.Less(t, out.ResidualMagnitudeUT, 10.0, "no marker present")
}

func TestSustainedMarkerConfirms(t *testing.T) {
	p := NewProcessor(Config{})
	s := &stream{}

	// Converge the Earth field and burn through the detector baseline.
	for i := 0; i < 300; i++ {
		p.Process(s.next())
	}
	require.True(t, p.EarthField().Ready())
	_, baselineSet := p.Detector().BaselineUT()
	require.True(t, baselineSet)
	require.Equal(t, detector.StatusNone, p.Detector().Status())

	// A strong marker appears on the sensor X axis.
	var confirmed bool
	for i := 0; i < 50; i++ {
		raw := s.next()
		raw.My += 1600
		out := p.Process(raw)
		if out.MagnetStatus == detector.StatusConfirmed {
			confirmed = true
		}
	}

	assert.True(t, confirmed)
	assert.GreaterOrEqual(t, p.Detector().Confidence(), 0.9)
}

func TestInvalidMagAbsorbed(t *testing.T) {
	p := NewProcessor(Config{})
	s := &stream{}

	for i := 0; i < 60; i++ {
		p.Process(s.next())
	}
	count := p.Calibrator().AutoSampleCount()

	raw := s.next()
	raw.MagValid = false
	out := p.Process(raw)

	assert.Equal(t, count, p.Calibrator().AutoSampleCount())
	assert.Equal(t, vec.Vector3{}, out.MagUT)
	// Orientation still advances on accel and gyro.
	assert.True(t, p.Filter().Initialized())
}

func TestResetClearsPipeline(t *testing.T) {
	p := NewProcessor(Config{})
	s := &stream{}
	for i := 0; i < 120; i++ {
		p.Process(s.next())
	}
	require.True(t, p.Filter().Initialized())

	p.Reset()

	assert.False(t, p.Filter().Initialized())
	assert.False(t, p.EarthField().Ready())
	assert.Equal(t, 0, p.Calibrator().AutoSampleCount())
	assert.Equal(t, detector.StatusNone, p.Detector().Status())
}
