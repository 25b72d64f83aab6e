package magcal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/geomag"
	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

func geomagReference(horizontal, vertical float64) geomag.Reference {
	return geomag.Reference{HorizontalUT: horizontal, VerticalUT: vertical}
}

// spherePoints generates n points evenly spread over a sphere of the given
// radius around center, using a golden-angle spiral. Covers all octants for
// n above a few dozen.
func spherePoints(n int, center vec.Vector3, radius float64) []vec.Vector3 {
	pts := make([]vec.Vector3, 0, n)
	for i := 0; i < n; i++ {
		z := 1 - 2*float64(i)/float64(n-1)
		r := math.Sqrt(math.Max(0, 1-z*z))
		phi := float64(i) * 2.39996322972865332
		pts = append(pts, vec.Vector3{
			X: center.X + radius*r*math.Cos(phi),
			Y: center.Y + radius*r*math.Sin(phi),
			Z: center.Z + radius*z,
		})
	}
	return pts
}

func TestAutoEstimateNotReadyBeforeSampleCount(t *testing.T) {
	c := NewIronCalibrator(Config{})
	offset := vec.Vector3{X: 20, Y: -15, Z: 5}
	pts := spherePoints(400, offset, 50)

	for _, p := range pts[:399] {
		c.Update(p)
	}
	assert.False(t, c.AutoReady(), "full rotation coverage alone must not trigger readiness")
	assert.Less(t, c.ReadinessFraction(), 1.0)

	c.Update(pts[399])
	assert.True(t, c.AutoReady())
	assert.Equal(t, 1.0, c.ReadinessFraction())
}

func TestAutoEstimateConvergesToOffset(t *testing.T) {
	c := NewIronCalibrator(Config{})
	offset := vec.Vector3{X: 20, Y: -15, Z: 5}
	for _, p := range spherePoints(500, offset, 50) {
		c.Update(p)
	}

	require.True(t, c.AutoReady())
	got := c.AutoEstimate()
	assert.InDelta(t, offset.X, got.X, 2)
	assert.InDelta(t, offset.Y, got.Y, 2)
	assert.InDelta(t, offset.Z, got.Z, 2)

	// The effective correction recenters raw readings onto the origin.
	corrected := c.ApplyCorrection(vec.Vector3{X: offset.X + 50, Y: offset.Y, Z: offset.Z})
	assert.InDelta(t, 50, corrected.Norm(), 3)
}

func TestSingleAxisRotationNeverReady(t *testing.T) {
	c := NewIronCalibrator(Config{})
	offset := vec.Vector3{X: 20, Y: -15, Z: 5}

	// Rotation around one axis only: the Z channel barely moves, so the
	// per-axis range requirement must keep readiness off no matter how
	// many samples arrive.
	for i := 0; i < 1000; i++ {
		a := float64(i) * 0.05
		c.Update(vec.Vector3{
			X: offset.X + 50*math.Cos(a),
			Y: offset.Y + 50*math.Sin(a),
			Z: offset.Z + 2*math.Sin(3*a),
		})
	}

	assert.False(t, c.AutoReady())
	assert.LessOrEqual(t, c.ReadinessFraction(), 0.95)
}

func TestNaNSamplesAbsorbed(t *testing.T) {
	c := NewIronCalibrator(Config{})
	c.Update(vec.Vector3{X: 10, Y: 20, Z: 30})
	before := c.AutoEstimate()
	count := c.AutoSampleCount()

	c.Update(vec.Vector3{X: math.NaN(), Y: 20, Z: 30})

	assert.Equal(t, before, c.AutoEstimate())
	assert.Equal(t, count, c.AutoSampleCount())
}

func TestWizardBeatsAutoEstimate(t *testing.T) {
	c := NewIronCalibrator(Config{})

	wizardOffset := vec.Vector3{X: 8, Y: -4, Z: 12}
	res := c.RunHardIron(spherePoints(200, wizardOffset, 50))
	require.True(t, res.OK)

	// Drive the automatic estimate to a different offset; the wizard
	// result must still win.
	autoOffset := vec.Vector3{X: 30, Y: 10, Z: -20}
	for _, p := range spherePoints(500, autoOffset, 50) {
		c.Update(p)
	}
	require.True(t, c.AutoReady())

	corrected := c.ApplyCorrection(wizardOffset)
	assert.InDelta(t, 0, corrected.Norm(), 1)
	assert.True(t, c.CalibratedByWizard())
	assert.Equal(t, 1.0, c.ReadinessFraction())
}

func TestProgressiveCorrectionBeforeReady(t *testing.T) {
	c := NewIronCalibrator(Config{})
	offset := vec.Vector3{X: 20, Y: -15, Z: 5}

	// Zero knowledge: the raw value passes through untouched.
	raw := vec.Vector3{X: 1, Y: 2, Z: 3}
	assert.Equal(t, raw, c.ApplyProgressiveCorrection(raw))

	// A handful of samples is not enough for readiness, but the running
	// midpoint is already applied.
	for _, p := range spherePoints(50, offset, 50) {
		c.Update(p)
	}
	require.False(t, c.AutoReady())
	corrected := c.ApplyProgressiveCorrection(offset)
	assert.Less(t, corrected.Norm(), offset.Norm())
}

func TestResetKeepsReference(t *testing.T) {
	c := NewIronCalibrator(Config{})
	c.SetReference(geomagReference(30, 40))
	c.RunHardIron(spherePoints(200, vec.Vector3{X: 5}, 50))
	for _, p := range spherePoints(500, vec.Vector3{X: 5}, 50) {
		c.Update(p)
	}

	c.Reset()

	assert.False(t, c.CalibratedByWizard())
	assert.False(t, c.AutoReady())
	assert.Equal(t, 0, c.AutoSampleCount())
	_, ok := c.Reference()
	assert.True(t, ok, "the geomagnetic reference survives a reset")
}
