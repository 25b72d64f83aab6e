package magcal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

func TestRunHardIronRecoversOffset(t *testing.T) {
	c := NewIronCalibrator(Config{})
	offset := vec.Vector3{X: 20, Y: -15, Z: 5}

	res := c.RunHardIron(spherePoints(300, offset, 50))

	require.True(t, res.OK)
	assert.InDelta(t, offset.X, res.OffsetUT.X, 1)
	assert.InDelta(t, offset.Y, res.OffsetUT.Y, 1)
	assert.InDelta(t, offset.Z, res.OffsetUT.Z, 1)
	assert.Equal(t, QualityGood, res.Quality)
	assert.Greater(t, res.Sphericity, 0.9)
	assert.Equal(t, 1.0, res.Coverage)
	assert.True(t, c.CalibratedByWizard())
}

func TestRunHardIronRejectsShortBatch(t *testing.T) {
	c := NewIronCalibrator(Config{})

	res := c.RunHardIron(spherePoints(50, vec.Vector3{}, 50))

	assert.False(t, res.OK)
	assert.Equal(t, ReasonInsufficientSamples, res.Reason)
	assert.NotEmpty(t, res.Remediation)
	assert.False(t, c.CalibratedByWizard())
}

func TestRunSoftIronRecoversAxisScales(t *testing.T) {
	c := NewIronCalibrator(Config{})
	offset := vec.Vector3{X: 10, Y: 0, Z: -5}

	// Ellipsoidal cloud: the X axis reads 20% hot and the Z axis 20%
	// cold. The matrix must shrink X and stretch Z.
	pts := spherePoints(400, vec.Vector3{}, 1)
	for i := range pts {
		pts[i] = vec.Vector3{
			X: offset.X + 60*pts[i].X,
			Y: offset.Y + 50*pts[i].Y,
			Z: offset.Z + 40*pts[i].Z,
		}
	}

	require.True(t, c.RunHardIron(pts).OK)
	res := c.RunSoftIron(pts)

	require.True(t, res.OK)
	assert.Less(t, res.Matrix[0], 1.0)
	assert.Greater(t, res.Matrix[8], 1.0)
	assert.Greater(t, res.Quality, 0.5)

	// After the full wizard, points on the ellipsoid correct to roughly
	// equal magnitudes.
	a := c.ApplyCorrection(vec.Vector3{X: offset.X + 60, Y: offset.Y, Z: offset.Z})
	b := c.ApplyCorrection(vec.Vector3{X: offset.X, Y: offset.Y, Z: offset.Z + 40})
	assert.InDelta(t, a.Norm(), b.Norm(), 5)
}

func TestRunSoftIronRejectsDegenerateCloud(t *testing.T) {
	c := NewIronCalibrator(Config{})

	same := make([]vec.Vector3, 250)
	for i := range same {
		same[i] = vec.Vector3{X: 12, Y: -3, Z: 40}
	}

	res := c.RunSoftIron(same)

	assert.False(t, res.OK)
	assert.Equal(t, ReasonInsufficientSpread, res.Reason)
}
