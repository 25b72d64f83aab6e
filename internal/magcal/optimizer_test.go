package magcal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// levelPairs builds (mag, accel) pairs for a level device spinning in yaw:
// gravity stays on +Z while the Earth field rotates through the horizontal
// plane, contaminated by a constant hard-iron offset.
func levelPairs(n int, horizontalUT, verticalUT float64, ironOffset vec.Vector3) []pairedSample {
	pairs := make([]pairedSample, 0, n)
	for i := 0; i < n; i++ {
		yaw := 2 * math.Pi * float64(i) / float64(n)
		mag := vec.Vector3{
			X: horizontalUT*math.Cos(yaw) + ironOffset.X,
			Y: -horizontalUT*math.Sin(yaw) + ironOffset.Y,
			Z: verticalUT + ironOffset.Z,
		}
		pairs = append(pairs, pairedSample{Mag: mag, Accel: vec.Vector3{Z: 1}})
	}
	return pairs
}

func TestRefineRequiresReference(t *testing.T) {
	c := NewIronCalibrator(Config{PairBufferCap: 10})
	for _, p := range levelPairs(10, 20, 40, vec.Vector3{}) {
		c.AddOrientationSample(p.Mag, p.Accel)
	}

	res := c.RefineWithOrientation()

	assert.False(t, res.Ran)
	assert.Equal(t, ReasonNoReference, res.Reason)
}

func TestRefineRequiresFullBuffer(t *testing.T) {
	c := NewIronCalibrator(Config{PairBufferCap: 100})
	c.SetReference(geomagReference(20, 40))
	c.AddOrientationSample(vec.Vector3{X: 25}, vec.Vector3{Z: 1})

	res := c.RefineWithOrientation()

	assert.False(t, res.Ran)
	assert.Equal(t, ReasonBufferNotFull, res.Reason)
}

func TestRefineImprovesCostAndRunsOnce(t *testing.T) {
	c := NewIronCalibrator(Config{PairBufferCap: 48, OptimizerMaxIterations: 40})
	c.SetReference(geomagReference(20, 40))

	iron := vec.Vector3{X: 5, Y: -3, Z: 2}
	for _, p := range levelPairs(48, 20, 40, iron) {
		c.AddOrientationSample(p.Mag, p.Accel)
	}
	require.True(t, c.OrientationBufferFull())

	res := c.RefineWithOrientation()

	require.True(t, res.Ran)
	assert.Greater(t, res.Iterations, 0)
	assert.Less(t, res.FinalCost, res.InitialCost)
	assert.True(t, c.Refined())

	second := c.RefineWithOrientation()
	assert.False(t, second.Ran)
	assert.Equal(t, ReasonAlreadyRefined, second.Reason)
}

func TestRefineNeverWorseThanStart(t *testing.T) {
	c := NewIronCalibrator(Config{PairBufferCap: 32, OptimizerMaxIterations: 5})
	c.SetReference(geomagReference(20, 40))

	for _, p := range levelPairs(32, 20, 40, vec.Vector3{X: 1}) {
		c.AddOrientationSample(p.Mag, p.Accel)
	}

	res := c.RefineWithOrientation()

	require.True(t, res.Ran)
	assert.LessOrEqual(t, res.FinalCost, res.InitialCost)
}

func TestApplyGradientClampsMatrix(t *testing.T) {
	p := ironParams{Matrix: vec.Identity()}
	var grad [12]float64
	for i := 3; i < 12; i++ {
		grad[i] = 1e9
	}

	next := applyGradient(p, grad)

	for _, d := range [3]int{0, 4, 8} {
		assert.GreaterOrEqual(t, next.Matrix[d], optDiagMin)
		assert.LessOrEqual(t, next.Matrix[d], optDiagMax)
	}
	for _, o := range [6]int{1, 2, 3, 5, 6, 7} {
		assert.GreaterOrEqual(t, next.Matrix[o], -optOffDiagLimit)
		assert.LessOrEqual(t, next.Matrix[o], optOffDiagLimit)
	}
}
