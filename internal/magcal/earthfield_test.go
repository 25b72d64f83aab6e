package magcal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

func newTestEstimator() *EarthFieldEstimator {
	return NewEarthFieldEstimator(EarthConfig{}, NewIronCalibrator(Config{}))
}

func TestEstimateGatedByMinSamples(t *testing.T) {
	e := newTestEstimator()
	field := vec.Vector3{X: 30, Z: -40}
	q := vec.IdentityQuaternion()

	for i := 0; i < 49; i++ {
		e.Update(field, q)
	}

	assert.False(t, e.Ready())
	assert.Equal(t, 0.0, e.FieldMagnitudeUT())
	assert.LessOrEqual(t, e.Confidence(), 0.5)

	e.Update(field, q)

	assert.True(t, e.Ready())
	assert.InDelta(t, 50, e.FieldMagnitudeUT(), 1e-9)
}

func TestEstimateTracksConstantField(t *testing.T) {
	e := newTestEstimator()
	field := vec.Vector3{X: 30, Z: -40}
	q := vec.IdentityQuaternion()

	for i := 0; i < 120; i++ {
		e.Update(field, q)
	}

	got := e.FieldWorld()
	assert.InDelta(t, field.X, got.X, 1e-9)
	assert.InDelta(t, field.Y, got.Y, 1e-9)
	assert.InDelta(t, field.Z, got.Z, 1e-9)
	assert.InDelta(t, 1.0, e.Confidence(), 1e-9)
}

func TestResidualIsolatesDisturbance(t *testing.T) {
	e := newTestEstimator()
	field := vec.Vector3{X: 30, Z: -40}
	q := vec.IdentityQuaternion()

	for i := 0; i < 120; i++ {
		e.Update(field, q)
	}

	// A nearby magnet adds 10 µT on X; the residual recovers exactly
	// that disturbance.
	res := e.Residual(field.Add(vec.Vector3{X: 10}), q)
	assert.InDelta(t, 10, res.Norm(), 1e-9)
	assert.InDelta(t, 10, res.X, 1e-9)

	// The undisturbed reading leaves no residual.
	clean := e.Residual(field, q)
	assert.InDelta(t, 0, clean.Norm(), 1e-9)
}

func TestResidualSubtractsBaseline(t *testing.T) {
	e := newTestEstimator()
	field := vec.Vector3{X: 30, Z: -40}
	q := vec.IdentityQuaternion()
	for i := 0; i < 120; i++ {
		e.Update(field, q)
	}

	stuck := vec.Vector3{X: 3, Y: 1}
	batch := make([]vec.Vector3, 40)
	for i := range batch {
		batch[i] = stuck
	}
	res := e.CaptureBaseline(batch)
	require.True(t, res.OK)
	assert.True(t, res.Established)

	after := e.Residual(field.Add(stuck), q)
	assert.InDelta(t, 0, after.Norm(), 1e-9)
}

func TestCaptureBaselineRejections(t *testing.T) {
	e := newTestEstimator()

	short := make([]vec.Vector3, 10)
	res := e.CaptureBaseline(short)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonInsufficientSamples, res.Reason)

	big := make([]vec.Vector3, 40)
	for i := range big {
		big[i] = vec.Vector3{X: 25}
	}
	res = e.CaptureBaseline(big)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonBaselineTooLarge, res.Reason)
	assert.False(t, e.Baseline().Active)
}

func TestEstimatorReset(t *testing.T) {
	e := newTestEstimator()
	field := vec.Vector3{X: 30, Z: -40}
	q := vec.IdentityQuaternion()
	for i := 0; i < 120; i++ {
		e.Update(field, q)
	}
	require.True(t, e.Ready())

	e.Reset()

	assert.False(t, e.Ready())
	assert.Equal(t, 0.0, e.FieldMagnitudeUT())
	assert.Equal(t, 0.0, e.Confidence())
	assert.False(t, e.Baseline().Active)
}
