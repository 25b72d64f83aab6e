package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// learnBaseline drives the detector through the baseline phase with a
// constant noise floor.
func learnBaseline(t *testing.T, d *MagnetDetector, noiseUT float64) {
	t.Helper()
	for i := 0; i < 100; i++ {
		change := d.Update(noiseUT)
		assert.Nil(t, change, "no transitions while the baseline forms")
	}
	b, ok := d.BaselineUT()
	require.True(t, ok)
	require.InDelta(t, noiseUT, b, 1e-9)
}

func TestBaselinePhaseForcesNone(t *testing.T) {
	d := New(Config{})

	// Even huge residuals during the learning phase must not classify.
	for i := 0; i < 99; i++ {
		assert.Nil(t, d.Update(80))
		assert.Equal(t, StatusNone, d.Status())
		assert.Equal(t, 0.0, d.Confidence())
	}
	_, ok := d.BaselineUT()
	assert.False(t, ok)

	assert.Nil(t, d.Update(80))
	_, ok = d.BaselineUT()
	assert.True(t, ok)
}

func TestHoldCountBoundary(t *testing.T) {
	d := New(Config{})
	learnBaseline(t, d, 2)

	// Nine agreeing samples are one short of the hold depth.
	for i := 0; i < 9; i++ {
		assert.Nil(t, d.Update(2+15))
		assert.Equal(t, StatusNone, d.Status())
	}

	change := d.Update(2 + 15)
	require.NotNil(t, change)
	assert.Equal(t, StatusNone, change.From)
	assert.Equal(t, StatusPossible, change.To)
	assert.Equal(t, StatusPossible, d.Status())
}

func TestDisagreementResetsPendingRun(t *testing.T) {
	d := New(Config{})
	learnBaseline(t, d, 0)

	for i := 0; i < 9; i++ {
		assert.Nil(t, d.Update(15))
	}
	// One sample back at the noise floor breaks the run.
	assert.Nil(t, d.Update(0))

	for i := 0; i < 9; i++ {
		assert.Nil(t, d.Update(15))
	}
	assert.Equal(t, StatusNone, d.Status())

	change := d.Update(15)
	require.NotNil(t, change)
	assert.Equal(t, StatusPossible, change.To)
}

func TestStrongMarkerConfirms(t *testing.T) {
	d := New(Config{})
	learnBaseline(t, d, 2)

	var last *StatusChange
	for i := 0; i < 20; i++ {
		if change := d.Update(2 + 80); change != nil {
			last = change
		}
	}

	require.NotNil(t, last)
	assert.Equal(t, StatusConfirmed, last.To)
	assert.Equal(t, StatusConfirmed, d.Status())
	assert.GreaterOrEqual(t, d.Confidence(), 0.9)
}

func TestNegativeDeviationNeverClassifies(t *testing.T) {
	d := New(Config{})
	learnBaseline(t, d, 30)

	// Residuals far below the baseline stay "none" with zero confidence.
	for i := 0; i < 50; i++ {
		assert.Nil(t, d.Update(2))
	}
	assert.Equal(t, StatusNone, d.Status())
	assert.Equal(t, 0.0, d.Confidence())
}

func TestConfidenceBandEdges(t *testing.T) {
	d := New(Config{})
	learnBaseline(t, d, 0)

	cases := []struct {
		residual float64
		want     float64
	}{
		{0, 0},
		{5, 0.125},
		{10, 0.25},
		{20, 0.5},
		{35, 0.75},
		{50, 1},
		{90, 1},
	}
	for _, tc := range cases {
		d.Update(tc.residual)
		assert.InDelta(t, tc.want, d.Confidence(), 1e-9, "residual %.0f", tc.residual)
	}
}

func TestNaNAbsorbed(t *testing.T) {
	d := New(Config{})
	learnBaseline(t, d, 2)

	for i := 0; i < 5; i++ {
		d.Update(2 + 15)
	}
	before := d.Status()

	assert.Nil(t, d.Update(math.NaN()))
	assert.Equal(t, before, d.Status())

	b, ok := d.BaselineUT()
	assert.True(t, ok)
	assert.InDelta(t, 2, b, 1e-9)
}

func TestResetRelearnsBaseline(t *testing.T) {
	d := New(Config{})
	learnBaseline(t, d, 2)
	for i := 0; i < 10; i++ {
		d.Update(2 + 40)
	}
	require.NotEqual(t, StatusNone, d.Status())

	d.Reset()

	assert.Equal(t, StatusNone, d.Status())
	_, ok := d.BaselineUT()
	assert.False(t, ok)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "none", StatusNone.String())
	assert.Equal(t, "possible", StatusPossible.String())
	assert.Equal(t, "likely", StatusLikely.String())
	assert.Equal(t, "confirmed", StatusConfirmed.String())
}
