package geomag

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldMagnitude(t *testing.T) {
	r := Reference{HorizontalUT: 30, VerticalUT: 40}
	assert.InDelta(t, 50.0, r.FieldMagnitude(), 1e-12)
}

func TestFromLocationMidLatitudes(t *testing.T) {
	// Central Europe: strong downward component, field ~45-55 µT,
	// small declination.
	r := FromLocation(48.1, 11.6)
	assert.Greater(t, r.VerticalUT, r.HorizontalUT)
	assert.InDelta(t, 50, r.FieldMagnitude(), 12)
	assert.Less(t, math.Abs(r.DeclinationDeg), 15.0)
}

func TestFromLocationMagneticEquator(t *testing.T) {
	// Near the dipole equator the field is mostly horizontal.
	r := FromLocation(0, -72.68+90)
	assert.Less(t, math.Abs(r.VerticalUT), r.HorizontalUT)
}

func TestFromLocationSouthernHemisphere(t *testing.T) {
	// Vertical component flips sign south of the dipole equator.
	north := FromLocation(45, 0)
	south := FromLocation(-45, 0)
	assert.Positive(t, north.VerticalUT)
	assert.Negative(t, south.VerticalUT)
}
