// Package geomag models the expected geomagnetic field at the wearer's
// location. The reference is supplied by config or derived from a GPS fix;
// it is set at most once per relocation.
package geomag

import "math"

// Reference holds the expected Earth-field components at a location.
// Horizontal and vertical components are in µT, declination in degrees
// (positive east).
type Reference struct {
	HorizontalUT   float64 `json:"horizontal_ut"`
	VerticalUT     float64 `json:"vertical_ut"`
	DeclinationDeg float64 `json:"declination_deg"`
}

// FieldMagnitude returns the total expected field strength in µT.
func (r Reference) FieldMagnitude() float64 {
	return math.Hypot(r.HorizontalUT, r.VerticalUT)
}

// Geomagnetic north pole position (IGRF-13, epoch 2020) and the equatorial
// surface field of the dipole term.
const (
	poleLatDeg = 80.65
	poleLonDeg = -72.68
	b0UT       = 31.2
)

// FromLocation estimates the reference field at a latitude/longitude using
// the tilted-dipole approximation. Good to roughly 10-20% of the real
// field, which is enough for calibration readiness thresholds; deployments
// that need better accuracy pin explicit components in the config.
func FromLocation(latDeg, lonDeg float64) Reference {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180
	pLat := poleLatDeg * math.Pi / 180
	pLon := poleLonDeg * math.Pi / 180

	// Geomagnetic latitude: angle from the dipole equator.
	sinMagLat := math.Sin(lat)*math.Sin(pLat) +
		math.Cos(lat)*math.Cos(pLat)*math.Cos(lon-pLon)
	magLat := math.Asin(sinMagLat)

	horizontal := b0UT * math.Cos(magLat)
	vertical := 2 * b0UT * math.Sin(magLat)

	// Declination: initial great-circle bearing toward the geomagnetic
	// pole, relative to true north.
	dLon := pLon - lon
	y := math.Sin(dLon) * math.Cos(pLat)
	x := math.Cos(lat)*math.Sin(pLat) - math.Sin(lat)*math.Cos(pLat)*math.Cos(dLon)
	decl := math.Atan2(y, x) * 180 / math.Pi

	return Reference{
		HorizontalUT:   horizontal,
		VerticalUT:     vertical,
		DeclinationDeg: decl,
	}
}
