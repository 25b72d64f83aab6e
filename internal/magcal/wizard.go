package magcal

import (
	"math"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// Minimum batch sizes for the guided wizard phases.
const (
	hardIronMinSamples = 100
	softIronMinSamples = 200
)

// Reason codes for expected wizard outcomes.
const (
	ReasonInsufficientSamples = "insufficient_samples"
	ReasonInsufficientSpread  = "insufficient_spread"
)

// Quality grades for wizard calibration.
const (
	QualityGood       = "good"
	QualityAcceptable = "acceptable"
	QualityPoor       = "poor"
)

// HardIronResult reports the outcome of a guided hard-iron run. A failed
// run is an expected outcome, not an error: OK is false and Reason carries
// a machine-readable code.
type HardIronResult struct {
	OK          bool    `json:"ok"`
	Reason      string  `json:"reason,omitempty"`
	Remediation string  `json:"remediation,omitempty"`
	OffsetUT    vec.Vector3 `json:"offset_ut"`
	Sphericity  float64 `json:"sphericity"`
	Coverage    float64 `json:"coverage"`
	Quality     string  `json:"quality,omitempty"`
	Samples     int     `json:"samples"`
}

// SoftIronResult reports the outcome of a guided soft-iron run.
type SoftIronResult struct {
	OK          bool        `json:"ok"`
	Reason      string      `json:"reason,omitempty"`
	Remediation string      `json:"remediation,omitempty"`
	Matrix      vec.Matrix3 `json:"matrix"`
	Quality     float64     `json:"quality"`
	Samples     int         `json:"samples"`
}

// RunHardIron computes the hard-iron offset from a wizard batch: the
// per-axis midpoint of min and max. On success the offset is installed and
// takes priority over automatic estimates for the rest of the session.
func (c *IronCalibrator) RunHardIron(samples []vec.Vector3) HardIronResult {
	if len(samples) < hardIronMinSamples {
		return HardIronResult{
			Reason:      ReasonInsufficientSamples,
			Remediation: "keep rotating the sensor through all orientations and retry",
			Samples:     len(samples),
		}
	}

	minV := vec.Vector3{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	maxV := vec.Vector3{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, s := range samples {
		if s.IsNaN() {
			continue
		}
		minV.X = math.Min(minV.X, s.X)
		minV.Y = math.Min(minV.Y, s.Y)
		minV.Z = math.Min(minV.Z, s.Z)
		maxV.X = math.Max(maxV.X, s.X)
		maxV.Y = math.Max(maxV.Y, s.Y)
		maxV.Z = math.Max(maxV.Z, s.Z)
	}

	offset := vec.Vector3{
		X: (maxV.X + minV.X) / 2,
		Y: (maxV.Y + minV.Y) / 2,
		Z: (maxV.Z + minV.Z) / 2,
	}

	rx := maxV.X - minV.X
	ry := maxV.Y - minV.Y
	rz := maxV.Z - minV.Z
	minRange := math.Min(rx, math.Min(ry, rz))
	maxRange := math.Max(rx, math.Max(ry, rz))

	sphericity := 0.0
	if maxRange > 0 {
		sphericity = minRange / maxRange
	}
	coverage := octantCoverage(samples, offset)

	quality := QualityPoor
	switch {
	case sphericity > 0.9 && coverage > 0.7:
		quality = QualityGood
	case sphericity > 0.7 && coverage > 0.5:
		quality = QualityAcceptable
	}

	c.wizardOffset = offset
	c.calibratedWizard = true

	return HardIronResult{
		OK:         true,
		OffsetUT:   offset,
		Sphericity: sphericity,
		Coverage:   coverage,
		Quality:    quality,
		Samples:    len(samples),
	}
}

// octantCoverage returns the fraction of the 8 octants around the offset
// that the batch touched. Full rotation coverage touches all eight.
func octantCoverage(samples []vec.Vector3, offset vec.Vector3) float64 {
	var seen [8]bool
	for _, s := range samples {
		if s.IsNaN() {
			continue
		}
		d := s.Sub(offset)
		idx := 0
		if d.X >= 0 {
			idx |= 1
		}
		if d.Y >= 0 {
			idx |= 2
		}
		if d.Z >= 0 {
			idx |= 4
		}
		seen[idx] = true
	}
	n := 0
	for _, ok := range seen {
		if ok {
			n++
		}
	}
	return float64(n) / 8
}

// RunSoftIron computes a diagonal soft-iron matrix from a wizard batch.
// Samples are centered by the installed hard-iron offset; each axis is
// scaled so its standard deviation matches the across-axis average. On
// success the matrix is installed alongside the wizard offset.
func (c *IronCalibrator) RunSoftIron(samples []vec.Vector3) SoftIronResult {
	if len(samples) < softIronMinSamples {
		return SoftIronResult{
			Reason:      ReasonInsufficientSamples,
			Remediation: "collect a longer rotation batch and retry",
			Samples:     len(samples),
		}
	}

	center := c.wizardOffset
	if !c.calibratedWizard {
		// Soft iron is normally run after hard iron; fall back to the
		// batch midpoint so a standalone run is still meaningful.
		hr := c.RunHardIron(samples)
		center = hr.OffsetUT
	}

	// Per-axis variance of the centered cloud (the diagonal of the
	// covariance matrix).
	var n float64
	var vx, vy, vz float64
	for _, s := range samples {
		if s.IsNaN() {
			continue
		}
		d := s.Sub(center)
		vx += d.X * d.X
		vy += d.Y * d.Y
		vz += d.Z * d.Z
		n++
	}
	if n < softIronMinSamples {
		return SoftIronResult{
			Reason:      ReasonInsufficientSamples,
			Remediation: "collect a longer rotation batch and retry",
			Samples:     int(n),
		}
	}

	sx := math.Sqrt(vx / n)
	sy := math.Sqrt(vy / n)
	sz := math.Sqrt(vz / n)
	if sx < 1e-6 || sy < 1e-6 || sz < 1e-6 {
		return SoftIronResult{
			Reason:      ReasonInsufficientSpread,
			Remediation: "rotate through all three axes; one axis saw no variation",
			Samples:     len(samples),
		}
	}

	avg := (sx + sy + sz) / 3
	scaleX := avg / sx
	scaleY := avg / sy
	scaleZ := avg / sz

	minS := math.Min(scaleX, math.Min(scaleY, scaleZ))
	maxS := math.Max(scaleX, math.Max(scaleY, scaleZ))

	c.wizardMatrix = vec.Diagonal(scaleX, scaleY, scaleZ)
	c.wizardHasMatrix = true

	return SoftIronResult{
		OK:      true,
		Matrix:  c.wizardMatrix,
		Quality: minS / maxS,
		Samples: len(samples),
	}
}
