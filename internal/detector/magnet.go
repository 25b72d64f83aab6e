// Package detector classifies magnetometer residual magnitudes into a
// hysteretic marker-presence state machine.
package detector

import (
	"fmt"
	"math"
)

// Status is the marker-presence classification.
type Status int

const (
	StatusNone Status = iota
	StatusPossible
	StatusLikely
	StatusConfirmed
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusPossible:
		return "possible"
	case StatusLikely:
		return "likely"
	case StatusConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StatusChange reports one confirmed state transition.
type StatusChange struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

// Config holds the detector thresholds in µT and the hysteresis depth.
// Zero values are replaced with defaults.
type Config struct {
	// PossibleUT, LikelyUT and ConfirmedUT are the lower edges of the
	// three presence bands, relative to the noise baseline.
	PossibleUT  float64
	LikelyUT    float64
	ConfirmedUT float64
	// SaturationUT is the deviation at which confidence reaches 1.
	SaturationUT float64
	// HoldCount is the number of consecutive samples that must agree on
	// the candidate status before the transition commits.
	HoldCount int
	// BaselineSamples is the number of initial residuals averaged into
	// the fixed noise baseline.
	BaselineSamples int
}

func (c Config) withDefaults() Config {
	if c.PossibleUT == 0 {
		c.PossibleUT = 10
	}
	if c.LikelyUT == 0 {
		c.LikelyUT = 20
	}
	if c.ConfirmedUT == 0 {
		c.ConfirmedUT = 35
	}
	if c.SaturationUT == 0 {
		c.SaturationUT = 50
	}
	if c.HoldCount == 0 {
		c.HoldCount = 10
	}
	if c.BaselineSamples == 0 {
		c.BaselineSamples = 100
	}
	return c
}

// MagnetDetector turns a stream of residual magnitudes into a presence
// status with hysteresis. The first BaselineSamples residuals establish a
// noise baseline that stays fixed for the detector's lifetime; only
// deviations above that baseline classify. Not safe for concurrent use.
type MagnetDetector struct {
	cfg Config

	baselineSum   float64
	baselineCount int
	baseline      float64
	baselineSet   bool

	status     Status
	pending    Status
	pendingRun int

	deviationUT float64
	confidence  float64
}

// New creates a detector in the baseline-learning phase.
func New(cfg Config) *MagnetDetector {
	return &MagnetDetector{cfg: cfg.withDefaults()}
}

// Update feeds one residual magnitude in µT. It returns a non-nil
// StatusChange only on the sample that commits a transition. NaN samples
// are absorbed without touching state.
func (d *MagnetDetector) Update(residualUT float64) *StatusChange {
	if math.IsNaN(residualUT) {
		return nil
	}

	if !d.baselineSet {
		d.baselineSum += residualUT
		d.baselineCount++
		if d.baselineCount >= d.cfg.BaselineSamples {
			d.baseline = d.baselineSum / float64(d.baselineCount)
			d.baselineSet = true
		}
		// No classification while the baseline is still forming.
		d.deviationUT = 0
		d.confidence = 0
		return nil
	}

	d.deviationUT = residualUT - d.baseline
	candidate := d.classify(d.deviationUT)
	d.confidence = d.confidenceFor(d.deviationUT, candidate)

	if candidate == d.status {
		d.pending = d.status
		d.pendingRun = 0
		return nil
	}

	if candidate != d.pending {
		d.pending = candidate
		d.pendingRun = 1
	} else {
		d.pendingRun++
	}

	if d.pendingRun < d.cfg.HoldCount {
		return nil
	}

	change := &StatusChange{From: d.status, To: candidate}
	d.status = candidate
	d.pendingRun = 0
	return change
}

// classify maps a baseline-relative deviation onto a status band. Negative
// deviations never classify as presence.
func (d *MagnetDetector) classify(deviationUT float64) Status {
	switch {
	case deviationUT >= d.cfg.ConfirmedUT:
		return StatusConfirmed
	case deviationUT >= d.cfg.LikelyUT:
		return StatusLikely
	case deviationUT >= d.cfg.PossibleUT:
		return StatusPossible
	default:
		return StatusNone
	}
}

// confidenceFor interpolates confidence piecewise-linearly across the
// bands: 0.25, 0.5 and 0.75 at the band edges, 1.0 at saturation.
func (d *MagnetDetector) confidenceFor(deviationUT float64, s Status) float64 {
	c := d.cfg
	switch s {
	case StatusNone:
		if deviationUT <= 0 {
			return 0
		}
		return 0.25 * deviationUT / c.PossibleUT
	case StatusPossible:
		return 0.25 + 0.25*(deviationUT-c.PossibleUT)/(c.LikelyUT-c.PossibleUT)
	case StatusLikely:
		return 0.5 + 0.25*(deviationUT-c.LikelyUT)/(c.ConfirmedUT-c.LikelyUT)
	default:
		if deviationUT >= c.SaturationUT {
			return 1
		}
		return 0.75 + 0.25*(deviationUT-c.ConfirmedUT)/(c.SaturationUT-c.ConfirmedUT)
	}
}

// Status returns the committed presence status.
func (d *MagnetDetector) Status() Status { return d.status }

// Confidence returns the confidence of the latest sample in [0,1].
func (d *MagnetDetector) Confidence() float64 { return d.confidence }

// DeviationUT returns the latest baseline-relative deviation in µT.
func (d *MagnetDetector) DeviationUT() float64 { return d.deviationUT }

// BaselineUT returns the fixed noise baseline and whether it is set.
func (d *MagnetDetector) BaselineUT() (float64, bool) { return d.baseline, d.baselineSet }

// Reset returns the detector to the baseline-learning phase.
func (d *MagnetDetector) Reset() {
	*d = MagnetDetector{cfg: d.cfg}
}
