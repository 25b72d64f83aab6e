package fusion

import "github.com/relabs-tech/magnet_tracker/internal/vec"

// SmoothingFilter is a per-axis exponential low-pass. The first sample
// passes through unchanged and seeds the state.
type SmoothingFilter struct {
	alpha  float64
	state  vec.Vector3
	primed bool
}

// NewSmoothingFilter creates a filter with the given blend factor in
// (0,1]; higher alpha follows the input more closely.
func NewSmoothingFilter(alpha float64) *SmoothingFilter {
	return &SmoothingFilter{alpha: alpha}
}

// Update blends one sample into the state and returns the smoothed value.
// NaN samples return the current state untouched.
func (s *SmoothingFilter) Update(v vec.Vector3) vec.Vector3 {
	if v.IsNaN() {
		return s.state
	}
	if !s.primed {
		s.state = v
		s.primed = true
		return s.state
	}
	s.state = vec.Vector3{
		X: s.state.X + s.alpha*(v.X-s.state.X),
		Y: s.state.Y + s.alpha*(v.Y-s.state.Y),
		Z: s.state.Z + s.alpha*(v.Z-s.state.Z),
	}
	return s.state
}

// Value returns the current smoothed state.
func (s *SmoothingFilter) Value() vec.Vector3 { return s.state }

// Reset clears the state; the next sample re-seeds it.
func (s *SmoothingFilter) Reset() {
	s.state = vec.Vector3{}
	s.primed = false
}
