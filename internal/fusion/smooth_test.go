package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

func TestFirstSamplePassesThrough(t *testing.T) {
	s := NewSmoothingFilter(0.2)

	v := vec.Vector3{X: 10, Y: -5, Z: 3}
	assert.Equal(t, v, s.Update(v))
	assert.Equal(t, v, s.Value())
}

func TestConvergesToConstantInput(t *testing.T) {
	s := NewSmoothingFilter(0.2)
	s.Update(vec.Vector3{})

	target := vec.Vector3{X: 10}
	var out vec.Vector3
	for i := 0; i < 100; i++ {
		out = s.Update(target)
	}

	assert.InDelta(t, 10, out.X, 1e-6)
}

func TestSmoothingDampensStep(t *testing.T) {
	s := NewSmoothingFilter(0.2)
	s.Update(vec.Vector3{})

	out := s.Update(vec.Vector3{X: 10})
	assert.InDelta(t, 2, out.X, 1e-12)
}

func TestSmoothingIgnoresNaN(t *testing.T) {
	s := NewSmoothingFilter(0.2)
	s.Update(vec.Vector3{X: 4})

	out := s.Update(vec.Vector3{X: math.NaN()})
	assert.Equal(t, vec.Vector3{X: 4}, out)
}

func TestSmoothingReset(t *testing.T) {
	s := NewSmoothingFilter(0.2)
	s.Update(vec.Vector3{X: 4})

	s.Reset()

	v := vec.Vector3{X: -7}
	assert.Equal(t, v, s.Update(v))
}
