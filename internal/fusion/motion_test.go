package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

func TestUnderfullWindowIsMoving(t *testing.T) {
	m := NewMotionClassifier(MotionConfig{WindowSize: 10})

	for i := 0; i < 9; i++ {
		st := m.Update(vec.Vector3{Z: 1}, vec.Vector3{})
		assert.True(t, st.IsMoving, "sample %d", i)
	}

	st := m.Update(vec.Vector3{Z: 1}, vec.Vector3{})
	assert.False(t, st.IsMoving)
}

func TestStationaryDevice(t *testing.T) {
	m := NewMotionClassifier(MotionConfig{})

	var st MotionState
	for i := 0; i < 40; i++ {
		// Tiny sensor noise well under the thresholds.
		n := 0.001 * math.Sin(float64(i))
		st = m.Update(vec.Vector3{Z: 1 + n}, vec.Vector3{X: n})
	}

	assert.False(t, st.IsMoving)
	assert.Less(t, st.AccelStd, 0.03)
	assert.Less(t, st.GyroStd, 0.05)
}

func TestShakingDevice(t *testing.T) {
	m := NewMotionClassifier(MotionConfig{})

	var st MotionState
	for i := 0; i < 40; i++ {
		shake := 0.3 * math.Sin(float64(i))
		st = m.Update(vec.Vector3{Z: 1 + shake}, vec.Vector3{})
	}

	assert.True(t, st.IsMoving)
	assert.Greater(t, st.AccelStd, 0.03)
}

func TestRotatingDevice(t *testing.T) {
	m := NewMotionClassifier(MotionConfig{})

	var st MotionState
	for i := 0; i < 40; i++ {
		spin := 0.5 * math.Sin(float64(i))
		st = m.Update(vec.Vector3{Z: 1}, vec.Vector3{Z: spin})
	}

	assert.True(t, st.IsMoving)
	assert.Greater(t, st.GyroStd, 0.05)
}

func TestMotionResetEmptiesWindow(t *testing.T) {
	m := NewMotionClassifier(MotionConfig{WindowSize: 5})
	for i := 0; i < 10; i++ {
		m.Update(vec.Vector3{Z: 1}, vec.Vector3{})
	}

	m.Reset()

	st := m.Update(vec.Vector3{Z: 1}, vec.Vector3{})
	assert.True(t, st.IsMoving)
}
