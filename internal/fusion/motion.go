package fusion

import (
	"math"

	"github.com/relabs-tech/magnet_tracker/internal/vec"
)

// MotionConfig holds the motion classifier tunables. Zero values are
// replaced with defaults.
type MotionConfig struct {
	// WindowSize is the number of samples in the sliding window.
	WindowSize int
	// AccelStdThresholdG flags motion when the accel magnitude standard
	// deviation exceeds it.
	AccelStdThresholdG float64
	// GyroStdThreshold flags motion when the gyro magnitude standard
	// deviation exceeds it, in rad/s.
	GyroStdThreshold float64
}

func (c MotionConfig) withDefaults() MotionConfig {
	if c.WindowSize == 0 {
		c.WindowSize = 20
	}
	if c.AccelStdThresholdG == 0 {
		c.AccelStdThresholdG = 0.03
	}
	if c.GyroStdThreshold == 0 {
		c.GyroStdThreshold = 0.05
	}
	return c
}

// MotionState is the classifier output for one sample.
type MotionState struct {
	IsMoving bool    `json:"is_moving"`
	AccelStd float64 `json:"accel_std_g"`
	GyroStd  float64 `json:"gyro_std"`
}

// MotionClassifier decides moving vs stationary from the standard
// deviation of accel and gyro magnitudes over a sliding window. An
// underfull window always classifies as moving. Not safe for concurrent
// use.
type MotionClassifier struct {
	cfg   MotionConfig
	accel []float64
	gyro  []float64
	head  int
	count int
}

// NewMotionClassifier creates a classifier with an empty window.
func NewMotionClassifier(cfg MotionConfig) *MotionClassifier {
	c := cfg.withDefaults()
	return &MotionClassifier{
		cfg:   c,
		accel: make([]float64, c.WindowSize),
		gyro:  make([]float64, c.WindowSize),
	}
}

// Update pushes one sample (accel in g, gyro in rad/s) and returns the
// classification for the current window.
func (m *MotionClassifier) Update(accelG, gyro vec.Vector3) MotionState {
	if accelG.IsNaN() || gyro.IsNaN() {
		return m.state()
	}

	m.accel[m.head] = accelG.Norm()
	m.gyro[m.head] = gyro.Norm()
	m.head = (m.head + 1) % m.cfg.WindowSize
	if m.count < m.cfg.WindowSize {
		m.count++
	}

	return m.state()
}

func (m *MotionClassifier) state() MotionState {
	if m.count < m.cfg.WindowSize {
		return MotionState{IsMoving: true}
	}
	accelStd := stddev(m.accel)
	gyroStd := stddev(m.gyro)
	return MotionState{
		IsMoving: accelStd > m.cfg.AccelStdThresholdG || gyroStd > m.cfg.GyroStdThreshold,
		AccelStd: accelStd,
		GyroStd:  gyroStd,
	}
}

// Reset empties the window.
func (m *MotionClassifier) Reset() {
	m.head = 0
	m.count = 0
}

func stddev(values []float64) float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
