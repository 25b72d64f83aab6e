// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"math"
	"time"
)

type mockSource struct {
	start time.Time
}

// NewMockSource creates a mock raw source that generates a slowly tumbling
// device in a clean 50 µT field, useful for development without hardware.
func NewMockSource() RawSource {
	return &mockSource{start: time.Now()}
}

func (m *mockSource) NextRaw() (RawSample, error) {
	elapsed := time.Since(m.start).Seconds()

	// Slow tumble: the field vector sweeps all octants over ~60s.
	theta := elapsed * 0.4
	phi := elapsed * 0.27

	// Accel ~1g along a rotating axis (16384 counts/g at ±2g).
	ax := int16(16384 * math.Sin(theta) * math.Cos(phi))
	ay := int16(16384 * math.Sin(theta) * math.Sin(phi))
	az := int16(16384 * math.Cos(theta))

	// 50 µT field in µT×10, with a 20 µT hard-iron offset on X.
	mx := int16(500*math.Cos(theta)*math.Cos(phi) + 200)
	my := int16(500 * math.Cos(theta) * math.Sin(phi))
	mz := int16(-500 * math.Sin(theta))

	return RawSample{
		Session:  "mock",
		T:        time.Now().UnixMilli(),
		Ax:       ax,
		Ay:       ay,
		Az:       az,
		Gx:       int16(theta * 100),
		Gy:       int16(phi * 100),
		Gz:       0,
		Mx:       mx,
		My:       my,
		Mz:       mz,
		MagValid: true,
	}, nil
}
