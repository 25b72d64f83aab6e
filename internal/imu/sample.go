package imu

// RawSample represents a single raw 9-axis sample from the wearable, in
// sensor counts. Magnetometer values are reported in µT×10 by the sensor
// bridge; MagValid is false when the magnetometer read was skipped or
// overflowed.
type RawSample struct {
	Session string `json:"session,omitempty"`
	T       int64  `json:"t"` // unix milliseconds

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Mx int16 `json:"mx"` // magnetometer
	My int16 `json:"my"`
	Mz int16 `json:"mz"`

	MagValid bool `json:"mag_valid"`
}

// RawSource is anything that can deliver raw samples over time: the SPI/I2C
// sensor reader, the serial bridge, a replay file, or a mock.
type RawSource interface {
	NextRaw() (RawSample, error)
}
