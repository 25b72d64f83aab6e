// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/imu"
)

type deviceSource struct {
	imu     *MPU9250
	session string
	close   func() error
}

// NewIMUSource initializes the wearable's MPU-9250 over I2C using the
// global configuration and returns it as a raw sample source.
func NewIMUSource(session string) (imu.RawSource, error) {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("imu: periph host init: %w", err)
	}

	busName := cfg.IMUI2CBus
	if busName == "" {
		busName = "1"
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("imu: i2c open bus %q: %w", busName, err)
	}

	addr := cfg.IMUI2CAddr
	if addr == 0 {
		addr = 0x68
	}

	dev, err := NewMPU9250(bus, addr, Opts{
		AccelRange:    cfg.IMUAccelRange,
		GyroRange:     cfg.IMUGyroRange,
		DLPFConfig:    cfg.IMUDLPFConfig,
		SampleRateDiv: cfg.IMUSampleRateDiv,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}

	log.Printf("imu: MPU-9250 ready on bus %s addr 0x%02X (accel range %d, gyro range %d)",
		busName, addr, cfg.IMUAccelRange, cfg.IMUGyroRange)

	return &deviceSource{imu: dev, session: session, close: bus.Close}, nil
}

// NextRaw reads one sample from the device and stamps it with the session.
func (s *deviceSource) NextRaw() (imu.RawSample, error) {
	sample, err := s.imu.ReadSample()
	if err != nil {
		return imu.RawSample{}, err
	}
	sample.Session = s.session
	return sample, nil
}

// Close releases the I2C bus.
func (s *deviceSource) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
