// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/magnet_tracker/internal/imu"
)

// Opts configures the MPU-9250 at init time. Range codes follow the
// datasheet FS_SEL encoding.
type Opts struct {
	// AccelRange: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	AccelRange byte
	// GyroRange: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	GyroRange byte
	// DLPFConfig: 0-7, gyro/temp digital low pass filter
	DLPFConfig byte
	// SampleRateDiv: output rate = 1 kHz / (1 + div)
	SampleRateDiv byte
}

// MPU9250 drives the 9-axis sensor over I2C: accel and gyro on the main
// die, the AK8963 magnetometer through bypass mode.
type MPU9250 struct {
	dev      i2c.Dev
	mag      i2c.Dev
	magAdj   [3]float64
	magReady bool
}

// NewMPU9250 probes and configures the sensor on the given bus.
// Magnetometer failures are non-fatal: the device still delivers accel and
// gyro, with MagValid false on every sample.
func NewMPU9250(bus i2c.Bus, addr uint16, opts Opts) (*MPU9250, error) {
	m := &MPU9250{
		dev: i2c.Dev{Bus: bus, Addr: addr},
		mag: i2c.Dev{Bus: bus, Addr: ak8963Addr},
	}

	id, err := m.readReg(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("imu: read WHO_AM_I: %w", err)
	}
	if id != whoAmIMPU9250 && id != whoAmIMPU9255 {
		return nil, fmt.Errorf("imu: unexpected WHO_AM_I 0x%02X", id)
	}

	// Reset, then wake with the PLL clock.
	if err := m.writeReg(regPwrMgmt1, pwrMgmt1Reset); err != nil {
		return nil, fmt.Errorf("imu: reset: %w", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := m.writeReg(regPwrMgmt1, pwrMgmt1ClkAuto); err != nil {
		return nil, fmt.Errorf("imu: wake: %w", err)
	}
	if err := m.writeReg(regPwrMgmt2, 0x00); err != nil {
		return nil, fmt.Errorf("imu: enable sensors: %w", err)
	}

	if err := m.writeReg(regConfig, opts.DLPFConfig&0x07); err != nil {
		return nil, fmt.Errorf("imu: set DLPF: %w", err)
	}
	if err := m.writeReg(regSmplrtDiv, opts.SampleRateDiv); err != nil {
		return nil, fmt.Errorf("imu: set sample rate divider: %w", err)
	}
	if err := m.writeReg(regGyroConfig, (opts.GyroRange&0x03)<<3); err != nil {
		return nil, fmt.Errorf("imu: set gyro range: %w", err)
	}
	if err := m.writeReg(regAccelConfig, (opts.AccelRange&0x03)<<3); err != nil {
		return nil, fmt.Errorf("imu: set accel range: %w", err)
	}
	if err := m.writeReg(regAccelConfig2, opts.DLPFConfig&0x07); err != nil {
		return nil, fmt.Errorf("imu: set accel DLPF: %w", err)
	}

	if err := m.initMag(); err != nil {
		log.Printf("imu: magnetometer init failed (continuing without mag): %v", err)
	} else {
		m.magReady = true
		log.Printf("imu: magnetometer ready, sensitivity adj X=%.4f Y=%.4f Z=%.4f",
			m.magAdj[0], m.magAdj[1], m.magAdj[2])
	}

	return m, nil
}

// initMag opens the bypass to the AK8963, loads the factory sensitivity
// adjustment from FUSE ROM and starts continuous 100 Hz 16-bit mode.
func (m *MPU9250) initMag() error {
	if err := m.writeReg(regIntPinCfg, intPinCfgBypass); err != nil {
		return fmt.Errorf("enable bypass: %w", err)
	}
	time.Sleep(10 * time.Millisecond)

	id, err := m.readMagReg(akRegWIA)
	if err != nil {
		return fmt.Errorf("read mag WHO_AM_I: %w", err)
	}
	if id != akWhoAmI {
		return fmt.Errorf("unexpected mag WHO_AM_I 0x%02X", id)
	}

	if err := m.writeMagReg(akRegCNTL2, akCntl2Reset); err != nil {
		return fmt.Errorf("mag reset: %w", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := m.writeMagReg(akRegCNTL1, akModeFuseROM); err != nil {
		return fmt.Errorf("enter fuse ROM mode: %w", err)
	}
	time.Sleep(10 * time.Millisecond)

	asa := make([]byte, 3)
	if err := m.mag.Tx([]byte{akRegASAX}, asa); err != nil {
		return fmt.Errorf("read sensitivity adjustment: %w", err)
	}
	for i, a := range asa {
		m.magAdj[i] = float64(int(a)-128)/256 + 1
	}

	if err := m.writeMagReg(akRegCNTL1, akModePowerDown); err != nil {
		return fmt.Errorf("leave fuse ROM mode: %w", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := m.writeMagReg(akRegCNTL1, akModeCont100Hz16); err != nil {
		return fmt.Errorf("start continuous mode: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

// ReadSample reads one 9-axis sample. Accel and gyro are raw counts; the
// magnetometer is converted to µT×10 with the factory adjustment applied.
// MagValid is false when the magnetometer was skipped, not ready, or
// overflowed.
func (m *MPU9250) ReadSample() (imu.RawSample, error) {
	// Accel (6), temperature (2), gyro (6) in one burst, big-endian.
	buf := make([]byte, 14)
	if err := m.dev.Tx([]byte{regAccelXoutH}, buf); err != nil {
		return imu.RawSample{}, fmt.Errorf("imu: read sensor block: %w", err)
	}

	s := imu.RawSample{
		T:  time.Now().UnixMilli(),
		Ax: int16(binary.BigEndian.Uint16(buf[0:2])),
		Ay: int16(binary.BigEndian.Uint16(buf[2:4])),
		Az: int16(binary.BigEndian.Uint16(buf[4:6])),
		Gx: int16(binary.BigEndian.Uint16(buf[8:10])),
		Gy: int16(binary.BigEndian.Uint16(buf[10:12])),
		Gz: int16(binary.BigEndian.Uint16(buf[12:14])),
	}

	if !m.magReady {
		return s, nil
	}

	st1, err := m.readMagReg(akRegST1)
	if err != nil {
		log.Printf("imu: magnetometer status read error: %v", err)
		return s, nil
	}
	if st1&akSt1DataReady == 0 {
		return s, nil
	}

	// 6 data bytes little-endian plus ST2; reading ST2 latches the next
	// measurement.
	mbuf := make([]byte, 7)
	if err := m.mag.Tx([]byte{akRegHXL}, mbuf); err != nil {
		log.Printf("imu: magnetometer read error: %v", err)
		return s, nil
	}
	if mbuf[6]&akSt2Overflow != 0 {
		log.Printf("imu: magnetometer overflow detected")
		return s, nil
	}

	mx := float64(int16(binary.LittleEndian.Uint16(mbuf[0:2]))) * m.magAdj[0] * akScaleUT
	my := float64(int16(binary.LittleEndian.Uint16(mbuf[2:4]))) * m.magAdj[1] * akScaleUT
	mz := float64(int16(binary.LittleEndian.Uint16(mbuf[4:6]))) * m.magAdj[2] * akScaleUT

	// Store scaled µT values as int16 (multiply by 10 for precision).
	s.Mx = int16(mx * 10)
	s.My = int16(my * 10)
	s.Mz = int16(mz * 10)
	s.MagValid = true
	return s, nil
}

func (m *MPU9250) readReg(reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := m.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (m *MPU9250) writeReg(reg, val byte) error {
	return m.dev.Tx([]byte{reg, val}, nil)
}

func (m *MPU9250) readMagReg(reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := m.mag.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (m *MPU9250) writeMagReg(reg, val byte) error {
	return m.mag.Tx([]byte{reg, val}, nil)
}
