// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// MPU-9250 register map (datasheet RM-MPU-9250A-00).
const (
	regSmplrtDiv    = 0x19 // sample rate = internal rate / (1 + div)
	regConfig       = 0x1A // DLPF_CFG in bits 2:0
	regGyroConfig   = 0x1B // GYRO_FS_SEL in bits 4:3
	regAccelConfig  = 0x1C // ACCEL_FS_SEL in bits 4:3
	regAccelConfig2 = 0x1D // A_DLPFCFG in bits 2:0
	regIntPinCfg    = 0x37 // BYPASS_EN in bit 1
	regAccelXoutH   = 0x3B // 14 bytes: accel, temp, gyro, big-endian
	regUserCtrl     = 0x6A
	regPwrMgmt1     = 0x6B
	regPwrMgmt2     = 0x6C
	regWhoAmI       = 0x75

	pwrMgmt1Reset   = 0x80
	pwrMgmt1ClkAuto = 0x01 // auto-select best clock source
	intPinCfgBypass = 0x02 // expose the AK8963 on the primary I2C bus

	whoAmIMPU9250 = 0x71
	whoAmIMPU9255 = 0x73
)

// AK8963 magnetometer register map, reachable at its own I2C address once
// bypass mode is on.
const (
	ak8963Addr = 0x0C

	akRegWIA   = 0x00 // device ID, 0x48
	akRegST1   = 0x02 // DRDY in bit 0
	akRegHXL   = 0x03 // 6 data bytes little-endian, then ST2
	akRegST2   = 0x09 // HOFL overflow in bit 3
	akRegCNTL1 = 0x0A
	akRegCNTL2 = 0x0B
	akRegASAX  = 0x10 // 3 factory sensitivity adjustment bytes

	akWhoAmI = 0x48

	akModePowerDown   = 0x00
	akModeFuseROM     = 0x0F
	akModeCont100Hz16 = 0x16 // continuous 100 Hz, 16-bit output

	akCntl2Reset = 0x01

	akSt1DataReady = 0x01
	akSt2Overflow  = 0x08
)

// akScaleUT is the 16-bit output resolution: full scale ±4912 µT over
// ±32760 counts.
const akScaleUT = 4912.0 / 32760.0
