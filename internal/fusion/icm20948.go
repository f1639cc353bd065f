package fusion

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"periph.io/x/conn/v3/i2c"
)

// ICM20948 默认地址（AD0 拉高）
const ICM20948Address uint16 = 0x69

const (
	icmRegWhoAmI      byte = 0x00 // bank 0
	icmRegPwrMgmt1    byte = 0x06 // bank 0
	icmRegPwrMgmt2    byte = 0x07 // bank 0
	icmRegAccelXOutH  byte = 0x2D // bank 0，随后依次为加速度 XYZ、陀螺 XYZ
	icmRegGyroConfig  byte = 0x01 // bank 2
	icmRegAccelConfig byte = 0x14 // bank 2
	icmRegBankSel     byte = 0x7F

	icmWhoAmI      byte = 0xEA
	icmDeviceReset byte = 0x80
	icmClockAuto   byte = 0x01

	// 量程：±4g，±500dps，均开启低通
	icmAccelFS4G     byte = 0x03
	icmGyroFS500DPS  byte = 0x03
	icmAccelLSBPerG       = 8192.0
	icmGyroLSBPerDPS      = 65.5
)

// ICM20948 通过 I2C 读取 ICM-20948 的加速度计与陀螺仪
type ICM20948 struct {
	dev   i2c.Dev
	clock func() time.Duration
	sleep func(time.Duration)
	w     [2]byte
	raw   [12]byte
}

// NewICM20948 创建 IMU 驱动
func NewICM20948(bus i2c.Bus, addr uint16, clock func() time.Duration) *ICM20948 {
	return &ICM20948{
		dev:   i2c.Dev{Bus: bus, Addr: addr},
		clock: clock,
		sleep: time.Sleep,
	}
}

func (m *ICM20948) write(reg, value byte) error {
	m.w[0], m.w[1] = reg, value
	return m.dev.Tx(m.w[:2], nil)
}

func (m *ICM20948) bank(n byte) error {
	return m.write(icmRegBankSel, n<<4)
}

// Initialize 复位芯片并配置量程
func (m *ICM20948) Initialize() error {
	var id [1]byte
	if err := m.dev.Tx([]byte{icmRegWhoAmI}, id[:]); err != nil {
		return fmt.Errorf("%w: failed to read WHO_AM_I at 0x%02x: %v", ErrIMUInit, m.dev.Addr, err)
	}
	if id[0] != icmWhoAmI {
		return fmt.Errorf("%w: unexpected WHO_AM_I 0x%02x", ErrIMUInit, id[0])
	}

	steps := []struct {
		reg, value byte
		settle     time.Duration
	}{
		{icmRegPwrMgmt1, icmDeviceReset, 10 * time.Millisecond},
		{icmRegPwrMgmt1, icmClockAuto, 5 * time.Millisecond},
		{icmRegPwrMgmt2, 0x00, 0},
	}
	for _, s := range steps {
		if err := m.write(s.reg, s.value); err != nil {
			return fmt.Errorf("%w: failed to write 0x%02x: %v", ErrIMUInit, s.reg, err)
		}
		if s.settle > 0 {
			m.sleep(s.settle)
		}
	}

	if err := m.bank(2); err != nil {
		return fmt.Errorf("%w: %v", ErrIMUInit, err)
	}
	if err := m.write(icmRegGyroConfig, icmGyroFS500DPS); err != nil {
		return fmt.Errorf("%w: failed to set gyro range: %v", ErrIMUInit, err)
	}
	if err := m.write(icmRegAccelConfig, icmAccelFS4G); err != nil {
		return fmt.Errorf("%w: failed to set accel range: %v", ErrIMUInit, err)
	}
	if err := m.bank(0); err != nil {
		return fmt.Errorf("%w: %v", ErrIMUInit, err)
	}
	return nil
}

// Read 一次突发读取 12 字节；失败时返回 false
func (m *ICM20948) Read() (models.TiltSample, bool) {
	m.w[0] = icmRegAccelXOutH
	if err := m.dev.Tx(m.w[:1], m.raw[:]); err != nil {
		return models.TiltSample{}, false
	}

	axis := func(i int) float64 {
		return float64(int16(binary.BigEndian.Uint16(m.raw[i*2:])))
	}
	accel := gravity / icmAccelLSBPerG
	gyro := 1 / radToDeg / icmGyroLSBPerDPS

	return models.TiltSample{
		AccelX:    axis(0) * accel,
		AccelY:    axis(1) * accel,
		AccelZ:    axis(2) * accel,
		GyroX:     axis(3) * gyro,
		GyroY:     axis(4) * gyro,
		GyroZ:     axis(5) * gyro,
		Timestamp: m.clock(),
	}, true
}
