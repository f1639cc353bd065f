package ranging

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// VL53L1X / VL53L4CX 共用的寄存器（16 位索引，大端）
const (
	regI2CSlaveAddress    uint16 = 0x0001
	regGPIOHVMuxCtrl      uint16 = 0x0030
	regGPIOTIOHVStatus    uint16 = 0x0031
	regSystemInterruptClr uint16 = 0x0086
	regSystemModeStart    uint16 = 0x0087
	regResultRangeStatus  uint16 = 0x0089
	regResultDistanceMM   uint16 = 0x0096
	regFirmwareSysStatus  uint16 = 0x00E5
	regModelID            uint16 = 0x010F

	modeStartContinuous byte = 0x40
	interruptClear      byte = 0x01
)

var knownModelIDs = map[uint16]string{
	0xEACC: "VL53L1X",
	0xEBAA: "VL53L4CX",
}

// 设备原始状态码到 RangeStatus 的映射，未列出的均视为 StatusNone
var deviceStatus = [24]RangeStatus{
	StatusNone, StatusNone, StatusNone, StatusHardwareFail,
	StatusSignalFail, StatusOutOfBounds, StatusSigmaFail, StatusWrapTargetFail,
	StatusMinRangeClipped, StatusRangeValid, StatusNone, StatusNone,
	StatusXtalkSignalFail, StatusMinRangeFail, StatusNone, StatusNone,
	StatusNone, StatusNone, StatusSynchronisationInt, StatusNoWrapCheckFail,
	StatusNone, StatusNone, StatusMergedPulse, StatusLackOfSignal,
}

// VL53 最小 VL53 系列驱动：只实现读取/初始化契约，不包含校准与距离模式配置
type VL53 struct {
	dev      i2c.Dev
	model    string
	polarity byte
	w        [3]byte
	r        [2]byte
}

// NewVL53 创建驱动，addr 为 7 位 I2C 地址
func NewVL53(bus i2c.Bus, addr uint16) *VL53 {
	return &VL53{dev: i2c.Dev{Bus: bus, Addr: addr}}
}

// Address 当前使用的 I2C 地址
func (v *VL53) Address() uint16 {
	return v.dev.Addr
}

// Model 初始化后识别出的型号
func (v *VL53) Model() string {
	return v.model
}

func (v *VL53) readReg(reg uint16, dst []byte) error {
	binary.BigEndian.PutUint16(v.w[:2], reg)
	return v.dev.Tx(v.w[:2], dst)
}

func (v *VL53) writeReg(reg uint16, value byte) error {
	binary.BigEndian.PutUint16(v.w[:2], reg)
	v.w[2] = value
	return v.dev.Tx(v.w[:3], nil)
}

// Booted 固件是否已完成启动
func (v *VL53) Booted() (bool, error) {
	if err := v.readReg(regFirmwareSysStatus, v.r[:1]); err != nil {
		return false, err
	}
	return v.r[0] != 0, nil
}

// SetAddress 改写设备地址，之后的事务使用新地址
func (v *VL53) SetAddress(addr uint16) error {
	if err := v.writeReg(regI2CSlaveAddress, byte(addr&0x7F)); err != nil {
		return fmt.Errorf("failed to set address 0x%02x: %w", addr, err)
	}
	v.dev.Addr = addr
	return nil
}

// ModelID 读取型号寄存器
func (v *VL53) ModelID() (uint16, error) {
	if err := v.readReg(regModelID, v.r[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v.r[:2]), nil
}

func (v *VL53) Init() error {
	id, err := v.ModelID()
	if err != nil {
		return fmt.Errorf("failed to read model id at 0x%02x: %w", v.dev.Addr, err)
	}
	model, ok := knownModelIDs[id]
	if !ok {
		return fmt.Errorf("%w: unexpected model id 0x%04x at 0x%02x", ErrSensorNotFound, id, v.dev.Addr)
	}
	v.model = model

	if err := v.readReg(regGPIOHVMuxCtrl, v.r[:1]); err != nil {
		return fmt.Errorf("failed to read interrupt polarity: %w", err)
	}
	// bit4 清零表示中断高有效
	if v.r[0]&0x10 == 0 {
		v.polarity = 1
	} else {
		v.polarity = 0
	}
	return nil
}

func (v *VL53) StartRanging() error {
	return v.writeReg(regSystemModeStart, modeStartContinuous)
}

func (v *VL53) DataReady() (bool, error) {
	if err := v.readReg(regGPIOTIOHVStatus, v.r[:1]); err != nil {
		return false, err
	}
	return v.r[0]&0x01 == v.polarity, nil
}

// Targets VL53 单区模式每次只有一个目标
func (v *VL53) Targets(dst []Target) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if err := v.readReg(regResultRangeStatus, v.r[:1]); err != nil {
		return 0, err
	}
	raw := v.r[0] & 0x1F
	status := StatusNone
	if int(raw) < len(deviceStatus) {
		status = deviceStatus[raw]
	}
	if err := v.readReg(regResultDistanceMM, v.r[:2]); err != nil {
		return 0, err
	}
	dst[0] = Target{
		DistanceMM: binary.BigEndian.Uint16(v.r[:2]),
		Status:     status,
	}
	return 1, nil
}

func (v *VL53) ClearInterrupt() error {
	return v.writeReg(regSystemInterruptClr, interruptClear)
}
