package ranging

import (
	"fmt"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

const (
	// ResetHold 所有传感器保持复位的时间
	ResetHold = 10 * time.Millisecond
	// BootPoll 启动状态轮询间隔
	BootPoll = time.Millisecond
	// BootAttempts 启动状态轮询次数上限
	BootAttempts = 50
)

// AddressPlan 单个传感器的上电计划
type AddressPlan struct {
	Sensor   models.SensorID
	Shutdown gpio.PinOut // XSHUT，低电平保持复位
	Address  uint16      // 目标地址；只有最后一个计划可以保留 DefaultAddress
}

// SensorError 单个传感器上电失败
type SensorError struct {
	Sensor models.SensorID
	Err    error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("ranging: bring-up of %s failed: %v", e.Sensor, e.Err)
}

func (e *SensorError) Unwrap() error {
	return e.Err
}

// BringUp 共享默认地址的多个传感器的顺序上电
//
// 顺序：全部拉低 XSHUT → 逐个释放并改写地址 → 最后一个保留默认地址。
// 任一时刻最多只有一个传感器在默认地址上应答。
type BringUp struct {
	bus    i2c.Bus
	plans  []AddressPlan
	sleep  func(time.Duration)
	logger *zap.Logger
}

// NewBringUp 创建上电序列
func NewBringUp(bus i2c.Bus, plans []AddressPlan, logger *zap.Logger) *BringUp {
	return &BringUp{
		bus:    bus,
		plans:  plans,
		sleep:  time.Sleep,
		logger: logger,
	}
}

// ValidatePlans 检查地址唯一，且只有最后一个计划使用默认地址
func ValidatePlans(plans []AddressPlan) error {
	seen := make(map[uint16]models.SensorID, len(plans))
	for i, p := range plans {
		if p.Shutdown == nil {
			return fmt.Errorf("%w: %s has no shutdown pin", ErrAddressPlan, p.Sensor)
		}
		if p.Address == 0 || p.Address > 0x7F {
			return fmt.Errorf("%w: %s address 0x%02x out of range", ErrAddressPlan, p.Sensor, p.Address)
		}
		if p.Address == DefaultAddress && i != len(plans)-1 {
			return fmt.Errorf("%w: only the last sensor may keep the default address, %s is #%d", ErrAddressPlan, p.Sensor, i)
		}
		if other, dup := seen[p.Address]; dup {
			return fmt.Errorf("%w: %s and %s share address 0x%02x", ErrAddressPlan, other, p.Sensor, p.Address)
		}
		seen[p.Address] = p.Sensor
	}
	return nil
}

// Run 执行上电序列
//
// 计划无效时不触碰任何引脚直接返回 ErrAddressPlan。单个传感器失败时把它
// 重新拉回复位，避免它占着默认地址和后面的传感器冲突；失败以 *SensorError
// 汇总返回。
func (b *BringUp) Run() error {
	if err := ValidatePlans(b.plans); err != nil {
		return err
	}

	for _, p := range b.plans {
		if err := p.Shutdown.Out(gpio.Low); err != nil {
			return fmt.Errorf("failed to hold %s in reset: %w", p.Sensor, err)
		}
	}
	b.sleep(ResetHold)

	var errs error
	for _, p := range b.plans {
		if err := b.release(p); err != nil {
			errs = multierr.Append(errs, &SensorError{Sensor: p.Sensor, Err: err})
			if lowErr := p.Shutdown.Out(gpio.Low); lowErr != nil {
				// 无法拉回复位，后面的传感器再上电就可能冲突
				return multierr.Append(errs, fmt.Errorf("failed to return %s to reset: %w", p.Sensor, lowErr))
			}
			continue
		}
		b.logger.Info("ToF sensor addressed",
			zap.String("sensor", string(p.Sensor)),
			zap.String("address", fmt.Sprintf("0x%02x", p.Address)),
		)
	}
	return errs
}

func (b *BringUp) release(p AddressPlan) error {
	if err := p.Shutdown.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to release shutdown pin: %w", err)
	}

	dev := NewVL53(b.bus, DefaultAddress)
	if err := b.waitBoot(dev); err != nil {
		return err
	}
	if p.Address == DefaultAddress {
		return nil
	}
	if err := dev.SetAddress(p.Address); err != nil {
		return err
	}
	if _, err := dev.ModelID(); err != nil {
		return fmt.Errorf("no response at new address 0x%02x: %w", p.Address, err)
	}
	return nil
}

func (b *BringUp) waitBoot(dev *VL53) error {
	var lastErr error
	for i := 0; i < BootAttempts; i++ {
		booted, err := dev.Booted()
		if err == nil && booted {
			return nil
		}
		lastErr = err
		b.sleep(BootPoll)
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrBootTimeout, lastErr)
	}
	return ErrBootTimeout
}
