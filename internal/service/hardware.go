package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/config"
	"github.com/fungus-wine/calvin-instinctus/internal/fusion"
	"github.com/fungus-wine/calvin-instinctus/internal/models"
	"github.com/fungus-wine/calvin-instinctus/internal/motor"
	"github.com/fungus-wine/calvin-instinctus/internal/ranging"

	"go.einride.tech/can/pkg/socketcan"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Hardware 反射层用到的全部设备
type Hardware struct {
	IMU       fusion.Source
	Front     ranging.Device
	Rear      ranging.Device
	BringUp   *ranging.BringUp // nil 表示跳过地址分配
	CANTx     motor.FrameSender
	CANRx     motor.FrameReceiver
	StatusLED gpio.PinOut // 可以为 nil
	Clock     func() time.Duration

	closers []io.Closer
}

// Close 释放总线与连接
func (h *Hardware) Close() error {
	var errs error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, h.closers[i].Close())
	}
	h.closers = nil
	return errs
}

// OpenHardware 通过 periph 打开 I2C/GPIO，通过 SocketCAN 打开电机总线
func OpenHardware(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	hw := &Hardware{Clock: fusion.MonotonicClock()}

	bus, err := i2creg.Open(cfg.Ranging.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", cfg.Ranging.I2CBus, err)
	}
	hw.closers = append(hw.closers, bus)

	front, err := pinByName(cfg.Ranging.FrontXShutPin)
	if err != nil {
		_ = hw.Close()
		return nil, err
	}
	rear, err := pinByName(cfg.Ranging.RearXShutPin)
	if err != nil {
		_ = hw.Close()
		return nil, err
	}
	if cfg.Control.StatusLEDPin != "" {
		led, err := pinByName(cfg.Control.StatusLEDPin)
		if err != nil {
			_ = hw.Close()
			return nil, err
		}
		hw.StatusLED = led
	}

	hw.IMU = fusion.NewICM20948(bus, cfg.Tilt.IMUAddress, hw.Clock)
	hw.Front = ranging.NewVL53(bus, cfg.Ranging.FrontAddress)
	hw.Rear = ranging.NewVL53(bus, cfg.Ranging.RearAddress)
	hw.BringUp = ranging.NewBringUp(bus, addressPlans(cfg, front, rear), logger)

	conn, err := socketcan.DialContext(ctx, "can", cfg.Motor.CANInterface)
	if err != nil {
		_ = hw.Close()
		return nil, fmt.Errorf("failed to open CAN interface %s: %w", cfg.Motor.CANInterface, err)
	}
	hw.closers = append(hw.closers, conn)
	hw.CANTx = socketcan.NewTransmitter(conn)
	hw.CANRx = socketcan.NewReceiver(conn)

	logger.Info("Hardware opened",
		zap.String("i2c_bus", bus.String()),
		zap.String("can_interface", cfg.Motor.CANInterface),
	)
	return hw, nil
}

// addressPlans 前方传感器先上电改址，后方传感器最后上电
func addressPlans(cfg *config.Config, front, rear gpio.PinOut) []ranging.AddressPlan {
	plans := []ranging.AddressPlan{
		{Sensor: models.SensorFront, Shutdown: front, Address: cfg.Ranging.FrontAddress},
		{Sensor: models.SensorRear, Shutdown: rear, Address: cfg.Ranging.RearAddress},
	}
	if plans[0].Address == ranging.DefaultAddress {
		plans[0], plans[1] = plans[1], plans[0]
	}
	return plans
}

func pinByName(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return p, nil
}

// SimulatedHardware 台架模拟：正弦摆动 IMU、模拟测距与模拟 CAN 总线
func SimulatedHardware() *Hardware {
	clock := fusion.MonotonicClock()
	bus := motor.NewSimulatedBus(clock)

	front := ranging.NewSimulatedDevice(clock, 50*time.Millisecond)
	rear := ranging.NewSimulatedDevice(clock, 50*time.Millisecond)
	rear.NearMM, rear.FarMM = 600, 2500

	return &Hardware{
		IMU:     fusion.NewSimulatedSource(clock),
		Front:   front,
		Rear:    rear,
		CANTx:   bus,
		CANRx:   bus,
		Clock:   clock,
		closers: []io.Closer{bus},
	}
}
