package ranging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

// fakeChip 模拟一个 VL53：复位时地址回到默认值
type fakeChip struct {
	pin      *gpiotest.Pin
	addr     uint16
	dead     bool
	status   byte
	distance uint16
	cleared  int
}

func (c *fakeChip) powered() bool {
	return c.pin.Read() == gpio.High
}

func (c *fakeChip) handle(w, r []byte) error {
	if len(w) < 2 {
		return errors.New("short register index")
	}
	reg := binary.BigEndian.Uint16(w)
	if len(w) == 3 {
		switch reg {
		case regI2CSlaveAddress:
			c.addr = uint16(w[2])
		case regSystemInterruptClr:
			c.cleared++
		}
		return nil
	}
	switch reg {
	case regModelID:
		binary.BigEndian.PutUint16(r, 0xEACC)
	case regFirmwareSysStatus:
		r[0] = 0x01
	case regGPIOHVMuxCtrl:
		r[0] = 0x01
	case regGPIOTIOHVStatus:
		r[0] = 0x01
	case regResultRangeStatus:
		r[0] = c.status
	case regResultDistanceMM:
		binary.BigEndian.PutUint16(r, c.distance)
	}
	return nil
}

// fakeBus 多个芯片共享的 I2C 总线，记录地址冲突
type fakeBus struct {
	chips []*fakeChip
	trace []string
	// exposed 统计同时有多个芯片在默认地址应答的次数
	exposed    int
	collisions int
}

func (b *fakeBus) String() string                  { return "fake-i2c" }
func (b *fakeBus) SetSpeed(physic.Frequency) error { return nil }

func (b *fakeBus) sync() {
	atDefault := 0
	for _, c := range b.chips {
		if !c.powered() {
			c.addr = DefaultAddress
			continue
		}
		if !c.dead && c.addr == DefaultAddress {
			atDefault++
		}
	}
	if atDefault > 1 {
		b.exposed++
	}
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.sync()
	b.trace = append(b.trace, fmt.Sprintf("tx 0x%02x", addr))
	var hit []*fakeChip
	for _, c := range b.chips {
		if c.powered() && !c.dead && c.addr == addr {
			hit = append(hit, c)
		}
	}
	switch len(hit) {
	case 0:
		return errors.New("nack")
	case 1:
		return hit[0].handle(w, r)
	default:
		b.collisions++
		return errors.New("bus collision")
	}
}

// tracePin 记录引脚电平变化并让总线同步芯片状态
type tracePin struct {
	*gpiotest.Pin
	bus *fakeBus
}

func (p *tracePin) Out(l gpio.Level) error {
	p.bus.trace = append(p.bus.trace, fmt.Sprintf("%s %s", p.N, l))
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	p.bus.sync()
	return nil
}

type rig struct {
	bus               *fakeBus
	front, rear       *fakeChip
	frontPin, rearPin *tracePin
}

func newRig() *rig {
	bus := &fakeBus{}
	front := &fakeChip{pin: &gpiotest.Pin{N: "XSHUT_FRONT", Num: 17, L: gpio.High}, addr: DefaultAddress}
	rear := &fakeChip{pin: &gpiotest.Pin{N: "XSHUT_REAR", Num: 27, L: gpio.High}, addr: DefaultAddress}
	bus.chips = []*fakeChip{front, rear}
	return &rig{
		bus:      bus,
		front:    front,
		rear:     rear,
		frontPin: &tracePin{Pin: front.pin, bus: bus},
		rearPin:  &tracePin{Pin: rear.pin, bus: bus},
	}
}

func (r *rig) plans() []AddressPlan {
	return []AddressPlan{
		{Sensor: models.SensorFront, Shutdown: r.frontPin, Address: 0x30},
		{Sensor: models.SensorRear, Shutdown: r.rearPin, Address: DefaultAddress},
	}
}

func (r *rig) bringUp(plans []AddressPlan) *BringUp {
	b := NewBringUp(r.bus, plans, zap.NewNop())
	b.sleep = func(time.Duration) {}
	return b
}

func TestBringUp_AssignsAddressesSequentially(t *testing.T) {
	r := newRig()

	require.NoError(t, r.bringUp(r.plans()).Run())

	assert.Equal(t, uint16(0x30), r.front.addr)
	assert.Equal(t, DefaultAddress, r.rear.addr)
	assert.Zero(t, r.bus.collisions)
	assert.Zero(t, r.bus.exposed)

	require.GreaterOrEqual(t, len(r.bus.trace), 3)
	assert.Equal(t, []string{"XSHUT_FRONT Low", "XSHUT_REAR Low", "XSHUT_FRONT High"}, r.bus.trace[:3])
	rearRelease := indexOf(r.bus.trace, "XSHUT_REAR High")
	frontVerify := indexOf(r.bus.trace, "tx 0x30")
	require.NotEqual(t, -1, rearRelease)
	require.NotEqual(t, -1, frontVerify)
	assert.Less(t, frontVerify, rearRelease, "front must answer at its new address before rear is released")
}

func TestBringUp_InvalidPlanTouchesNoPins(t *testing.T) {
	r := newRig()
	plans := []AddressPlan{
		{Sensor: models.SensorFront, Shutdown: r.frontPin, Address: DefaultAddress},
		{Sensor: models.SensorRear, Shutdown: r.rearPin, Address: 0x31},
	}

	err := r.bringUp(plans).Run()
	assert.ErrorIs(t, err, ErrAddressPlan)
	assert.Empty(t, r.bus.trace)
}

func TestValidatePlans(t *testing.T) {
	pin := &gpiotest.Pin{N: "XSHUT"}
	tests := []struct {
		name  string
		plans []AddressPlan
		ok    bool
	}{
		{"default last", []AddressPlan{{"front", pin, 0x30}, {"rear", pin, DefaultAddress}}, true},
		{"both reassigned", []AddressPlan{{"front", pin, 0x30}, {"rear", pin, 0x31}}, true},
		{"default not last", []AddressPlan{{"front", pin, DefaultAddress}, {"rear", pin, 0x30}}, false},
		{"duplicate", []AddressPlan{{"front", pin, 0x30}, {"rear", pin, 0x30}}, false},
		{"out of range", []AddressPlan{{"front", pin, 0x80}}, false},
		{"missing pin", []AddressPlan{{"front", nil, 0x30}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlans(tt.plans)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrAddressPlan)
			}
		})
	}
}

func TestBringUp_DeadSensorReturnedToReset(t *testing.T) {
	r := newRig()
	r.front.dead = true

	err := r.bringUp(r.plans()).Run()
	require.Error(t, err)

	var se *SensorError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, models.SensorFront, se.Sensor)
	assert.ErrorIs(t, err, ErrBootTimeout)

	assert.Equal(t, gpio.Low, r.front.pin.Read())
	assert.Equal(t, gpio.High, r.rear.pin.Read())
	assert.Equal(t, DefaultAddress, r.rear.addr)
	assert.Zero(t, r.bus.collisions)
}

func TestObstacleRanger_BringUpThenPoll(t *testing.T) {
	r := newRig()
	r.front.dead = true
	r.rear.status = 9 // 设备原始码 9 = 有效测距
	r.rear.distance = 245

	faults := &models.FaultFlags{}
	n := &recordingNotifier{}
	front := NewSensor(models.SensorFront, NewVL53(r.bus, 0x30), n, faults, zap.NewNop())
	rearDev := NewVL53(r.bus, DefaultAddress)
	rear := NewSensor(models.SensorRear, rearDev, n, faults, zap.NewNop())
	ranger := NewObstacleRanger(r.bringUp(r.plans()), []*Sensor{front, rear}, zap.NewNop())

	err := ranger.Initialize()
	require.Error(t, err)
	assert.False(t, front.Active())
	assert.True(t, rear.Active())
	assert.True(t, faults.Has(models.FaultRangerFrontInactive))
	assert.False(t, faults.Has(models.FaultRangerRearInactive))
	assert.Equal(t, "VL53L1X", rearDev.Model())

	assert.Equal(t, 1, ranger.Poll())
	assert.Equal(t, []obstacleCall{{models.SensorRear, 245}}, n.calls)
	assert.Equal(t, 1, r.rear.cleared)
}

func TestObstacleRanger_InvalidPlanDisablesAll(t *testing.T) {
	r := newRig()
	plans := []AddressPlan{
		{Sensor: models.SensorFront, Shutdown: r.frontPin, Address: 0x30},
		{Sensor: models.SensorRear, Shutdown: r.rearPin, Address: 0x30},
	}
	faults := &models.FaultFlags{}
	front := NewSensor(models.SensorFront, NewVL53(r.bus, 0x30), &recordingNotifier{}, faults, zap.NewNop())
	rear := NewSensor(models.SensorRear, NewVL53(r.bus, 0x30), &recordingNotifier{}, faults, zap.NewNop())

	err := NewObstacleRanger(r.bringUp(plans), []*Sensor{front, rear}, zap.NewNop()).Initialize()
	assert.ErrorIs(t, err, ErrAddressPlan)
	assert.False(t, front.Active())
	assert.False(t, rear.Active())
	assert.True(t, faults.Has(models.FaultRangerFrontInactive))
	assert.True(t, faults.Has(models.FaultRangerRearInactive))
}

func TestVL53_StatusMapping(t *testing.T) {
	r := newRig()
	r.rear.pin.L = gpio.Low
	r.front.status = 8 // 最小距离截断
	r.front.distance = 12

	dev := NewVL53(r.bus, DefaultAddress)
	require.NoError(t, dev.Init())

	ready, err := dev.DataReady()
	require.NoError(t, err)
	assert.True(t, ready)

	var dst [MaxTargets]Target
	n, err := dev.Targets(dst[:])
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Target{DistanceMM: 12, Status: StatusMinRangeClipped}, dst[0])
	assert.True(t, dst[0].Status.Usable())

	r.front.status = 4
	_, err = dev.Targets(dst[:])
	require.NoError(t, err)
	assert.Equal(t, StatusSignalFail, dst[0].Status)
	assert.False(t, dst[0].Status.Usable())
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
