package control

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fungus-wine/calvin-instinctus/internal/bridge"
	"github.com/fungus-wine/calvin-instinctus/internal/eventchannel"
	"github.com/fungus-wine/calvin-instinctus/internal/fusion"
	"github.com/fungus-wine/calvin-instinctus/internal/models"
	"github.com/fungus-wine/calvin-instinctus/internal/observer"
	"github.com/fungus-wine/calvin-instinctus/internal/safety"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type fakeTilt struct {
	reg       *observer.Registry
	angle     float64
	emergency bool
	fail      bool
}

func (f *fakeTilt) Step() (models.TiltState, bool) {
	if f.fail {
		return f.State(), false
	}
	if f.emergency {
		f.reg.NotifyEmergency(f.angle)
	}
	return f.State(), true
}

func (f *fakeTilt) State() models.TiltState {
	return models.TiltState{Angle: f.angle}
}

func (f *fakeTilt) LastSample() models.TiltSample {
	return models.TiltSample{AccelZ: 9.81}
}

type fakeRanger struct {
	polls int
}

func (r *fakeRanger) Poll() int {
	r.polls++
	return 0
}

type fakeDrive struct {
	ready       bool
	left, right float64
	requests    int
	stops       int
}

func (d *fakeDrive) BothReady() bool { return d.ready }

func (d *fakeDrive) Speeds() (float64, float64) { return d.left, d.right }

func (d *fakeDrive) RequestStatus(context.Context) error {
	d.requests++
	return nil
}

func (d *fakeDrive) Stop(context.Context) error {
	d.stops++
	return nil
}

type rig struct {
	now       time.Duration
	ch        *eventchannel.Channel
	faults    *models.FaultFlags
	reg       *observer.Registry
	tilt      *fakeTilt
	ranger    *fakeRanger
	drive     *fakeDrive
	interlock *safety.Interlock
	pin       *gpiotest.Pin
	loop      *ControlLoop
}

func newRig(t *testing.T, capacity int, tilt TiltSource) *rig {
	t.Helper()
	ch, err := eventchannel.New(capacity)
	require.NoError(t, err)

	r := &rig{
		ch:     ch,
		faults: &models.FaultFlags{},
		reg:    observer.NewRegistry(),
		ranger: &fakeRanger{},
		drive:  &fakeDrive{ready: true, left: 12, right: -8},
		pin:    &gpiotest.Pin{N: "LED", Num: 22},
	}
	r.tilt = &fakeTilt{reg: r.reg}
	if tilt == nil {
		tilt = r.tilt
	}

	emitter := bridge.NewEmitter(ch.Outbound, r.faults, zap.NewNop())
	r.interlock = safety.NewInterlock(r.drive, nil, r.faults, zap.NewNop())
	_, err = r.reg.Register(observer.CapabilityTilt, bridge.NewTiltBridge(emitter))
	require.NoError(t, err)
	_, err = r.reg.Register(observer.CapabilityTilt, r.interlock)
	require.NoError(t, err)

	r.loop = NewControlLoop(DefaultConfig(), Components{
		Tilt:      tilt,
		Ranger:    r.ranger,
		Drive:     r.drive,
		Interlock: r.interlock,
		Channel:   ch,
		Emitter:   emitter,
		Indicator: NewStatusIndicator(r.pin, zap.NewNop()),
		Faults:    r.faults,
		Clock:     func() time.Duration { return r.now },
	}, zap.NewNop())
	return r
}

func (r *rig) start() {
	r.reg.Seal()
	r.loop.Start()
}

func (r *rig) tick(n int) {
	for i := 0; i < n; i++ {
		r.now += 10 * time.Millisecond
		r.loop.Tick(context.Background())
	}
}

func (r *rig) drain() []models.EventRecord {
	var out []models.EventRecord
	eventchannel.Drain(r.ch.Outbound, r.ch.Outbound.Capacity(), func(rec models.EventRecord) {
		out = append(out, rec)
	})
	return out
}

func kinds(records []models.EventRecord) []models.EventKind {
	out := make([]models.EventKind, len(records))
	for i, rec := range records {
		out[i] = rec.Kind
	}
	return out
}

func ofKind(records []models.EventRecord, kind models.EventKind) []models.EventRecord {
	var out []models.EventRecord
	for _, rec := range records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func TestControlLoop_StartupEvent(t *testing.T) {
	r := newRig(t, 8, nil)
	r.start()

	records := r.drain()
	require.Len(t, records, 1)
	assert.Equal(t, models.KindSystemStartup, records[0].Kind)
}

func TestControlLoop_Scheduling(t *testing.T) {
	r := newRig(t, 64, nil)
	r.start()
	r.drain()

	r.tick(100)

	assert.Equal(t, 20, r.ranger.polls)
	assert.Equal(t, 20, r.drive.requests)
	stats := r.loop.Stats()
	assert.Equal(t, uint64(100), stats.Ticks)
	assert.Equal(t, uint64(100), stats.TiltCycles)

	records := r.drain()
	assert.Len(t, ofKind(records, models.KindBalanceData), 10)
	assert.Len(t, ofKind(records, models.KindMotorStatus), 1)
	assert.Len(t, ofKind(records, models.KindSystemStatus), 1)
}

func TestControlLoop_BalanceDataSkipsFailedReads(t *testing.T) {
	r := newRig(t, 64, nil)
	r.start()
	r.drain()

	r.tilt.fail = true
	r.tick(50)

	assert.Empty(t, ofKind(r.drain(), models.KindBalanceData))
	assert.Zero(t, r.loop.Stats().TiltCycles)
}

func TestControlLoop_EmergencyStopsMotorsSameTick(t *testing.T) {
	r := newRig(t, 16, nil)
	r.start()
	r.drain()

	r.tilt.angle = 60
	r.tilt.emergency = true
	r.tick(1)

	assert.Equal(t, 1, r.drive.stops)
	assert.Equal(t, safety.StateStopped, r.interlock.State())

	records := r.drain()
	require.Equal(t, []models.EventKind{models.KindEmergencyStop, models.KindSafetyAlert}, kinds(records))
	assert.Equal(t, "60.00", records[0].Text())
	assert.Equal(t, "stopped,tilt", records[1].Text())

	r.tick(2)
	assert.Equal(t, 3, r.drive.stops)
	assert.Empty(t, ofKind(r.drain(), models.KindSafetyAlert), "latched, no new transition")
}

func TestControlLoop_InboundCommands(t *testing.T) {
	r := newRig(t, 16, nil)
	r.start()
	r.drain()

	require.True(t, r.ch.Inbound.TryPush(models.NewEventRecord(models.KindEmergencyStop, "")))
	r.tick(1)
	assert.Equal(t, safety.StateStopped, r.interlock.State())
	assert.Equal(t, 1, r.drive.stops)

	require.True(t, r.ch.Inbound.TryPush(models.NewEventRecord(models.KindInterlockReset, "")))
	require.True(t, r.ch.Inbound.TryPush(models.NewEventRecord(models.KindRangingData, "front,10")))
	r.tick(1)
	assert.Equal(t, safety.StateArmed, r.interlock.State())
	assert.Equal(t, uint64(1), r.loop.Stats().Unknown)
	assert.Equal(t, uint64(3), r.loop.Stats().Inbound)

	alerts := ofKind(r.drain(), models.KindSafetyAlert)
	require.Len(t, alerts, 2)
	assert.Equal(t, "stopped,operator", alerts[0].Text())
	assert.Equal(t, "armed,reset", alerts[1].Text())
}

func TestControlLoop_HealthEvents(t *testing.T) {
	r := newRig(t, 64, nil)
	r.tilt.fail = true
	r.start()
	r.drain()

	r.tick(100)

	records := r.drain()
	require.Equal(t, []models.EventKind{models.KindMotorStatus, models.KindSystemStatus}, kinds(records))
	assert.Equal(t, "12.0,-8.0,1", records[0].Text())
	assert.Equal(t, "state=armed drops=0 faults=0x0", records[1].Text())
	assert.Equal(t, gpio.Low, r.pin.Read())
}

func TestControlLoop_MotorNotReady(t *testing.T) {
	r := newRig(t, 64, nil)
	r.tilt.fail = true
	r.drive.ready = false
	r.start()

	r.tick(100)
	assert.True(t, r.faults.Has(models.FaultMotorNotReady))
	assert.Equal(t, gpio.High, r.pin.Read())
	motor := ofKind(r.drain(), models.KindMotorStatus)
	require.Len(t, motor, 1)
	assert.True(t, strings.HasSuffix(motor[0].Text(), ",0"))

	r.drive.ready = true
	r.tick(100)
	assert.False(t, r.faults.Has(models.FaultMotorNotReady))
	assert.Equal(t, gpio.Low, r.pin.Read())
}

func TestControlLoop_PeerLiveness(t *testing.T) {
	r := newRig(t, 64, nil)
	r.tilt.fail = true
	r.start()

	r.tick(300)
	assert.False(t, r.faults.Has(models.FaultPeerSilent))
	r.drain()

	r.tick(100)
	assert.True(t, r.faults.Has(models.FaultPeerSilent))
	assert.Equal(t, gpio.High, r.pin.Read())
	r.drain()

	require.True(t, r.ch.Inbound.TryPush(models.NewEventRecord(models.KindSystemStatus, "relay,1")))
	r.tick(1)
	assert.False(t, r.faults.Has(models.FaultPeerSilent))
}

func TestControlLoop_SaturationRecovers(t *testing.T) {
	r := newRig(t, 2, nil)
	r.start()

	r.tick(20)
	assert.True(t, r.faults.Has(models.FaultChannelSaturated))
	assert.Equal(t, uint64(1), r.ch.Outbound.Dropped())

	r.tilt.fail = true
	r.drain()
	r.tick(80)
	assert.True(t, r.faults.Has(models.FaultChannelSaturated), "drops since last check")
	r.drain()

	r.tick(100)
	assert.False(t, r.faults.Has(models.FaultChannelSaturated))
}

func TestControlLoop_WithTiltEstimator(t *testing.T) {
	r := newRig(t, 64, nil)
	source := fusion.NewSimulatedSource(func() time.Duration { return r.now })
	estimator := fusion.NewTiltEstimator(source, r.reg, fusion.DefaultOptions(), r.faults, zap.NewNop())
	require.NoError(t, estimator.Initialize())
	r.loop.c.Tilt = estimator
	r.start()
	r.drain()

	r.tick(50)

	data := ofKind(r.drain(), models.KindBalanceData)
	require.Len(t, data, 5)
	for _, rec := range data {
		assert.Len(t, strings.Split(rec.Text(), ","), 7)
	}
	assert.Equal(t, safety.StateArmed, r.interlock.State())
}

func TestControlLoop_RunStopsMotorsOnCancel(t *testing.T) {
	r := newRig(t, 64, nil)
	r.reg.Seal()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.loop.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("control loop did not stop")
	}
	assert.GreaterOrEqual(t, r.drive.stops, 1)
}
