package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	commonredis "github.com/fungus-wine/calvin-instinctus/common/redis"
	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func envelope(kind models.EventKind, payload string, at time.Time) Envelope {
	return NewEnvelope(7, models.NewEventRecord(kind, payload), models.FaultPeerSilent, at)
}

func TestStreamSink_AppendsAndCachesStatus(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewStreamSink(client, "reflex:events", 1000, "reflex:status", 5*time.Second)
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	require.NoError(t, sink.Handle(ctx, envelope(models.KindTiltChange, "3.25", at)))
	require.NoError(t, sink.Handle(ctx, envelope(models.KindSystemStatus, "state=armed drops=0 faults=0x10", at)))

	n, err := commonredis.StreamLength(ctx, client, "reflex:events")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	msgs, err := client.XRange(ctx, "reflex:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "tilt_change", msgs[0].Values["kind"])
	assert.Equal(t, "3.25", msgs[0].Values["payload"])
	assert.Equal(t, "7", msgs[0].Values["seq"])
	assert.Equal(t, "peer_silent", msgs[0].Values["faults"])

	raw, err := mr.Get("reflex:status")
	require.NoError(t, err)
	var cached Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, "system_status", cached.Kind)
	assert.Equal(t, 5*time.Second, mr.TTL("reflex:status"))
}

func TestStreamSink_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	sink := NewStreamSink(client, "reflex:events", 0, "", 0)
	err = sink.Handle(context.Background(), envelope(models.KindTiltChange, "1.00", time.Now()))
	assert.Error(t, err)
}

// MockPublisher MQTT 发布端 mock
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	args := m.Called(topic, qos, retained, payload)
	return args.Error(0)
}

func TestMQTTSink_Publish(t *testing.T) {
	pub := new(MockPublisher)
	sink := NewMQTTSink(pub, "calvin/reflex", 1)
	at := time.Unix(1700000000, 0).UTC()

	pub.On("Publish", "calvin/reflex/emergency_stop", byte(1), false, mock.MatchedBy(func(b []byte) bool {
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			return false
		}
		return env.Kind == "emergency_stop" && env.Payload == "47.25" && env.Seq == 7
	})).Return(nil)
	pub.On("Publish", "calvin/reflex/system_status", byte(1), true, mock.Anything).Return(nil)

	require.NoError(t, sink.Handle(context.Background(), envelope(models.KindEmergencyStop, "47.25", at)))
	require.NoError(t, sink.Handle(context.Background(), envelope(models.KindSystemStatus, "state=armed drops=0 faults=0x0", at)))
	pub.AssertExpectations(t)
}

func TestMQTTSink_PublishError(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("not connected"))

	err := NewMQTTSink(pub, "calvin/reflex", 0).Handle(context.Background(), envelope(models.KindTiltChange, "1.00", time.Now()))
	assert.Error(t, err)
}

// MockJournal 安全日志 mock
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Record(ctx context.Context, entry *models.JournalEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func TestJournalSink_FiltersAndThrottles(t *testing.T) {
	repo := new(MockJournal)
	repo.On("Record", mock.Anything, mock.Anything).Return(nil)
	sink := NewJournalSink(repo, "calvin-01", time.Second)
	ctx := context.Background()
	t0 := time.Unix(1700000000, 0)

	require.NoError(t, sink.Handle(ctx, envelope(models.KindBalanceData, "0,0,9.81,0,0,0,0.00", t0)))
	require.NoError(t, sink.Handle(ctx, envelope(models.KindEmergencyStop, "50.00", t0)))
	require.NoError(t, sink.Handle(ctx, envelope(models.KindEmergencyStop, "51.00", t0.Add(10*time.Millisecond))))
	require.NoError(t, sink.Handle(ctx, envelope(models.KindSafetyAlert, "stopped,tilt", t0.Add(10*time.Millisecond))))
	require.NoError(t, sink.Handle(ctx, envelope(models.KindSafetyAlert, "armed,reset", t0.Add(20*time.Millisecond))))
	require.NoError(t, sink.Handle(ctx, envelope(models.KindEmergencyStop, "49.00", t0.Add(2*time.Second))))

	require.Len(t, repo.Calls, 4)
	first := repo.Calls[0].Arguments.Get(1).(*models.JournalEntry)
	assert.Equal(t, "calvin-01", first.RobotID)
	assert.Equal(t, "emergency_stop", first.Kind)
	assert.Equal(t, "50.00", first.Payload)
	assert.Equal(t, "peer_silent", first.Faults)
	assert.Equal(t, "49.00", repo.Calls[3].Arguments.Get(1).(*models.JournalEntry).Payload)
}

func TestJournalSink_FailureNotThrottled(t *testing.T) {
	repo := new(MockJournal)
	repo.On("Record", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	repo.On("Record", mock.Anything, mock.Anything).Return(nil)
	sink := NewJournalSink(repo, "calvin-01", time.Second)
	t0 := time.Unix(1700000000, 0)

	assert.Error(t, sink.Handle(context.Background(), envelope(models.KindEmergencyStop, "50.00", t0)))
	assert.NoError(t, sink.Handle(context.Background(), envelope(models.KindEmergencyStop, "50.50", t0.Add(time.Millisecond))))
	repo.AssertNumberOfCalls(t, "Record", 2)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		kind    models.EventKind
		payload string
		err     bool
	}{
		{"estop", models.KindEmergencyStop, "operator", false},
		{"  ESTOP:bumper  ", models.KindEmergencyStop, "bumper", false},
		{"reset", models.KindInterlockReset, "", false},
		{"dance", models.KindUnknown, "", true},
		{"", models.KindUnknown, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			rec, err := ParseCommand([]byte(tt.in))
			if tt.err {
				assert.ErrorIs(t, err, ErrUnknownCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, rec.Kind)
			assert.Equal(t, tt.payload, rec.Text())
		})
	}
}

func TestCommandQueue_Backlog(t *testing.T) {
	q := NewCommandQueue(1, zap.NewNop())

	require.NoError(t, q.HandleMessage("cmd", []byte("estop")))
	assert.ErrorIs(t, q.HandleMessage("cmd", []byte("reset")), ErrCommandBacklog)

	rec, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, models.KindEmergencyStop, rec.Kind)
	_, ok = q.next()
	assert.False(t, ok)
}

func TestRender(t *testing.T) {
	at := time.Now()
	assert.Equal(t, "tilt 3.25°", Render(envelope(models.KindTiltChange, "3.25", at)))
	assert.Equal(t, "EMERGENCY STOP at 47.25°", Render(envelope(models.KindEmergencyStop, "47.25", at)))
	assert.Equal(t, "proximity_warning front 250mm", Render(envelope(models.KindProximityWarning, "front,250", at)))
	assert.Equal(t, "status state=stopped drops=2 faults=peer_silent|interlock_stopped",
		Render(envelope(models.KindSystemStatus, "state=stopped drops=2 faults=0x30", at)))
	assert.Equal(t, "motor_status 12.0,-8.0,1", Render(envelope(models.KindMotorStatus, "12.0,-8.0,1", at)))
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(zap.NewNop())
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Handle(context.Background(), envelope(models.KindSafetyAlert, "stopped,tilt", time.Now())))
}
