package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "calvin-01", cfg.RobotID)
	assert.False(t, cfg.Simulate)

	assert.Equal(t, 0.98, cfg.Tilt.Alpha)
	assert.Equal(t, 1.0, cfg.Tilt.ChangeThresholdDeg)
	assert.Equal(t, 45.0, cfg.Tilt.EmergencyThresholdDeg)

	assert.Equal(t, uint16(0x30), cfg.Ranging.FrontAddress)
	assert.Equal(t, uint16(0x29), cfg.Ranging.RearAddress)
	assert.Equal(t, 300.0, cfg.Ranging.ProximityMM)

	assert.Equal(t, "can0", cfg.Motor.CANInterface)
	assert.Equal(t, 10*time.Millisecond, cfg.Control.Period)
	assert.Equal(t, 6, cfg.Channel.Capacity)
	assert.Equal(t, time.Second, cfg.Relay.HeartbeatInterval)
	assert.Equal(t, 20*time.Millisecond, cfg.Relay.Period)
	assert.Equal(t, 10, cfg.Ranging.RangingReportEvery)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("ROBOT_ID", "calvin-bench")
	t.Setenv("REFLEX_SIMULATE", "true")
	t.Setenv("CAN_INTERFACE", "vcan0")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("MQTT_ENABLED", "true")
	t.Setenv("DB_HOST", "journal-db")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "calvin-bench", cfg.RobotID)
	assert.True(t, cfg.Simulate)
	assert.Equal(t, "vcan0", cfg.Motor.CANInterface)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "journal-db", cfg.Database.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_YAMLOverlayThenEnv(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "reflex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
robot_id: calvin-yaml
tilt:
  emergency_threshold_deg: 30
ranging:
  front_address: 0x31
control:
  period: 5ms
relay:
  stream: bench:events
redis:
  addr: yaml-redis:6379
`), 0o600))
	t.Setenv("REFLEX_CONFIG", path)
	t.Setenv("ROBOT_ID", "calvin-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "calvin-env", cfg.RobotID)
	assert.Equal(t, 30.0, cfg.Tilt.EmergencyThresholdDeg)
	assert.Equal(t, 0.98, cfg.Tilt.Alpha)
	assert.Equal(t, uint16(0x31), cfg.Ranging.FrontAddress)
	assert.Equal(t, 5*time.Millisecond, cfg.Control.Period)
	assert.Equal(t, "bench:events", cfg.Relay.Stream)
	assert.Equal(t, "yaml-redis:6379", cfg.Redis.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	os.Clearenv()
	t.Setenv("REFLEX_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidOverlayRejected(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "reflex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tilt:\n  alpha: 1.5\n"), 0o600))
	t.Setenv("REFLEX_CONFIG", path)

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errs   int
	}{
		{"defaults", func(*Config) {}, 0},
		{"alpha zero", func(c *Config) { c.Tilt.Alpha = 0 }, 1},
		{"alpha one", func(c *Config) { c.Tilt.Alpha = 1 }, 1},
		{"negative change threshold", func(c *Config) { c.Tilt.ChangeThresholdDeg = -1 }, 1},
		{"duplicate sensor address", func(c *Config) { c.Ranging.FrontAddress = 0x29 }, 1},
		{"address beyond 7 bits", func(c *Config) { c.Ranging.FrontAddress = 0x80 }, 1},
		{"zero capacity", func(c *Config) { c.Channel.Capacity = 0 }, 1},
		{"zero ranging report interval", func(c *Config) { c.Ranging.RangingReportEvery = 0 }, 1},
		{"same motor nodes", func(c *Config) { c.Motor.RightNodeID = c.Motor.LeftNodeID }, 1},
		{"two problems", func(c *Config) {
			c.Channel.Capacity = 0
			c.Tilt.EmergencyThresholdDeg = 0
		}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errs == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Len(t, multierr.Errors(err), tt.errs)
		})
	}
}
