package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "robot", Password: "pw", Database: "reflex", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=robot password=pw dbname=reflex sslmode=disable", c.GetDSN())
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("TELEMETRY_REDIS_ENABLED", "true")
	t.Setenv("TELEMETRY_REDIS_ADDR", "redis:6380")
	t.Setenv("TELEMETRY_REDIS_DB", "3")

	c := RedisConfig{Addr: "localhost:6379"}
	c.LoadFromEnv("TELEMETRY_REDIS")

	assert.True(t, c.Enabled)
	assert.Equal(t, "redis:6380", c.Addr)
	assert.Equal(t, 3, c.DB)
}

func TestMQTTConfig_LoadFromEnv_IgnoresInvalidQoS(t *testing.T) {
	t.Setenv("MQTT_QOS", "7")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")

	c := MQTTConfig{QoS: 1}
	c.LoadFromEnv("MQTT")

	assert.Equal(t, byte(1), c.QoS)
	assert.Equal(t, "tcp://broker:1883", c.Broker)
}

func TestLoadFromEnv_KeepsCurrentOnBadValues(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("DB_ENABLED", "maybe")

	c := DatabaseConfig{Port: 5432, Enabled: true}
	c.LoadFromEnv("DB")

	assert.Equal(t, 5432, c.Port)
	assert.True(t, c.Enabled)
}
