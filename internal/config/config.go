package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fungus-wine/calvin-instinctus/common/config"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid config")

// Config 反射层配置
type Config struct {
	RobotID  string `yaml:"robot_id"`
	Simulate bool   `yaml:"simulate"` // 不访问 I2C/GPIO/CAN，使用模拟设备

	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	// 互补滤波
	Tilt struct {
		Alpha                 float64 `yaml:"alpha"`
		ChangeThresholdDeg    float64 `yaml:"change_threshold_deg"`
		EmergencyThresholdDeg float64 `yaml:"emergency_threshold_deg"`
		IMUAddress            uint16  `yaml:"imu_address"` // ICM-20948，与测距共用 I2C 总线
	} `yaml:"tilt"`

	// 双 ToF 测距
	Ranging struct {
		I2CBus          string  `yaml:"i2c_bus"` // 空字符串表示第一条总线
		FrontAddress    uint16  `yaml:"front_address"`
		RearAddress     uint16  `yaml:"rear_address"`
		FrontXShutPin   string  `yaml:"front_xshut_pin"`
		RearXShutPin    string  `yaml:"rear_xshut_pin"`
		ProximityMM     float64 `yaml:"proximity_mm"`
		CollisionMM     float64 `yaml:"collision_mm"`
		RangingReportMM float64 `yaml:"ranging_report_mm"`
		// RangingData 抽样：每个传感器每 N 次有效测距上报一次
		RangingReportEvery int `yaml:"ranging_report_every"`
	} `yaml:"ranging"`

	// ODrive 电机
	Motor struct {
		CANInterface string `yaml:"can_interface"`
		LeftNodeID   uint8  `yaml:"left_node_id"`
		RightNodeID  uint8  `yaml:"right_node_id"`
	} `yaml:"motor"`

	// 实时控制循环
	Control struct {
		Period           time.Duration `yaml:"period"`
		RangingDivider   int           `yaml:"ranging_divider"`
		TelemetryDivider int           `yaml:"telemetry_divider"`
		HealthInterval   time.Duration `yaml:"health_interval"`
		PeerTimeout      time.Duration `yaml:"peer_timeout"`
		StatusLEDPin     string        `yaml:"status_led_pin"` // 空字符串表示不接指示灯
	} `yaml:"control"`

	Channel struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"channel"`

	// 通信中继循环
	Relay struct {
		Period            time.Duration `yaml:"period"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		SinkTimeout       time.Duration `yaml:"sink_timeout"`
		Stream            string        `yaml:"stream"`
		StreamMaxLen      int64         `yaml:"stream_max_len"`
		StatusKey         string        `yaml:"status_key"`
		StatusTTL         time.Duration `yaml:"status_ttl"`
		TopicPrefix       string        `yaml:"topic_prefix"`
		CommandTopic      string        `yaml:"command_topic"`
		CommandBacklog    int           `yaml:"command_backlog"`
		JournalInterval   time.Duration `yaml:"journal_interval"` // 同类安全事件的最小记录间隔
	} `yaml:"relay"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 加载配置：默认值 → REFLEX_CONFIG 指定的 YAML 文件 → 环境变量
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("REFLEX_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{}

	cfg.RobotID = "calvin-01"

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "calvin"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 2

	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "localhost:6379"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "calvin-instinctus"
	cfg.MQTT.QoS = 1
	cfg.MQTT.ConnectTimeout = 5 * time.Second

	cfg.Tilt.Alpha = 0.98
	cfg.Tilt.ChangeThresholdDeg = 1.0
	cfg.Tilt.EmergencyThresholdDeg = 45.0
	cfg.Tilt.IMUAddress = 0x69

	cfg.Ranging.FrontAddress = 0x30
	cfg.Ranging.RearAddress = 0x29
	cfg.Ranging.FrontXShutPin = "GPIO17"
	cfg.Ranging.RearXShutPin = "GPIO27"
	cfg.Ranging.ProximityMM = 300
	cfg.Ranging.CollisionMM = 100
	cfg.Ranging.RangingReportMM = 4000
	cfg.Ranging.RangingReportEvery = 10

	cfg.Motor.CANInterface = "can0"
	cfg.Motor.LeftNodeID = 0
	cfg.Motor.RightNodeID = 1

	cfg.Control.Period = 10 * time.Millisecond
	cfg.Control.RangingDivider = 5
	cfg.Control.TelemetryDivider = 10
	cfg.Control.HealthInterval = time.Second
	cfg.Control.PeerTimeout = 3 * time.Second

	cfg.Channel.Capacity = 6

	// 每周期最多取出 capacity 条，50Hz 才能跟上近距离告警的速率
	cfg.Relay.Period = 20 * time.Millisecond
	cfg.Relay.HeartbeatInterval = time.Second
	cfg.Relay.SinkTimeout = 250 * time.Millisecond
	cfg.Relay.Stream = "calvin:reflex:events"
	cfg.Relay.StreamMaxLen = 10000
	cfg.Relay.StatusKey = "calvin:reflex:status"
	cfg.Relay.StatusTTL = 5 * time.Second
	cfg.Relay.TopicPrefix = "calvin/reflex"
	cfg.Relay.CommandTopic = "calvin/reflex/cmd"
	cfg.Relay.CommandBacklog = 8
	cfg.Relay.JournalInterval = time.Second

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

// LoadFile 用 YAML 文件覆盖当前值，文件中未出现的字段保持不变
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.RobotID = getEnv("ROBOT_ID", c.RobotID)
	c.Simulate = getEnvBool("REFLEX_SIMULATE", c.Simulate)

	c.Database.LoadFromEnv("DB")
	c.Redis.LoadFromEnv("REDIS")
	c.MQTT.LoadFromEnv("MQTT")

	c.Ranging.I2CBus = getEnv("I2C_BUS", c.Ranging.I2CBus)
	c.Ranging.FrontXShutPin = getEnv("XSHUT_FRONT_PIN", c.Ranging.FrontXShutPin)
	c.Ranging.RearXShutPin = getEnv("XSHUT_REAR_PIN", c.Ranging.RearXShutPin)

	c.Motor.CANInterface = getEnv("CAN_INTERFACE", c.Motor.CANInterface)
	c.Control.StatusLEDPin = getEnv("STATUS_LED_PIN", c.Control.StatusLEDPin)

	c.Relay.Stream = getEnv("RELAY_STREAM", c.Relay.Stream)
	c.Relay.TopicPrefix = getEnv("RELAY_TOPIC_PREFIX", c.Relay.TopicPrefix)
	c.Relay.CommandTopic = getEnv("RELAY_COMMAND_TOPIC", c.Relay.CommandTopic)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate 检查参数一致性，返回全部问题
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
		}
	}

	check(c.RobotID != "", "robot_id is empty")

	check(c.Tilt.Alpha > 0 && c.Tilt.Alpha < 1, "tilt.alpha %v not in (0,1)", c.Tilt.Alpha)
	check(c.Tilt.ChangeThresholdDeg > 0, "tilt.change_threshold_deg must be positive")
	check(c.Tilt.EmergencyThresholdDeg > 0 && c.Tilt.EmergencyThresholdDeg <= 90,
		"tilt.emergency_threshold_deg %v not in (0,90]", c.Tilt.EmergencyThresholdDeg)

	check(c.Ranging.FrontAddress != c.Ranging.RearAddress,
		"ranging addresses must differ (both 0x%02X)", c.Ranging.FrontAddress)
	check(c.Ranging.FrontAddress <= 0x7F && c.Ranging.RearAddress <= 0x7F, "ranging addresses must be 7-bit")
	check(c.Tilt.IMUAddress != c.Ranging.FrontAddress && c.Tilt.IMUAddress != c.Ranging.RearAddress,
		"imu address 0x%02X collides with a ranging sensor", c.Tilt.IMUAddress)
	check(c.Ranging.ProximityMM > 0 && c.Ranging.CollisionMM > 0 && c.Ranging.RangingReportMM > 0,
		"ranging thresholds must be positive")
	check(c.Ranging.RangingReportEvery >= 1, "ranging.ranging_report_every %d below 1", c.Ranging.RangingReportEvery)

	check(c.Motor.LeftNodeID != c.Motor.RightNodeID, "motor node ids must differ")
	check(c.Motor.LeftNodeID < 64 && c.Motor.RightNodeID < 64, "motor node ids must be below 64")

	check(c.Control.Period > 0, "control.period must be positive")
	check(c.Control.PeerTimeout > c.Relay.HeartbeatInterval,
		"control.peer_timeout %s must exceed relay.heartbeat_interval %s", c.Control.PeerTimeout, c.Relay.HeartbeatInterval)
	check(c.Channel.Capacity >= 1, "channel.capacity %d below 1", c.Channel.Capacity)

	check(c.Relay.Period > 0, "relay.period must be positive")
	check(c.Control.PeerTimeout > c.Control.HealthInterval,
		"control.peer_timeout %s must exceed control.health_interval %s", c.Control.PeerTimeout, c.Control.HealthInterval)

	return err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
