package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 事件日志数据库配置（PostgreSQL）
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig Redis 配置（遥测事件流）
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// Timeout 拨号与单次读写的上限；0 使用 go-redis 默认值
	Timeout  time.Duration
	PoolSize int
}

// MQTTConfig MQTT 配置（遥测镜像 + 操作员命令）
type MQTTConfig struct {
	Enabled        bool
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载数据库配置
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Enabled = boolEnv(prefix+"_ENABLED", c.Enabled)
	c.Host = stringEnv(prefix+"_HOST", c.Host)
	c.Port = intEnv(prefix+"_PORT", c.Port)
	c.User = stringEnv(prefix+"_USER", c.User)
	c.Password = stringEnv(prefix+"_PASSWORD", c.Password)
	c.Database = stringEnv(prefix+"_NAME", c.Database)
	c.SSLMode = stringEnv(prefix+"_SSLMODE", c.SSLMode)
}

// LoadFromEnv 从环境变量加载 Redis 配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Enabled = boolEnv(prefix+"_ENABLED", c.Enabled)
	c.Addr = stringEnv(prefix+"_ADDR", c.Addr)
	c.Password = stringEnv(prefix+"_PASSWORD", c.Password)
	c.DB = intEnv(prefix+"_DB", c.DB)
}

// LoadFromEnv 从环境变量加载 MQTT 配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Enabled = boolEnv(prefix+"_ENABLED", c.Enabled)
	c.Broker = stringEnv(prefix+"_BROKER", c.Broker)
	c.ClientID = stringEnv(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = stringEnv(prefix+"_USERNAME", c.Username)
	c.Password = stringEnv(prefix+"_PASSWORD", c.Password)
	if qos := intEnv(prefix+"_QOS", int(c.QoS)); qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
}

func stringEnv(key, current string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return current
}

func intEnv(key string, current int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return current
}

func boolEnv(key string, current bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return current
}
