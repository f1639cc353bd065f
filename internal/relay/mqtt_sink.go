package relay

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher MQTT 发布端（common/mqtt.Client 满足该接口）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTSink 以 JSON 发布到 <prefix>/<kind>；系统状态以 retained 发布
type MQTTSink struct {
	pub    Publisher
	prefix string
	qos    byte
}

// NewMQTTSink 创建 MQTT 输出端
func NewMQTTSink(pub Publisher, prefix string, qos byte) *MQTTSink {
	return &MQTTSink{pub: pub, prefix: prefix, qos: qos}
}

func (s *MQTTSink) Name() string {
	return "mqtt"
}

// Topic 事件对应的主题
func (s *MQTTSink) Topic(env Envelope) string {
	return s.prefix + "/" + env.Kind
}

func (s *MQTTSink) Handle(_ context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	retained := env.Kind == "system_status"
	return s.pub.Publish(s.Topic(env), s.qos, retained, payload)
}
