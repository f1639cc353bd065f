package models

import (
	"unicode/utf8"
)

// PayloadSize 事件文本负载的固定字节数（两个执行上下文必须使用同一个值）
const PayloadSize = 64

// EventKind 事件类型判别字节
type EventKind uint8

const (
	KindUnknown EventKind = iota
	KindSystemStartup
	KindSystemStatus
	KindBalanceData
	KindTiltChange
	KindEmergencyStop
	KindProximityWarning
	KindRangingData
	KindSafetyAlert
	KindMotorStatus
	KindCollisionWarning
	KindInterlockReset

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:          "unknown",
	KindSystemStartup:    "system_startup",
	KindSystemStatus:     "system_status",
	KindBalanceData:      "balance_data",
	KindTiltChange:       "tilt_change",
	KindEmergencyStop:    "emergency_stop",
	KindProximityWarning: "proximity_warning",
	KindRangingData:      "ranging_data",
	KindSafetyAlert:      "safety_alert",
	KindMotorStatus:      "motor_status",
	KindCollisionWarning: "collision_warning",
	KindInterlockReset:   "interlock_reset",
}

// Valid 判断是否属于已知的事件类型
func (k EventKind) Valid() bool {
	return k > KindUnknown && k < kindCount
}

func (k EventKind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return "unknown"
}

// ParseEventKind 从名称解析事件类型，未知名称返回 KindUnknown
func ParseEventKind(name string) EventKind {
	for k := KindSystemStartup; k < kindCount; k++ {
		if kindNames[k] == name {
			return k
		}
	}
	return KindUnknown
}

// EventRecord 跨上下文传递的事件记录（按值拷贝进环形缓冲区槽位）
//
// Payload 为 UTF-8 文本，Len 为有效字节数。记录本身不包含“已消费”标记，
// 该标记只存在于通道内部的槽位中。
type EventRecord struct {
	Kind    EventKind
	Len     uint8
	Payload [PayloadSize]byte
}

// NewEventRecord 创建事件记录，文本超出 PayloadSize 时按字符边界截断
func NewEventRecord(kind EventKind, text string) EventRecord {
	r := EventRecord{Kind: kind}
	r.SetText(text)
	return r
}

// SetText 写入文本负载
func (r *EventRecord) SetText(text string) {
	n := 0
	for i := 0; i < len(text) && n < PayloadSize; {
		c, size := utf8.DecodeRuneInString(text[i:])
		if c == 0 {
			i += size
			continue
		}
		if n+size > PayloadSize {
			break
		}
		n += copy(r.Payload[n:], text[i:i+size])
		i += size
	}
	r.Len = uint8(n)
}

// SetBytes 写入字节负载（规则同 SetText），不分配内存
func (r *EventRecord) SetBytes(b []byte) {
	n := 0
	for i := 0; i < len(b) && n < PayloadSize; {
		c, size := utf8.DecodeRune(b[i:])
		if c == 0 {
			i += size
			continue
		}
		if n+size > PayloadSize {
			break
		}
		n += copy(r.Payload[n:], b[i:i+size])
		i += size
	}
	r.Len = uint8(n)
}

// Bytes 返回有效负载切片（引用记录内部数组）
func (r *EventRecord) Bytes() []byte {
	return r.Payload[:r.Len]
}

// Text 返回负载文本
func (r EventRecord) Text() string {
	return string(r.Payload[:r.Len])
}
