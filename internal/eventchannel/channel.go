package eventchannel

import (
	"fmt"

	"github.com/fungus-wine/calvin-instinctus/internal/models"
)

// Channel 实时控制上下文与通信上下文之间的双向事件通道
//
// 两个方向相互独立：Outbound 由控制循环写、中继循环读；Inbound 反之。
// 同一方向内 FIFO，两个方向之间不保证顺序。
type Channel struct {
	Outbound *Ring
	Inbound  *Ring
}

// New 创建双向通道，两个方向使用相同容量
func New(capacity int) (*Channel, error) {
	out, err := NewRing("outbound", capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbound ring: %w", err)
	}
	in, err := NewRing("inbound", capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create inbound ring: %w", err)
	}
	return &Channel{Outbound: out, Inbound: in}, nil
}

// Drain 最多取出 max 个事件并依次交给 fn，返回实际处理数
// 用于在一个周期内限定消费量，避免消费端被积压拖住
func Drain(c Consumer, max int, fn func(models.EventRecord)) int {
	n := 0
	for n < max {
		record, ok := c.TryPop()
		if !ok {
			break
		}
		fn(record)
		n++
	}
	return n
}
