package eventchannel

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/fungus-wine/calvin-instinctus/internal/models"
)

// DefaultCapacity 默认每个方向可缓存的事件数
const DefaultCapacity = 6

var (
	// ErrInvalidCapacity 容量必须 >= 1
	ErrInvalidCapacity = errors.New("eventchannel: capacity must be at least 1")
)

// Producer 单方向事件生产端
type Producer interface {
	TryPush(record models.EventRecord) bool
}

// Consumer 单方向事件消费端
type Consumer interface {
	TryPop() (models.EventRecord, bool)
}

type slot struct {
	record   models.EventRecord
	consumed bool
}

// RingStats 环形缓冲区统计
type RingStats struct {
	Pushed  uint64
	Popped  uint64
	Dropped uint64
	Depth   int
}

// Ring 固定容量的单生产者/单消费者环形缓冲区
//
// 槽位数组比容量多一格：write 前进一步后等于 read 即为满。
// 互斥锁只在读写索引和槽位拷贝期间持有，满时丢弃最新事件并计数，从不阻塞生产者。
type Ring struct {
	name string

	mu    sync.Mutex
	slots []slot
	write int
	read  int

	pushed  atomic.Uint64
	popped  atomic.Uint64
	dropped atomic.Uint64
}

// NewRing 创建环形缓冲区，槽位在此一次性分配
func NewRing(name string, capacity int) (*Ring, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	slots := make([]slot, capacity+1)
	for i := range slots {
		slots[i].consumed = true
	}
	return &Ring{name: name, slots: slots}, nil
}

// Name 返回方向名称（如 "outbound"）
func (r *Ring) Name() string {
	return r.name
}

// Capacity 返回可同时缓存的事件数
func (r *Ring) Capacity() int {
	return len(r.slots) - 1
}

// TryPush 非阻塞写入；满时返回 false 并计入丢弃数，不覆盖已有事件
func (r *Ring) TryPush(record models.EventRecord) bool {
	r.mu.Lock()
	next := r.advance(r.write)
	if next == r.read {
		r.mu.Unlock()
		r.dropped.Add(1)
		return false
	}
	r.slots[r.write] = slot{record: record}
	r.write = next
	r.mu.Unlock()

	r.pushed.Add(1)
	return true
}

// TryPop 非阻塞读取；为空时立即返回 false
func (r *Ring) TryPop() (models.EventRecord, bool) {
	r.mu.Lock()
	if r.read == r.write {
		r.mu.Unlock()
		return models.EventRecord{}, false
	}
	s := &r.slots[r.read]
	record := s.record
	s.consumed = true
	r.read = r.advance(r.read)
	r.mu.Unlock()

	r.popped.Add(1)
	return record, true
}

// Count 返回当前待消费事件数
func (r *Ring) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.depthLocked()
}

// Dropped 返回累计丢弃数
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// Stats 返回统计快照
func (r *Ring) Stats() RingStats {
	return RingStats{
		Pushed:  r.pushed.Load(),
		Popped:  r.popped.Load(),
		Dropped: r.dropped.Load(),
		Depth:   r.Count(),
	}
}

func (r *Ring) advance(i int) int {
	i++
	if i == len(r.slots) {
		return 0
	}
	return i
}

func (r *Ring) depthLocked() int {
	d := r.write - r.read
	if d < 0 {
		d += len(r.slots)
	}
	return d
}
