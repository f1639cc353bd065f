package control

import (
	"github.com/fungus-wine/calvin-instinctus/internal/models"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
)

// StatusIndicator 故障指示灯：有任一故障时点亮
type StatusIndicator struct {
	pin    gpio.PinOut
	logger *zap.Logger
	lit    bool
	known  bool
	broken bool
}

// NewStatusIndicator 创建指示灯，pin 为 nil 时所有操作为空
func NewStatusIndicator(pin gpio.PinOut, logger *zap.Logger) *StatusIndicator {
	return &StatusIndicator{pin: pin, logger: logger}
}

// Update 按当前故障位刷新，只在状态变化时写引脚
func (s *StatusIndicator) Update(faults models.Fault) {
	if s == nil || s.pin == nil || s.broken {
		return
	}
	lit := faults != 0
	if s.known && lit == s.lit {
		return
	}
	level := gpio.Low
	if lit {
		level = gpio.High
	}
	if err := s.pin.Out(level); err != nil {
		s.broken = true
		s.logger.Warn("Status LED write failed, indicator disabled",
			zap.String("pin", s.pin.Name()),
			zap.Error(err),
		)
		return
	}
	s.lit = lit
	s.known = true
}

// Lit 指示灯是否点亮
func (s *StatusIndicator) Lit() bool {
	return s != nil && s.lit
}
