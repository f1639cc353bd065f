package bridge

import (
	"github.com/fungus-wine/calvin-instinctus/internal/models"
)

// TiltBridge 倾角事件桥：变化 → TiltChange，紧急 → EmergencyStop
type TiltBridge struct {
	emitter *Emitter
}

// NewTiltBridge 创建倾角事件桥
func NewTiltBridge(emitter *Emitter) *TiltBridge {
	return &TiltBridge{emitter: emitter}
}

func (b *TiltBridge) OnTiltChange(angle float64) {
	b.emitter.EmitFloat(models.KindTiltChange, angle, 2)
}

func (b *TiltBridge) OnEmergency(angle float64) {
	b.emitter.EmitFloat(models.KindEmergencyStop, angle, 2)
}
