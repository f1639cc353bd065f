// Package motor 实现 ODrive 电机控制器的 CAN 协议
//
// 帧 ID = nodeID<<5 | 命令号；数据为小端 IEEE754 float32。
package motor

import (
	"math"

	"go.einride.tech/can"
)

const (
	CmdGetEncoderEstimates uint32 = 0x009
	CmdSetInputVel         uint32 = 0x00D

	// MaxNodeID 节点号占 6 位
	MaxNodeID = 0x3F
)

// FrameID 计算节点命令帧 ID
func FrameID(nodeID uint8, cmd uint32) uint32 {
	return uint32(nodeID)<<5 | cmd
}

// RPMToRadPerSec 转速换算为 rad/s
func RPMToRadPerSec(rpm float64) float64 {
	return rpm * 2 * math.Pi / 60
}

// RadPerSecToRPM rad/s 换算为转速
func RadPerSecToRPM(radPerSec float64) float64 {
	return radPerSec * 60 / (2 * math.Pi)
}

// VelocityFrame 速度指令帧：[0:4] 速度 rad/s，[4:8] 前馈力矩（固定为 0）
func VelocityFrame(nodeID uint8, radPerSec float32) can.Frame {
	f := can.Frame{
		ID:     FrameID(nodeID, CmdSetInputVel),
		Length: 8,
	}
	f.Data.SetUnsignedBitsLittleEndian(0, 32, uint64(math.Float32bits(radPerSec)))
	f.Data.SetUnsignedBitsLittleEndian(32, 32, uint64(math.Float32bits(0)))
	return f
}

// EncoderRequestFrame 编码器估计值请求帧（无数据）
func EncoderRequestFrame(nodeID uint8) can.Frame {
	return can.Frame{
		ID:     FrameID(nodeID, CmdGetEncoderEstimates),
		Length: 0,
	}
}

// EncoderEstimates 编码器估计值
type EncoderEstimates struct {
	PositionRev     float32
	VelocityRadPerS float32
}

// ParseEncoderEstimates 解析编码器估计值响应；ID 或长度不符返回 false
func ParseEncoderEstimates(nodeID uint8, f can.Frame) (EncoderEstimates, bool) {
	if f.ID != FrameID(nodeID, CmdGetEncoderEstimates) || f.Length != 8 || f.IsRemote {
		return EncoderEstimates{}, false
	}
	return EncoderEstimates{
		PositionRev:     math.Float32frombits(uint32(f.Data.UnsignedBitsLittleEndian(0, 32))),
		VelocityRadPerS: math.Float32frombits(uint32(f.Data.UnsignedBitsLittleEndian(32, 32))),
	}, true
}

// EncoderEstimatesFrame 构造编码器估计值响应帧（模拟总线使用）
func EncoderEstimatesFrame(nodeID uint8, est EncoderEstimates) can.Frame {
	f := can.Frame{
		ID:     FrameID(nodeID, CmdGetEncoderEstimates),
		Length: 8,
	}
	f.Data.SetUnsignedBitsLittleEndian(0, 32, uint64(math.Float32bits(est.PositionRev)))
	f.Data.SetUnsignedBitsLittleEndian(32, 32, uint64(math.Float32bits(est.VelocityRadPerS)))
	return f
}
