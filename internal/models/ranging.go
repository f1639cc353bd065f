package models

// SensorID 测距传感器身份标签（构造时绑定，生命周期内不变）
type SensorID string

const (
	SensorFront SensorID = "front"
	SensorRear  SensorID = "rear"
)

// DistanceReading 单次测距结果
type DistanceReading struct {
	DistanceMM float64
	Valid      bool
	Seq        uint32 // 每次成功轮询递增
}

// NoReading 初始化后尚未获得任何有效测距时的哨兵值
var NoReading = DistanceReading{DistanceMM: -1}
