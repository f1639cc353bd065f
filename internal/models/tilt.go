package models

import "time"

// TiltSample 一个控制周期的惯性测量样本
type TiltSample struct {
	AccelX, AccelY, AccelZ float64       // m/s²
	GyroX, GyroY, GyroZ    float64       // rad/s
	Timestamp              time.Duration // 开机以来的单调时间
}

// TiltState 倾角估计器的状态快照
type TiltState struct {
	Angle         float64       // 当前滤波倾角（度，0 = 直立，正值 = 前倾）
	PreviousAngle float64       // 上一次的滤波倾角
	UpdatedAt     time.Duration // 最后一次更新的样本时间戳
}
