// Package hardware 定义控制核心与硬件 IO 层之间的窄接口：
// 驱动执行器、转向执行器、绝对角度传感器和陀螺仪。
//
// 各厂商设备在配置阶段由 DeviceKind 选定，读写通过 Bus 完成，
// 设备变体负责把原生单位 (tick, 每 100ms tick, 圈数, RPM) 换算成统一单位。
package hardware

import (
	"errors"
	"fmt"
	"time"
)

// 传感器故障
var (
	ErrOutOfRange   = errors.New("reading out of range")
	ErrStale        = errors.New("reading is stale")
	ErrDisconnected = errors.New("device disconnected")
	ErrUnsupported  = errors.New("device kind does not support this role")
)

// SensorFault 传感器故障，携带设备信息
type SensorFault struct {
	Device string
	Port   int
	Err    error
}

func (f *SensorFault) Error() string {
	return fmt.Sprintf("%s on port %d: %v", f.Device, f.Port, f.Err)
}

func (f *SensorFault) Unwrap() error {
	return f.Err
}

// IsSensorFault 是否为传感器故障
func IsSensorFault(err error) bool {
	var fault *SensorFault
	return errors.As(err, &fault)
}

// Reading 一次传感器读数
type Reading struct {
	Value float64
	At    time.Time
}

// CurrentLimit 电流限制
type CurrentLimit struct {
	Continuous   float64       `json:"continuous"`    // 持续电流 (A)
	Peak         float64       `json:"peak"`          // 峰值电流 (A)
	PeakDuration time.Duration `json:"peak_duration"` // 峰值允许持续时间
}

// OutputFraction 持续电流占峰值电流的比例，作为输出占空比上限。未配置时为 1。
func (l CurrentLimit) OutputFraction() float64 {
	if l.Continuous <= 0 || l.Peak <= 0 || l.Continuous >= l.Peak {
		return 1
	}
	return l.Continuous / l.Peak
}

// DriveCommand 驱动电机指令
type DriveCommand struct {
	SetpointRPM float64 // 电机转速目标，供设备侧记录
	Duty        float64 // 输出占空比 [-1, 1]，闭环或开环计算得到
	Limit       CurrentLimit
}

// SteerCommand 转向电机指令
type SteerCommand struct {
	SetpointRotations float64 // 电机位置目标 (圈)
	Duty              float64
	Limit             CurrentLimit
}

// DriveActuator 驱动执行器，同时提供电机内置编码器读数
type DriveActuator interface {
	SetDriveOutput(cmd DriveCommand) error
	// ReadVelocity 电机转速 (RPM)
	ReadVelocity() (Reading, error)
	// ReadPosition 电机累计位置 (圈)
	ReadPosition() (Reading, error)
}

// SteerActuator 转向执行器
type SteerActuator interface {
	SetSteerOutput(cmd SteerCommand) error
	// ReadPosition 电机相对位置 (圈)
	ReadPosition() (Reading, error)
	// SetPosition 重置电机相对位置 (圈)
	SetPosition(rotations float64) error
}

// AngleSensor 绝对角度传感器，读数为 [0, 360) 度
type AngleSensor interface {
	ReadAngle() (Reading, error)
}

// Gyro 陀螺仪，读数为航向角 (度，逆时针为正)
type Gyro interface {
	ReadHeading() (Reading, error)
}
