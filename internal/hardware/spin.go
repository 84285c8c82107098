package hardware

import (
	"fmt"
	"math"
)

// SpinResult 端口测试期间的累计移动量
type SpinResult struct {
	MotorRotations float64 `json:"motor_rotations"` // 电机位置变化，原生单位
	EncoderDegrees float64 `json:"encoder_degrees"` // 绝对编码器角度变化 (度)
}

// SpinMeter 在端口测试中逐周期采样电机位置与绝对编码器角度，累计变化量
type SpinMeter struct {
	MotorPort   int
	EncoderPort int

	lastMotor   float64
	lastEncoder float64
	result      SpinResult
}

// NewSpinMeter 记录起始读数
func NewSpinMeter(bus Bus, motorPort, encoderPort int) (*SpinMeter, error) {
	m := &SpinMeter{MotorPort: motorPort, EncoderPort: encoderPort}
	motor, enc, err := m.read(bus)
	if err != nil {
		return nil, err
	}
	m.lastMotor, m.lastEncoder = motor, enc
	return m, nil
}

func (m *SpinMeter) read(bus Bus) (motor, enc float64, err error) {
	r, err := bus.Read(m.MotorPort, SignalPosition)
	if err != nil {
		return 0, 0, fmt.Errorf("motor %d position: %w", m.MotorPort, err)
	}
	e, err := bus.Read(m.EncoderPort, SignalAbsolutePosition)
	if err != nil {
		return 0, 0, fmt.Errorf("encoder %d angle: %w", m.EncoderPort, err)
	}
	return r.Value, e.Value, nil
}

// Sample 读取当前值并累加与上一次读数的差。编码器跨越 0/360 时按最短方向计。
func (m *SpinMeter) Sample(bus Bus) error {
	motor, enc, err := m.read(bus)
	if err != nil {
		return err
	}
	m.result.MotorRotations += math.Abs(motor - m.lastMotor)
	m.result.EncoderDegrees += math.Abs(math.Remainder(enc-m.lastEncoder, 360))
	m.lastMotor, m.lastEncoder = motor, enc
	return nil
}

// Result 目前为止的累计移动量
func (m *SpinMeter) Result() SpinResult {
	return m.result
}
