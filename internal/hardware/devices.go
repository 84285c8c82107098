package hardware

import (
	"fmt"
	"math"
	"strings"
)

// Signal 总线上的信号类型
type Signal int

const (
	SignalDuty Signal = iota
	SignalSetpoint
	SignalCurrentLimit // 持续电流 (A)
	SignalPeakCurrent  // 峰值电流 (A)
	SignalPeakDuration // 峰值允许持续时间 (s)
	SignalVelocity
	SignalPosition
	SignalAbsolutePosition
	SignalHeading
)

// Bus 硬件 IO 层提供的读写通道。实现必须是非阻塞的：
// 总线超时应以 ErrDisconnected 或带旧时间戳的读数返回，而不是挂起调用方。
type Bus interface {
	Write(port int, sig Signal, value float64) error
	Read(port int, sig Signal) (Reading, error)
}

// DeviceKind 支持的设备型号
type DeviceKind string

const (
	KindTalonFX  DeviceKind = "talonfx"
	KindSparkMax DeviceKind = "sparkmax"
	KindCANCoder DeviceKind = "cancoder"
	KindPigeon2  DeviceKind = "pigeon2"
)

// ParseDeviceKind 解析设备型号
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch k := DeviceKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindTalonFX, KindSparkMax, KindCANCoder, KindPigeon2:
		return k, nil
	}
	return "", fmt.Errorf("unknown device kind %q", s)
}

// talonFXTicksPerRev TalonFX 内置编码器每圈 tick 数
const talonFXTicksPerRev = 2048.0

// motor 电机控制器：TalonFX 使用 tick 与每 100ms tick，SparkMax 使用圈数与 RPM
type motor struct {
	kind      DeviceKind
	port      int
	bus       Bus
	inverted  bool
	lastLimit CurrentLimit
	limitSet  bool
}

func (m *motor) fault(err error) error {
	return &SensorFault{Device: string(m.kind), Port: m.port, Err: err}
}

func (m *motor) sign() float64 {
	if m.inverted {
		return -1
	}
	return 1
}

func (m *motor) write(setpoint, duty float64, limit CurrentLimit) error {
	if !m.limitSet || limit != m.lastLimit {
		// 只在限制变化时下发，设备按 PeakDuration 从峰值回落到持续电流
		for _, w := range []struct {
			sig   Signal
			value float64
		}{
			{SignalCurrentLimit, limit.Continuous},
			{SignalPeakCurrent, limit.Peak},
			{SignalPeakDuration, limit.PeakDuration.Seconds()},
		} {
			if err := m.bus.Write(m.port, w.sig, w.value); err != nil {
				return fmt.Errorf("%s %d current limit: %w", m.kind, m.port, err)
			}
		}
		m.lastLimit = limit
		m.limitSet = true
	}
	if err := m.bus.Write(m.port, SignalSetpoint, setpoint); err != nil {
		return fmt.Errorf("%s %d setpoint: %w", m.kind, m.port, err)
	}
	duty = math.Max(-1, math.Min(1, duty))
	if err := m.bus.Write(m.port, SignalDuty, m.sign()*duty); err != nil {
		return fmt.Errorf("%s %d duty: %w", m.kind, m.port, err)
	}
	return nil
}

func (m *motor) read(sig Signal) (Reading, error) {
	r, err := m.bus.Read(m.port, sig)
	if err != nil {
		return Reading{}, m.fault(err)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return Reading{}, m.fault(ErrOutOfRange)
	}
	return r, nil
}

// ReadVelocity 电机转速 (RPM)
func (m *motor) ReadVelocity() (Reading, error) {
	r, err := m.read(SignalVelocity)
	if err != nil {
		return Reading{}, err
	}
	if m.kind == KindTalonFX {
		// tick / 100ms -> RPM
		r.Value = r.Value * 600 / talonFXTicksPerRev
	}
	r.Value *= m.sign()
	return r, nil
}

// ReadPosition 电机位置 (圈)
func (m *motor) ReadPosition() (Reading, error) {
	r, err := m.read(SignalPosition)
	if err != nil {
		return Reading{}, err
	}
	if m.kind == KindTalonFX {
		r.Value /= talonFXTicksPerRev
	}
	r.Value *= m.sign()
	return r, nil
}

// SetPosition 重置位置 (圈)
func (m *motor) SetPosition(rotations float64) error {
	native := rotations * m.sign()
	if m.kind == KindTalonFX {
		native *= talonFXTicksPerRev
	}
	if err := m.bus.Write(m.port, SignalPosition, native); err != nil {
		return fmt.Errorf("%s %d set position: %w", m.kind, m.port, err)
	}
	return nil
}

func (m *motor) setpointNative(rotationsOrRPM float64, velocity bool) float64 {
	if m.kind != KindTalonFX {
		return rotationsOrRPM
	}
	if velocity {
		return rotationsOrRPM * talonFXTicksPerRev / 600
	}
	return rotationsOrRPM * talonFXTicksPerRev
}

type driveMotor struct{ *motor }

func (d driveMotor) SetDriveOutput(cmd DriveCommand) error {
	return d.write(d.setpointNative(cmd.SetpointRPM, true)*d.sign(), cmd.Duty, cmd.Limit)
}

type steerMotor struct{ *motor }

func (s steerMotor) SetSteerOutput(cmd SteerCommand) error {
	return s.write(s.setpointNative(cmd.SetpointRotations, false)*s.sign(), cmd.Duty, cmd.Limit)
}

// canCoder 绝对值编码器，原生读数为 [0, 360) 度
type canCoder struct {
	port     int
	bus      Bus
	inverted bool
}

func (c *canCoder) ReadAngle() (Reading, error) {
	r, err := c.bus.Read(c.port, SignalAbsolutePosition)
	if err != nil {
		return Reading{}, &SensorFault{Device: string(KindCANCoder), Port: c.port, Err: err}
	}
	if math.IsNaN(r.Value) || r.Value < 0 || r.Value >= 360 {
		return Reading{}, &SensorFault{Device: string(KindCANCoder), Port: c.port, Err: ErrOutOfRange}
	}
	if c.inverted && r.Value != 0 {
		r.Value = 360 - r.Value
	}
	return r, nil
}

type pigeon2 struct {
	port int
	bus  Bus
}

func (p *pigeon2) ReadHeading() (Reading, error) {
	r, err := p.bus.Read(p.port, SignalHeading)
	if err != nil {
		return Reading{}, &SensorFault{Device: string(KindPigeon2), Port: p.port, Err: err}
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return Reading{}, &SensorFault{Device: string(KindPigeon2), Port: p.port, Err: ErrOutOfRange}
	}
	return r, nil
}

// NewDriveActuator 按型号创建驱动执行器
func NewDriveActuator(kind DeviceKind, port int, bus Bus, inverted bool) (DriveActuator, error) {
	switch kind {
	case KindTalonFX, KindSparkMax:
		return driveMotor{&motor{kind: kind, port: port, bus: bus, inverted: inverted}}, nil
	}
	return nil, fmt.Errorf("drive actuator %s: %w", kind, ErrUnsupported)
}

// NewSteerActuator 按型号创建转向执行器
func NewSteerActuator(kind DeviceKind, port int, bus Bus, inverted bool) (SteerActuator, error) {
	switch kind {
	case KindTalonFX, KindSparkMax:
		return steerMotor{&motor{kind: kind, port: port, bus: bus, inverted: inverted}}, nil
	}
	return nil, fmt.Errorf("steer actuator %s: %w", kind, ErrUnsupported)
}

// NewAngleSensor 按型号创建绝对角度传感器
func NewAngleSensor(kind DeviceKind, port int, bus Bus, inverted bool) (AngleSensor, error) {
	if kind == KindCANCoder {
		return &canCoder{port: port, bus: bus, inverted: inverted}, nil
	}
	return nil, fmt.Errorf("angle sensor %s: %w", kind, ErrUnsupported)
}

// NewGyro 按型号创建陀螺仪
func NewGyro(kind DeviceKind, port int, bus Bus) (Gyro, error) {
	if kind == KindPigeon2 {
		return &pigeon2{port: port, bus: bus}, nil
	}
	return nil, fmt.Errorf("gyro %s: %w", kind, ErrUnsupported)
}
