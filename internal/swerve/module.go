package swerve

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/units"
)

// nominalVoltage 前馈电压换算成占空比时的参考电压
const nominalVoltage = 12.0

// ModuleFault 单个模块的故障，不影响其他模块
type ModuleFault struct {
	ID  ModuleID
	Err error
}

func (f *ModuleFault) Error() string {
	return fmt.Sprintf("module %s: %v", f.ID, f.Err)
}

func (f *ModuleFault) Unwrap() error {
	return f.Err
}

// ModuleHardware 单个模块的硬件
type ModuleHardware struct {
	Drive   hardware.DriveActuator
	Steer   hardware.SteerActuator
	Encoder hardware.AngleSensor
}

// Module 单个 swerve 模块控制器：读取传感器、换算单位、运行速度环与角度环
type Module struct {
	id       ModuleID
	settings *Settings
	hw       ModuleHardware
	logger   *zap.Logger
	now      func() time.Time

	drivePID *PIDController
	turnPID  *PIDController

	// 最近一次有效读数
	angle         float64 // 度，已扣除零位偏移，(-180, 180]
	speed         float64 // m/s
	steerPosition float64 // 转向电机位置 (圈)
	drivePosition float64 // 驱动电机位置 (圈)
	hasReading    bool

	holdAngle float64 // 低于死区时保持的转向角度
	target    ModuleState

	degraded bool
	fault    error
	faults   uint64
}

// ModuleOption 模块选项
type ModuleOption func(*Module)

// WithClock 指定判断读数失效时使用的时钟
func WithClock(now func() time.Time) ModuleOption {
	return func(m *Module) { m.now = now }
}

// WithModuleLogger 指定日志
func WithModuleLogger(logger *zap.Logger) ModuleOption {
	return func(m *Module) { m.logger = logger }
}

// NewModule 创建模块控制器
func NewModule(id ModuleID, settings *Settings, hw ModuleHardware, opts ...ModuleOption) (*Module, error) {
	if hw.Drive == nil || hw.Steer == nil || hw.Encoder == nil {
		return nil, fmt.Errorf("module %s: drive, steer and encoder are required", id)
	}
	m := &Module{
		id:       id,
		settings: settings,
		hw:       hw,
		logger:   zap.NewNop(),
		now:      time.Now,
		drivePID: NewPIDController(settings.DrivePID),
		turnPID:  NewPIDController(settings.TurnPID),
		target:   NewModuleState(0, 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("module", id.String()))
	return m, nil
}

// ID 模块位置
func (m *Module) ID() ModuleID {
	return m.id
}

func (m *Module) read(r hardware.Reading, err error) (float64, error) {
	if err != nil {
		return 0, err
	}
	if stale := m.settings.SensorStaleAfter; stale > 0 && m.now().Sub(r.At) > stale {
		return 0, &hardware.SensorFault{Device: m.id.String(), Err: hardware.ErrStale}
	}
	return r.Value, nil
}

// Refresh 读取传感器。任一读数失效时模块进入降级状态并返回 *ModuleFault，
// 此时保留上一次有效读数。
func (m *Module) Refresh() error {
	abs, err := m.read(m.hw.Encoder.ReadAngle())
	if err != nil {
		return m.degrade(fmt.Errorf("read angle: %w", err))
	}
	rpm, err := m.read(m.hw.Drive.ReadVelocity())
	if err != nil {
		return m.degrade(fmt.Errorf("read velocity: %w", err))
	}
	drivePos, err := m.read(m.hw.Drive.ReadPosition())
	if err != nil {
		return m.degrade(fmt.Errorf("read drive position: %w", err))
	}
	steerPos, err := m.read(m.hw.Steer.ReadPosition())
	if err != nil {
		return m.degrade(fmt.Errorf("read steer position: %w", err))
	}

	m.angle = units.NormalizeDegrees(abs - m.settings.AngleOffsets[m.id])
	m.speed = m.rpmToMPS(rpm)
	m.drivePosition = drivePos
	m.steerPosition = steerPos
	if !m.hasReading {
		m.holdAngle = m.angle
		m.hasReading = true
	}
	if m.degraded {
		m.logger.Info("Module sensors recovered", zap.Uint64("faults", m.faults))
		m.degraded = false
		m.fault = nil
	}
	return nil
}

func (m *Module) degrade(err error) error {
	if !m.degraded {
		m.logger.Warn("Module degraded, holding steer and zeroing drive", zap.Error(err))
	}
	m.degraded = true
	m.fault = err
	m.faults++
	m.drivePID.Reset()
	m.turnPID.Reset()
	return &ModuleFault{ID: m.id, Err: err}
}

// SetTarget 以已优化的目标状态驱动执行器。
// openLoop 为真时驱动占空比直接取速度与最大速度之比，不经过速度环。
// 启用电流限制时输出按 持续电流/峰值电流 的比例限幅。
// 降级状态下驱动输出为零、转向保持最后已知角度，故障本身已由 Refresh 返回。
func (m *Module) SetTarget(target ModuleState, openLoop bool, dt time.Duration) error {
	m.target = target
	if m.degraded {
		if err := m.holdSafe(); err != nil {
			m.logger.Debug("Safe hold on degraded module failed", zap.Error(err))
		}
		return nil
	}
	if !m.hasReading {
		return m.holdSafe()
	}

	seconds := dt.Seconds()
	speed := target.MPS()
	angle := target.Degrees()

	var driveCmd hardware.DriveCommand
	if math.Abs(speed) < m.settings.VelocityThreshold() {
		// 低于死区：驱动输出为零，转向保持上一次角度，避免在零点附近来回摆动
		m.drivePID.Reset()
		angle = m.holdAngle
	} else {
		m.holdAngle = angle
		driveCmd.SetpointRPM = m.mpsToRPM(speed)
		if openLoop {
			m.drivePID.Reset()
			driveCmd.Duty = speed / m.settings.MaxSpeedMPS()
		} else {
			ff := m.settings.DriveFeedforward
			duty := (ff.KS*math.Copysign(1, speed) + ff.KV*speed) / nominalVoltage
			driveCmd.Duty = duty + m.drivePID.Update(speed, speed-m.speed, seconds)
		}
	}

	// 转向环误差以模块圈数计
	errDeg := units.NormalizeDegrees(angle - m.angle)
	steerCmd := hardware.SteerCommand{
		SetpointRotations: m.steerPosition + errDeg/360*m.settings.Reduction().Steer,
		Duty:              m.turnPID.Update(0, errDeg/360, seconds),
	}

	driveMax, steerMax := 1.0, 1.0
	if m.settings.UseCurrentLimits {
		driveCmd.Limit = m.settings.DriveCurrentLimit
		steerCmd.Limit = m.settings.TurnCurrentLimit
		driveMax = driveCmd.Limit.OutputFraction()
		steerMax = steerCmd.Limit.OutputFraction()
	}
	driveCmd.Duty = units.Clamp(driveCmd.Duty, -driveMax, driveMax)
	steerCmd.Duty = units.Clamp(steerCmd.Duty, -steerMax, steerMax)

	if err := m.hw.Drive.SetDriveOutput(driveCmd); err != nil {
		return m.degrade(fmt.Errorf("set drive output: %w", err))
	}
	if err := m.hw.Steer.SetSteerOutput(steerCmd); err != nil {
		return m.degrade(fmt.Errorf("set steer output: %w", err))
	}
	return nil
}

// holdSafe 驱动输出置零，转向停在最后已知角度
func (m *Module) holdSafe() error {
	drive := hardware.DriveCommand{}
	steer := hardware.SteerCommand{SetpointRotations: m.steerPosition}
	if m.settings.UseCurrentLimits {
		drive.Limit = m.settings.DriveCurrentLimit
		steer.Limit = m.settings.TurnCurrentLimit
	}
	return errors.Join(m.hw.Drive.SetDriveOutput(drive), m.hw.Steer.SetSteerOutput(steer))
}

// Stop 驱动输出置零，转向保持
func (m *Module) Stop() error {
	m.drivePID.Reset()
	m.turnPID.Reset()
	m.target = NewModuleState(0, m.angle)
	return m.holdSafe()
}

// ResetToAbsolute 用绝对编码器角度重置转向电机的相对位置
func (m *Module) ResetToAbsolute() error {
	r, err := m.hw.Encoder.ReadAngle()
	if err != nil {
		return &ModuleFault{ID: m.id, Err: err}
	}
	deg := units.NormalizeDegrees(r.Value - m.settings.AngleOffsets[m.id])
	rot := deg / 360 * m.settings.Reduction().Steer
	if err := m.hw.Steer.SetPosition(rot); err != nil {
		return &ModuleFault{ID: m.id, Err: err}
	}
	m.steerPosition = rot
	return nil
}

// AbsoluteAngle 未扣除零位偏移的绝对编码器角度 (度)，用于标定偏移
func (m *Module) AbsoluteAngle() (float64, error) {
	r, err := m.hw.Encoder.ReadAngle()
	if err != nil {
		return 0, &ModuleFault{ID: m.id, Err: err}
	}
	return r.Value, nil
}

// State 最近一次有效读数对应的模块状态
func (m *Module) State() ModuleState {
	return NewModuleState(m.speed, m.angle)
}

// Angle 最近一次有效的模块角度
func (m *Module) Angle() units.Unit {
	return units.Degree(m.angle)
}

// Target 最近一次下发的目标状态
func (m *Module) Target() ModuleState {
	return m.target
}

// Distance 驱动轮累计行驶距离 (m)
func (m *Module) Distance() float64 {
	return m.drivePosition / m.settings.Reduction().Drive * m.settings.WheelCircumference()
}

// Degraded 是否处于降级状态，以及导致降级的错误
func (m *Module) Degraded() (bool, error) {
	return m.degraded, m.fault
}

// FaultCount 累计故障次数
func (m *Module) FaultCount() uint64 {
	return m.faults
}

func (m *Module) rpmToMPS(rpm float64) float64 {
	return rpm / m.settings.Reduction().Drive * m.settings.WheelCircumference() / 60
}

func (m *Module) mpsToRPM(mps float64) float64 {
	return mps * 60 / m.settings.WheelCircumference() * m.settings.Reduction().Drive
}
