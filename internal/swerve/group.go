package swerve

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/units"
)

// ModuleTelemetry 单个模块的遥测数据
type ModuleTelemetry struct {
	ID             ModuleID `json:"id"`
	Name           string   `json:"name"`
	AngleDeg       float64  `json:"angle_deg"`
	SpeedMPS       float64  `json:"speed_mps"`
	TargetAngleDeg float64  `json:"target_angle_deg"`
	TargetSpeedMPS float64  `json:"target_speed_mps"`
	DistanceM      float64  `json:"distance_m"`
	Degraded       bool     `json:"degraded"`
	Fault          string   `json:"fault,omitempty"`
	FaultCount     uint64   `json:"fault_count"`
}

// Snapshot 每个控制周期发布一次的只读快照
type Snapshot struct {
	Name        string             `json:"name"`
	At          time.Time          `json:"at"`
	Pose        Pose               `json:"pose"`
	Commanded   ChassisSpeeds      `json:"commanded"`
	Measured    ChassisSpeeds      `json:"measured"`
	Modules     [4]ModuleTelemetry `json:"modules"`
	Clamped     bool               `json:"clamped"`
	ScaleFactor float64            `json:"scale_factor"`
	ClampCount  uint64             `json:"clamp_count"`
}

// Group 四个模块组成的 swerve 底盘：正向运动学下发目标，逆向运动学计算里程计。
// Drive/UpdateOdometry 只能由控制循环调用；Snapshot 可在任意 goroutine 读取。
type Group struct {
	name     string
	settings *Settings
	kin      *Kinematics
	modules  [4]*Module
	gyro     hardware.Gyro
	logger   *zap.Logger
	now      func() time.Time

	pose        Pose
	gyroOffset  float64 // rad，ResetOdometry 时对齐陀螺仪读数
	commanded   ChassisSpeeds
	measured    ChassisSpeeds
	clamped     bool
	scaleFactor float64
	clampCount  uint64

	snapshot atomic.Pointer[Snapshot]
}

// GroupOption 底盘选项
type GroupOption func(*Group)

// WithGyro 使用陀螺仪作为航向来源，否则积分逆向运动学得到的角速度
func WithGyro(gyro hardware.Gyro) GroupOption {
	return func(g *Group) { g.gyro = gyro }
}

// WithGroupLogger 指定日志
func WithGroupLogger(logger *zap.Logger) GroupOption {
	return func(g *Group) { g.logger = logger }
}

// WithGroupClock 指定快照时间戳使用的时钟
func WithGroupClock(now func() time.Time) GroupOption {
	return func(g *Group) { g.now = now }
}

// NewGroup 创建底盘。运动学必须由当前配置 Commit 得到，否则拒绝创建。
func NewGroup(name string, settings *Settings, kin *Kinematics, modules [4]*Module, opts ...GroupOption) (*Group, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if kin == nil || kin.Stale(settings) {
		return nil, ErrStaleKinematics
	}
	for i, m := range modules {
		if m == nil {
			return nil, fmt.Errorf("module %s is missing", ModuleID(i))
		}
		if m.ID() != ModuleID(i) {
			return nil, fmt.Errorf("module at index %d has id %s", i, m.ID())
		}
	}

	g := &Group{
		name:        name,
		settings:    settings,
		kin:         kin,
		modules:     modules,
		logger:      zap.NewNop(),
		now:         time.Now,
		scaleFactor: 1,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(zap.String("group", name))
	g.publish()
	return g, nil
}

// Modules 四个模块
func (g *Group) Modules() [4]*Module {
	return g.modules
}

// AbsoluteAngles 四个模块未扣除偏移的绝对编码器角度 (度)
func (g *Group) AbsoluteAngles() ([4]float64, error) {
	var out [4]float64
	for i, m := range g.modules {
		deg, err := m.AbsoluteAngle()
		if err != nil {
			return out, err
		}
		out[i] = deg
	}
	return out, nil
}

// Settings 底盘配置
func (g *Group) Settings() *Settings {
	return g.settings
}

// ApplyDeadband 低于死区的平移/旋转分量置为精确的零
func (g *Group) ApplyDeadband(cmd ChassisSpeeds) ChassisSpeeds {
	if math.Hypot(cmd.VX, cmd.VY) < g.settings.VelocityThreshold() {
		cmd.VX, cmd.VY = 0, 0
	}
	if math.Abs(cmd.Omega) < g.settings.TurnDeadband {
		cmd.Omega = 0
	}
	return cmd
}

// Drive 将底盘速度指令下发到四个模块。
// 四个模块的目标由同一份指令计算；单个模块故障不会阻止其他模块执行，
// 所有模块故障合并后返回。
func (g *Group) Drive(cmd ChassisSpeeds, dt time.Duration) error {
	var errs error
	for _, m := range g.modules {
		errs = multierr.Append(errs, m.Refresh())
	}

	cmd = g.ApplyDeadband(cmd.ToRobotRelative(g.pose.Heading))
	g.commanded = cmd

	var targets [4]ModuleState
	g.clamped = false
	g.scaleFactor = 1
	if cmd.IsZero() {
		for i, m := range g.modules {
			targets[i] = ModuleState{Angle: m.Angle(), Speed: units.MeterPerSecond(0)}
		}
	} else {
		var k float64
		targets, k = Desaturate(g.kin.ToModuleStates(cmd), g.settings.MaxSpeedMPS())
		if k > 1 {
			g.clamped = true
			g.scaleFactor = k
			g.clampCount++
			g.logger.Debug("Overspeed clamp engaged", zap.Float64("factor", k))
		}
		for i, m := range g.modules {
			if targets[i].MPS() == 0 {
				// 位于旋转中心的模块保持当前角度
				targets[i].Angle = m.Angle()
			}
			targets[i] = Optimize(targets[i], m.Angle())
		}
	}

	for i, m := range g.modules {
		errs = multierr.Append(errs, m.SetTarget(targets[i], cmd.OpenLoop, dt))
	}
	return errs
}

// Stop 所有模块驱动输出置零
func (g *Group) Stop() error {
	var errs error
	for _, m := range g.modules {
		errs = multierr.Append(errs, m.Stop())
	}
	g.commanded = ChassisSpeeds{}
	return errs
}

// UpdateOdometry 用模块的最新状态计算底盘速度并积分到位姿，然后发布快照。
// 降级模块的读数不可信，不参与求解；有效模块不足两个时视为静止。
func (g *Group) UpdateOdometry(dt time.Duration) {
	var (
		states [4]ModuleState
		valid  [4]bool
	)
	for i, m := range g.modules {
		states[i] = m.State()
		degraded, _ := m.Degraded()
		valid[i] = !degraded
	}
	measured, ok := g.kin.ToChassisSpeedsFrom(states, valid)
	if !ok {
		g.logger.Debug("Too few healthy modules for odometry, assuming stationary")
	}
	g.measured = measured

	seconds := dt.Seconds()
	prev := g.pose.Heading
	next := prev + g.measured.Omega*seconds
	if g.gyro != nil {
		if r, err := g.gyro.ReadHeading(); err == nil {
			heading := units.DegreesToRadians(r.Value)
			if g.settings.InvertGyro {
				heading = -heading
			}
			next = heading - g.gyroOffset
		} else {
			g.logger.Debug("Gyro read failed, integrating module omega", zap.Error(err))
		}
	}
	next = units.NormalizeRadians(next)

	// 以周期中点航向旋转到场地坐标系
	mid := prev + units.NormalizeRadians(next-prev)/2
	d := units.NewCartesian2d(g.measured.VX*seconds, g.measured.VY*seconds, units.Meters).Rotate(mid)
	g.pose.X += d.X
	g.pose.Y += d.Y
	g.pose.Heading = next

	g.publish()
}

// ResetOdometry 重置位姿
func (g *Group) ResetOdometry(pose Pose) {
	g.pose = pose
	if g.gyro != nil {
		if r, err := g.gyro.ReadHeading(); err == nil {
			heading := units.DegreesToRadians(r.Value)
			if g.settings.InvertGyro {
				heading = -heading
			}
			g.gyroOffset = heading - pose.Heading
		}
	}
	g.publish()
}

// Pose 当前里程计位姿
func (g *Group) Pose() Pose {
	return g.pose
}

// Snapshot 最近一次发布的快照，可并发读取
func (g *Group) Snapshot() *Snapshot {
	return g.snapshot.Load()
}

func (g *Group) publish() {
	s := &Snapshot{
		Name:        g.name,
		At:          g.now(),
		Pose:        g.pose,
		Commanded:   g.commanded,
		Measured:    g.measured,
		Clamped:     g.clamped,
		ScaleFactor: g.scaleFactor,
		ClampCount:  g.clampCount,
	}
	for i, m := range g.modules {
		st, tgt := m.State(), m.Target()
		degraded, fault := m.Degraded()
		t := ModuleTelemetry{
			ID:             m.ID(),
			Name:           m.ID().String(),
			AngleDeg:       st.Degrees(),
			SpeedMPS:       st.MPS(),
			TargetAngleDeg: tgt.Degrees(),
			TargetSpeedMPS: tgt.MPS(),
			DistanceM:      m.Distance(),
			Degraded:       degraded,
			FaultCount:     m.FaultCount(),
		}
		if fault != nil {
			t.Fault = fault.Error()
		}
		s.Modules[i] = t
	}
	g.snapshot.Store(s)
}
