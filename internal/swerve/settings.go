package swerve

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/units"
)

// 配置错误，均在控制循环启动前被拒绝
var (
	ErrGeometryMisconfiguration = errors.New("geometry misconfiguration")
	ErrStaleKinematics          = fmt.Errorf("kinematics not rebuilt after geometry change: %w", ErrGeometryMisconfiguration)
)

// PIDGains PID 参数
type PIDGains struct {
	KP    float64 `json:"kp"`
	KI    float64 `json:"ki"`
	KD    float64 `json:"kd"`
	KF    float64 `json:"kf"`
	IZone float64 `json:"i_zone"` // 误差超过该值时不累积积分，0 表示不限制
}

// Feedforward 驱动电机前馈参数 (伏特)
type Feedforward struct {
	KS float64 `json:"ks"`
	KV float64 `json:"kv"` // V per m/s
	KA float64 `json:"ka"` // V per m/s²
}

// GearRatio 齿轮比预设
type GearRatio string

const (
	GearMK4L1  GearRatio = "mk4_l1"
	GearMK4L2  GearRatio = "mk4_l2"
	GearMK4L3  GearRatio = "mk4_l3"
	GearMK4iL1 GearRatio = "mk4i_l1"
	GearMK4iL2 GearRatio = "mk4i_l2"
	GearMK4iL3 GearRatio = "mk4i_l3"
	GearCustom GearRatio = "custom"
)

// Reduction 驱动/转向减速比
type Reduction struct {
	Drive float64 `json:"drive"`
	Steer float64 `json:"steer"`
}

var gearPresets = map[GearRatio]Reduction{
	GearMK4L1:  {Drive: 8.14, Steer: 12.8},
	GearMK4L2:  {Drive: 6.75, Steer: 12.8},
	GearMK4L3:  {Drive: 6.12, Steer: 12.8},
	GearMK4iL1: {Drive: 8.14, Steer: 150.0 / 7},
	GearMK4iL2: {Drive: 6.75, Steer: 150.0 / 7},
	GearMK4iL3: {Drive: 6.12, Steer: 150.0 / 7},
}

// ParseGearRatio 解析齿轮比预设名称
func ParseGearRatio(s string) (GearRatio, error) {
	g := GearRatio(s)
	if g == GearCustom {
		return g, nil
	}
	if _, ok := gearPresets[g]; ok {
		return g, nil
	}
	return "", fmt.Errorf("unknown gear ratio preset %q", s)
}

// Settings 底盘配置。构造后视为不可变，几何参数修改后必须重新 Commit。
type Settings struct {
	Wheelbase     units.Unit `json:"wheelbase"`
	TrackWidth    units.Unit `json:"track_width"`
	WheelDiameter units.Unit `json:"wheel_diameter"`

	MaxSpeed        units.Unit `json:"max_speed"`
	MaxAngularSpeed units.Unit `json:"max_angular_speed"`

	// VelocityDeadband m/s，ThresholdAsPercentage 时为 MaxSpeed 的比例
	VelocityDeadband      float64 `json:"velocity_deadband"`
	ThresholdAsPercentage bool    `json:"threshold_as_percentage"`
	// TurnDeadband rad/s
	TurnDeadband float64 `json:"turn_deadband"`

	Gear        GearRatio `json:"gear"`
	CustomRatio Reduction `json:"custom_ratio"`

	DrivePID         PIDGains    `json:"drive_pid"`
	TurnPID          PIDGains    `json:"turn_pid"`
	DriveFeedforward Feedforward `json:"drive_feedforward"`

	UseCurrentLimits  bool                  `json:"use_current_limits"`
	DriveCurrentLimit hardware.CurrentLimit `json:"drive_current_limit"`
	TurnCurrentLimit  hardware.CurrentLimit `json:"turn_current_limit"`

	InvertGyro      bool `json:"invert_gyro"`
	DriveInverted   bool `json:"drive_inverted"`
	TurnInverted    bool `json:"turn_inverted"`
	EncoderInverted bool `json:"encoder_inverted"`

	// AngleOffsets 绝对编码器零位偏移 (度)，顺序 FL, FR, BL, BR
	AngleOffsets [4]float64 `json:"angle_offsets"`

	// SensorStaleAfter 读数超过该时长未更新视为失效
	SensorStaleAfter time.Duration `json:"sensor_stale_after"`

	// DriveFreeSpeedRPM 驱动电机空载转速，用于前馈缺省和模拟
	DriveFreeSpeedRPM float64 `json:"drive_free_speed_rpm"`
}

// DefaultSettings 返回指定电机型号的默认配置
func DefaultSettings(kind hardware.DeviceKind) *Settings {
	s := &Settings{
		Wheelbase:         units.Inch(21.73),
		TrackWidth:        units.Inch(21.73),
		WheelDiameter:     units.Inch(3.94),
		MaxSpeed:          units.MeterPerSecond(4.5),
		MaxAngularSpeed:   units.RadianPerSecond(math.Pi),
		VelocityDeadband:  0.05,
		TurnDeadband:      0.05,
		Gear:              GearCustom,
		CustomRatio:       Reduction{Drive: 6.86, Steer: 12.8},
		UseCurrentLimits:  true,
		DriveCurrentLimit: hardware.CurrentLimit{Continuous: 35, Peak: 60, PeakDuration: 100 * time.Millisecond},
		TurnCurrentLimit:  hardware.CurrentLimit{Continuous: 25, Peak: 40, PeakDuration: 100 * time.Millisecond},
		SensorStaleAfter:  100 * time.Millisecond,
		DriveFreeSpeedRPM: 6380,
	}
	s.AdjustToType(kind)
	return s
}

// AdjustToType 按电机型号设置前馈和 PID 缺省值
func (s *Settings) AdjustToType(kind hardware.DeviceKind) {
	switch kind {
	case hardware.KindSparkMax:
		s.DriveFeedforward = Feedforward{KS: 0.667, KV: 2.44, KA: 0.27}
		s.TurnPID = PIDGains{KP: 0.99}
		s.DrivePID = PIDGains{KP: 0.10}
		s.DriveFreeSpeedRPM = 5676
	default:
		s.DriveFeedforward = Feedforward{KS: 0.667 / 12, KV: 2.44 / 12, KA: 0.27 / 12}
		s.TurnPID = PIDGains{KP: 0.6, KD: 12.0}
		s.DrivePID = PIDGains{KP: 0.10}
		s.DriveFreeSpeedRPM = 6380
	}
}

// Reduction 返回当前生效的减速比
func (s *Settings) Reduction() Reduction {
	if r, ok := gearPresets[s.Gear]; ok {
		return r
	}
	return s.CustomRatio
}

// WheelCircumference 车轮周长 (m)
func (s *Settings) WheelCircumference() float64 {
	return s.WheelDiameter.MustIn(units.Meters) * math.Pi
}

// MaxSpeedMPS 最大线速度 (m/s)
func (s *Settings) MaxSpeedMPS() float64 {
	return s.MaxSpeed.MustIn(units.MetersPerSecond)
}

// VelocityThreshold 驱动死区 (m/s)
func (s *Settings) VelocityThreshold() float64 {
	if s.ThresholdAsPercentage {
		return s.MaxSpeedMPS() * s.VelocityDeadband
	}
	return s.VelocityDeadband
}

// Validate 校验配置
func (s *Settings) Validate() error {
	checks := []struct {
		name string
		u    units.Unit
		dim  units.Dimension
	}{
		{"wheelbase", s.Wheelbase, units.DimensionLength},
		{"track width", s.TrackWidth, units.DimensionLength},
		{"wheel diameter", s.WheelDiameter, units.DimensionLength},
		{"max speed", s.MaxSpeed, units.DimensionVelocity},
		{"max angular speed", s.MaxAngularSpeed, units.DimensionAngularVelocity},
	}
	for _, c := range checks {
		if c.u.Dimension() != c.dim {
			return fmt.Errorf("%s must be a %s, got %s: %w", c.name, c.dim, c.u.Kind, ErrGeometryMisconfiguration)
		}
		if !c.u.IsFinite() || c.u.Value <= 0 {
			return fmt.Errorf("%s must be positive, got %s: %w", c.name, c.u, ErrGeometryMisconfiguration)
		}
	}
	r := s.Reduction()
	if r.Drive <= 0 || r.Steer <= 0 {
		return fmt.Errorf("gear reduction must be positive, got %+v: %w", r, ErrGeometryMisconfiguration)
	}
	if s.VelocityDeadband < 0 || s.TurnDeadband < 0 {
		return fmt.Errorf("deadbands must not be negative: %w", ErrGeometryMisconfiguration)
	}
	return nil
}

// ModulePositions 按 FL, FR, BL, BR 顺序返回模块安装位置 (m)，+x 向前，+y 向左
func (s *Settings) ModulePositions() [4]units.Cartesian2d {
	l := s.Wheelbase.MustIn(units.Meters) / 2
	w := s.TrackWidth.MustIn(units.Meters) / 2
	return [4]units.Cartesian2d{
		units.NewCartesian2d(l, w, units.Meters),
		units.NewCartesian2d(l, -w, units.Meters),
		units.NewCartesian2d(-l, w, units.Meters),
		units.NewCartesian2d(-l, -w, units.Meters),
	}
}

// geometry 运动学矩阵所依赖的几何参数
type geometry struct {
	wheelbase  float64
	trackWidth float64
}

func (s *Settings) geometry() geometry {
	return geometry{
		wheelbase:  s.Wheelbase.MustIn(units.Meters),
		trackWidth: s.TrackWidth.MustIn(units.Meters),
	}
}

// Commit 校验配置并重建运动学矩阵
func (s *Settings) Commit() (*Kinematics, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	k, err := NewKinematics(s.ModulePositions())
	if err != nil {
		return nil, err
	}
	k.built = s.geometry()
	return k, nil
}
