package swerve

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/hardware"
)

// ModulePorts 单个模块的总线端口
type ModulePorts struct {
	Drive   int `json:"drive"`
	Steer   int `json:"steer"`
	Encoder int `json:"encoder"`
}

// HardwareConfig 底盘硬件型号与端口，按 FL, FR, BL, BR 顺序
type HardwareConfig struct {
	DriveKind   hardware.DeviceKind `json:"drive_kind"`
	SteerKind   hardware.DeviceKind `json:"steer_kind"`
	EncoderKind hardware.DeviceKind `json:"encoder_kind"`
	GyroKind    hardware.DeviceKind `json:"gyro_kind,omitempty"`
	GyroPort    int                 `json:"gyro_port"`
	Ports       [4]ModulePorts      `json:"ports"`
}

// Validate 检查端口是否重复
func (c HardwareConfig) Validate() error {
	seen := make(map[int]string)
	claim := func(port int, owner string) error {
		if port < 0 {
			return fmt.Errorf("%s: port %d must not be negative", owner, port)
		}
		if prev, ok := seen[port]; ok {
			return fmt.Errorf("%s: port %d already used by %s", owner, port, prev)
		}
		seen[port] = owner
		return nil
	}
	for i, p := range c.Ports {
		id := ModuleID(i)
		for _, e := range []struct {
			port int
			role string
		}{{p.Drive, "drive"}, {p.Steer, "steer"}, {p.Encoder, "encoder"}} {
			if err := claim(e.port, id.String()+" "+e.role); err != nil {
				return err
			}
		}
	}
	if c.GyroKind != "" {
		return claim(c.GyroPort, "gyro")
	}
	return nil
}

// BuildOptions 构建底盘时可选的日志与时钟
type BuildOptions struct {
	Logger *zap.Logger
	Clock  func() time.Time
}

// BuildGroup 按配置在总线上创建执行器与传感器，提交运动学并组装底盘
func BuildGroup(name string, s *Settings, hc HardwareConfig, bus hardware.Bus, opts BuildOptions) (*Group, error) {
	if err := hc.Validate(); err != nil {
		return nil, err
	}
	kin, err := s.Commit()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	var modules [4]*Module
	for i, p := range hc.Ports {
		id := ModuleID(i)
		drive, err := hardware.NewDriveActuator(hc.DriveKind, p.Drive, bus, s.DriveInverted)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", id, err)
		}
		steer, err := hardware.NewSteerActuator(hc.SteerKind, p.Steer, bus, s.TurnInverted)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", id, err)
		}
		enc, err := hardware.NewAngleSensor(hc.EncoderKind, p.Encoder, bus, s.EncoderInverted)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", id, err)
		}
		m, err := NewModule(id, s, ModuleHardware{Drive: drive, Steer: steer, Encoder: enc},
			WithClock(clock), WithModuleLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := m.ResetToAbsolute(); err != nil {
			logger.Warn("Failed to seed steer position from absolute encoder",
				zap.String("module", id.String()), zap.Error(err))
		}
		modules[i] = m
	}

	groupOpts := []GroupOption{WithGroupLogger(logger), WithGroupClock(clock)}
	if hc.GyroKind != "" {
		gyro, err := hardware.NewGyro(hc.GyroKind, hc.GyroPort, bus)
		if err != nil {
			return nil, err
		}
		groupOpts = append(groupOpts, WithGyro(gyro))
	}
	return NewGroup(name, s, kin, modules, groupOpts...)
}

// AttachSim 在模拟总线上注册配置中的电机、编码器和陀螺仪。
// 模拟总线使用 SparkMax 原生单位，编码器零位与 AngleOffsets 一致。
func AttachSim(bus *hardware.SimBus, s *Settings, hc HardwareConfig) {
	r := s.Reduction()
	for i, p := range hc.Ports {
		bus.AddMotor(p.Drive, s.DriveFreeSpeedRPM)
		bus.AddMotor(p.Steer, s.DriveFreeSpeedRPM)
		bus.AddEncoder(p.Encoder, p.Steer, r.Steer, s.AngleOffsets[i])
	}
	if hc.GyroKind != "" {
		bus.AddGyro(hc.GyroPort)
	}
}

// SimHardware 模拟模式使用的默认硬件配置
func SimHardware() HardwareConfig {
	return HardwareConfig{
		DriveKind:   hardware.KindSparkMax,
		SteerKind:   hardware.KindSparkMax,
		EncoderKind: hardware.KindCANCoder,
		Ports: [4]ModulePorts{
			{Drive: 1, Steer: 2, Encoder: 9},
			{Drive: 3, Steer: 4, Encoder: 10},
			{Drive: 5, Steer: 6, Encoder: 11},
			{Drive: 7, Steer: 8, Encoder: 12},
		},
	}
}
