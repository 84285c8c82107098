package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/swerve"
	"github.com/langchou/swervegazer/internal/units"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Database，为空时不持久化
	DatabaseURL string

	// 底盘硬件
	DriveKind   string
	SteerKind   string
	EncoderKind string
	GyroKind    string // none 表示没有陀螺仪
	GyroPort    int
	ModulePorts string // "drive,steer,encoder;..." 按 FL, FR, BL, BR

	// 底盘几何 (英寸) 与限速
	WheelbaseIn      float64
	TrackWidthIn     float64
	WheelDiameterIn  float64
	MaxSpeedMPS      float64
	MaxAngularSpeed  float64 // rad/s
	Gear             string
	VelocityDeadband float64
	TurnDeadband     float64
	InvertGyro       bool

	// 控制循环
	LoopPeriod    time.Duration
	TeleopTimeout time.Duration
	HeadingGain   float64

	// 路径文件目录与向导结果文件
	PathDir   string
	SetupFile string

	// MQTT，Broker 为空时不启用
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:       getEnv("PORT", "4000"),
		Debug:            getEnvBool("DEBUG", false),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DriveKind:        getEnv("DRIVE_MOTOR", string(hardware.KindSparkMax)),
		SteerKind:        getEnv("STEER_MOTOR", string(hardware.KindSparkMax)),
		EncoderKind:      getEnv("ABSOLUTE_ENCODER", string(hardware.KindCANCoder)),
		GyroKind:         getEnv("GYRO", "none"),
		GyroPort:         getEnvInt("GYRO_PORT", 13),
		ModulePorts:      getEnv("MODULE_PORTS", "1,2,9;3,4,10;5,6,11;7,8,12"),
		WheelbaseIn:      getEnvFloat("WHEELBASE_IN", 21.73),
		TrackWidthIn:     getEnvFloat("TRACK_WIDTH_IN", 21.73),
		WheelDiameterIn:  getEnvFloat("WHEEL_DIAMETER_IN", 3.94),
		MaxSpeedMPS:      getEnvFloat("MAX_SPEED_MPS", 4.5),
		MaxAngularSpeed:  getEnvFloat("MAX_ANGULAR_SPEED", 3.14159),
		Gear:             getEnv("GEAR_RATIO", string(swerve.GearCustom)),
		VelocityDeadband: getEnvFloat("VELOCITY_DEADBAND", 0.05),
		TurnDeadband:     getEnvFloat("TURN_DEADBAND", 0.05),
		InvertGyro:       getEnvBool("INVERT_GYRO", false),
		LoopPeriod:       getEnvDuration("LOOP_PERIOD", 20*time.Millisecond),
		TeleopTimeout:    getEnvDuration("TELEOP_TIMEOUT", 500*time.Millisecond),
		HeadingGain:      getEnvFloat("HEADING_GAIN", 0),
		PathDir:          getEnv("PATH_DIR", "paths"),
		SetupFile:        getEnv("SETUP_FILE", "swerve_setup.json"),
		MQTTBroker:       getEnv("MQTT_BROKER", ""),
		MQTTClientID:     getEnv("MQTT_CLIENT_ID", "swervegazer"),
		MQTTTopicPrefix:  getEnv("MQTT_TOPIC_PREFIX", "swervegazer"),
	}

	if cfg.LoopPeriod <= 0 {
		return nil, fmt.Errorf("LOOP_PERIOD must be positive, got %s", cfg.LoopPeriod)
	}
	return cfg, nil
}

// Hardware 解析硬件型号与端口
func (c *Config) Hardware() (swerve.HardwareConfig, error) {
	var hc swerve.HardwareConfig
	var err error
	if hc.DriveKind, err = hardware.ParseDeviceKind(c.DriveKind); err != nil {
		return hc, fmt.Errorf("DRIVE_MOTOR: %w", err)
	}
	if hc.SteerKind, err = hardware.ParseDeviceKind(c.SteerKind); err != nil {
		return hc, fmt.Errorf("STEER_MOTOR: %w", err)
	}
	if hc.EncoderKind, err = hardware.ParseDeviceKind(c.EncoderKind); err != nil {
		return hc, fmt.Errorf("ABSOLUTE_ENCODER: %w", err)
	}
	if c.GyroKind != "" && c.GyroKind != "none" {
		if hc.GyroKind, err = hardware.ParseDeviceKind(c.GyroKind); err != nil {
			return hc, fmt.Errorf("GYRO: %w", err)
		}
		hc.GyroPort = c.GyroPort
	}
	if hc.Ports, err = ParseModulePorts(c.ModulePorts); err != nil {
		return hc, fmt.Errorf("MODULE_PORTS: %w", err)
	}
	if err := hc.Validate(); err != nil {
		return hc, err
	}
	return hc, nil
}

// Drivetrain 由驱动电机型号默认值和环境变量构建底盘配置
func (c *Config) Drivetrain(driveKind hardware.DeviceKind) (*swerve.Settings, error) {
	gear, err := swerve.ParseGearRatio(c.Gear)
	if err != nil {
		return nil, fmt.Errorf("GEAR_RATIO: %w", err)
	}
	s := swerve.DefaultSettings(driveKind)
	s.Wheelbase = units.Inch(c.WheelbaseIn)
	s.TrackWidth = units.Inch(c.TrackWidthIn)
	s.WheelDiameter = units.Inch(c.WheelDiameterIn)
	s.MaxSpeed = units.MeterPerSecond(c.MaxSpeedMPS)
	s.MaxAngularSpeed = units.RadianPerSecond(c.MaxAngularSpeed)
	s.Gear = gear
	s.VelocityDeadband = c.VelocityDeadband
	s.TurnDeadband = c.TurnDeadband
	s.InvertGyro = c.InvertGyro
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseModulePorts 解析 "drive,steer,encoder;..." 格式的四组端口
func ParseModulePorts(s string) ([4]swerve.ModulePorts, error) {
	var ports [4]swerve.ModulePorts
	groups := strings.Split(strings.TrimSpace(s), ";")
	if len(groups) != 4 {
		return ports, fmt.Errorf("expected 4 port groups, got %d", len(groups))
	}
	for i, g := range groups {
		fields := strings.Split(g, ",")
		if len(fields) != 3 {
			return ports, fmt.Errorf("group %d: expected drive,steer,encoder, got %q", i, g)
		}
		var vals [3]int
		for j, f := range fields {
			v, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return ports, fmt.Errorf("group %d: %w", i, err)
			}
			vals[j] = v
		}
		ports[i] = swerve.ModulePorts{Drive: vals[0], Steer: vals[1], Encoder: vals[2]}
	}
	return ports, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
