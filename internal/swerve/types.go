package swerve

import (
	"math"

	"github.com/langchou/swervegazer/internal/units"
)

// ModuleID 模块位置
type ModuleID int

const (
	FrontLeft ModuleID = iota
	FrontRight
	BackLeft
	BackRight
)

// ModuleIDs 按固定顺序列出四个模块
var ModuleIDs = [4]ModuleID{FrontLeft, FrontRight, BackLeft, BackRight}

var moduleNames = [4]string{"Front Left", "Front Right", "Back Left", "Back Right"}

func (id ModuleID) String() string {
	if id < 0 || int(id) >= len(moduleNames) {
		return "Unknown"
	}
	return moduleNames[id]
}

// ModuleState 模块状态：角度与线速度
type ModuleState struct {
	Angle units.Unit `json:"angle"`
	Speed units.Unit `json:"speed"`
}

// NewModuleState 由 m/s 和度创建模块状态
func NewModuleState(speedMPS, angleDeg float64) ModuleState {
	return ModuleState{Angle: units.Degree(angleDeg), Speed: units.MeterPerSecond(speedMPS)}
}

// Degrees 角度 (度)
func (s ModuleState) Degrees() float64 {
	return s.Angle.MustIn(units.Degrees)
}

// MPS 速度 (m/s)
func (s ModuleState) MPS() float64 {
	return s.Speed.MustIn(units.MetersPerSecond)
}

// vector 速度向量 (m/s)
func (s ModuleState) vector() (vx, vy float64) {
	sin, cos := math.Sincos(s.Angle.MustIn(units.Radians))
	v := s.MPS()
	return v * cos, v * sin
}

// ChassisSpeeds 底盘速度。VX/VY 单位 m/s，Omega 单位 rad/s，逆时针为正。
// OpenLoop 为真时驱动电机按速度占最大速度的比例直接输出，不经过速度环。
type ChassisSpeeds struct {
	VX            float64 `json:"vx"`
	VY            float64 `json:"vy"`
	Omega         float64 `json:"omega"`
	FieldRelative bool    `json:"field_relative"`
	OpenLoop      bool    `json:"open_loop,omitempty"`
}

// IsZero 是否为零速度
func (c ChassisSpeeds) IsZero() bool {
	return c.VX == 0 && c.VY == 0 && c.Omega == 0
}

// ToRobotRelative 将场地坐标系速度按航向 (rad) 转换到机器人坐标系
func (c ChassisSpeeds) ToRobotRelative(heading float64) ChassisSpeeds {
	if !c.FieldRelative {
		return c
	}
	sin, cos := math.Sincos(heading)
	return ChassisSpeeds{
		VX:       c.VX*cos + c.VY*sin,
		VY:       -c.VX*sin + c.VY*cos,
		Omega:    c.Omega,
		OpenLoop: c.OpenLoop,
	}
}

// Lerp 线性插值
func (c ChassisSpeeds) Lerp(to ChassisSpeeds, t float64) ChassisSpeeds {
	return ChassisSpeeds{
		VX:            units.Lerp(c.VX, to.VX, t),
		VY:            units.Lerp(c.VY, to.VY, t),
		Omega:         units.Lerp(c.Omega, to.Omega, t),
		FieldRelative: c.FieldRelative,
		OpenLoop:      c.OpenLoop,
	}
}

// Pose 场地坐标系位姿，X/Y 单位 m，Heading 单位 rad
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}
