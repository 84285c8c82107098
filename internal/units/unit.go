package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDimensionMismatch 量纲不一致
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidKind 未指定或未知的单位，通常来自 Unit 零值
	ErrInvalidKind = errors.New("invalid unit kind")
)

// Dimension 物理量纲
type Dimension int

const (
	DimensionNone Dimension = iota
	DimensionLength
	DimensionAngle
	DimensionVelocity
	DimensionAngularVelocity
)

func (d Dimension) String() string {
	switch d {
	case DimensionNone:
		return "none"
	case DimensionLength:
		return "length"
	case DimensionAngle:
		return "angle"
	case DimensionVelocity:
		return "velocity"
	case DimensionAngularVelocity:
		return "angular_velocity"
	}
	return fmt.Sprintf("dimension(%d)", int(d))
}

// Kind 具体单位，每个单位对应其量纲基本单位的固定换算系数
type Kind int

const (
	// KindInvalid 零值，不属于任何量纲，任何换算都会失败
	KindInvalid Kind = iota

	Meters
	Centimeters
	Millimeters
	Inches
	Feet
	Yards

	Radians
	Degrees
	Rotations

	MetersPerSecond
	FeetPerSecond
	InchesPerSecond

	RadiansPerSecond
	DegreesPerSecond
	RPM
)

type kindInfo struct {
	name      string
	dimension Dimension
	// toBase 乘以该系数得到基本单位 (m, rad, m/s, rad/s)
	toBase float64
}

var kinds = map[Kind]kindInfo{
	Meters:      {"m", DimensionLength, 1},
	Centimeters: {"cm", DimensionLength, 0.01},
	Millimeters: {"mm", DimensionLength, 0.001},
	Inches:      {"in", DimensionLength, 0.0254},
	Feet:        {"ft", DimensionLength, 0.3048},
	Yards:       {"yd", DimensionLength, 0.9144},

	Radians:   {"rad", DimensionAngle, 1},
	Degrees:   {"deg", DimensionAngle, math.Pi / 180},
	Rotations: {"rot", DimensionAngle, 2 * math.Pi},

	MetersPerSecond: {"m/s", DimensionVelocity, 1},
	FeetPerSecond:   {"ft/s", DimensionVelocity, 0.3048},
	InchesPerSecond: {"in/s", DimensionVelocity, 0.0254},

	RadiansPerSecond: {"rad/s", DimensionAngularVelocity, 1},
	DegreesPerSecond: {"deg/s", DimensionAngularVelocity, math.Pi / 180},
	RPM:              {"rpm", DimensionAngularVelocity, 2 * math.Pi / 60},
}

// Dimension 返回单位所属量纲，未知单位返回 DimensionNone
func (k Kind) Dimension() Dimension {
	return kinds[k].dimension
}

// Valid 是否为已知单位
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	if k == KindInvalid {
		return "invalid"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind 根据单位名称解析
func ParseKind(name string) (Kind, error) {
	for k, info := range kinds {
		if info.name == name {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown unit %q", name)
}

// Unit 带量纲的标量，值类型，不可变
type Unit struct {
	Value float64
	Kind  Kind
}

// New 创建带单位的标量
func New(value float64, kind Kind) Unit {
	return Unit{Value: value, Kind: kind}
}

func Meter(v float64) Unit           { return New(v, Meters) }
func Inch(v float64) Unit            { return New(v, Inches) }
func Foot(v float64) Unit            { return New(v, Feet) }
func Degree(v float64) Unit          { return New(v, Degrees) }
func Radian(v float64) Unit          { return New(v, Radians) }
func MeterPerSecond(v float64) Unit  { return New(v, MetersPerSecond) }
func RadianPerSecond(v float64) Unit { return New(v, RadiansPerSecond) }

// Dimension 返回量纲
func (u Unit) Dimension() Dimension {
	return u.Kind.Dimension()
}

// Base 返回基本单位下的数值
func (u Unit) Base() float64 {
	return u.Value * kinds[u.Kind].toBase
}

// In 换算到目标单位，量纲不同时返回 ErrDimensionMismatch
func (u Unit) In(kind Kind) (float64, error) {
	if !u.Kind.Valid() || !kind.Valid() {
		return 0, fmt.Errorf("convert %s to %s: %w", u.Kind, kind, ErrInvalidKind)
	}
	if u.Dimension() != kind.Dimension() {
		return 0, fmt.Errorf("convert %s to %s: %w", u.Kind, kind, ErrDimensionMismatch)
	}
	if u.Kind == kind {
		return u.Value, nil
	}
	return u.Base() / kinds[kind].toBase, nil
}

// MustIn 换算到目标单位，量纲不同时 panic
func (u Unit) MustIn(kind Kind) float64 {
	v, err := u.In(kind)
	if err != nil {
		panic(err)
	}
	return v
}

// To 换算为目标单位的 Unit
func (u Unit) To(kind Kind) (Unit, error) {
	v, err := u.In(kind)
	if err != nil {
		return Unit{}, err
	}
	return New(v, kind), nil
}

// Add 相加，结果使用接收者的单位
func (u Unit) Add(other Unit) (Unit, error) {
	v, err := other.In(u.Kind)
	if err != nil {
		return Unit{}, err
	}
	return New(u.Value+v, u.Kind), nil
}

// Sub 相减，结果使用接收者的单位
func (u Unit) Sub(other Unit) (Unit, error) {
	v, err := other.In(u.Kind)
	if err != nil {
		return Unit{}, err
	}
	return New(u.Value-v, u.Kind), nil
}

// Scale 乘以无量纲系数
func (u Unit) Scale(k float64) Unit {
	return New(u.Value*k, u.Kind)
}

// IsFinite 数值是否有限
func (u Unit) IsFinite() bool {
	return !math.IsNaN(u.Value) && !math.IsInf(u.Value, 0)
}

func (u Unit) String() string {
	return fmt.Sprintf("%g %s", u.Value, u.Kind)
}

type unitJSON struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// MarshalJSON 序列化为 {"value":..,"unit":".."}
func (u Unit) MarshalJSON() ([]byte, error) {
	return json.Marshal(unitJSON{Value: u.Value, Unit: u.Kind.String()})
}

// UnmarshalJSON 反序列化
func (u *Unit) UnmarshalJSON(data []byte) error {
	var raw unitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := ParseKind(raw.Unit)
	if err != nil {
		return err
	}
	*u = New(raw.Value, kind)
	return nil
}
