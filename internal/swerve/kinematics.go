package swerve

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/langchou/swervegazer/internal/units"
)

// Kinematics 四模块运动学。
//
// 正向矩阵 A (8x3) 的第 i 个模块对应两行 [1 0 -y_i] 和 [0 1 x_i]，
// 即 v_i = v + ω × r_i。逆向使用预先计算的伪逆 A⁺ = (AᵀA)⁻¹Aᵀ 做最小二乘。
type Kinematics struct {
	forward   *mat.Dense
	inverse   *mat.Dense
	built     geometry
}

// NewKinematics 由模块安装位置 (FL, FR, BL, BR) 构建运动学矩阵
func NewKinematics(positions [4]units.Cartesian2d) (*Kinematics, error) {
	a := mat.NewDense(8, 3, nil)
	for i, p := range positions {
		x, y := p.Meters()
		a.SetRow(2*i, []float64{1, 0, -y})
		a.SetRow(2*i+1, []float64{0, 1, x})
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var ataInv mat.Dense
	if err := ataInv.Inverse(&ata); err != nil {
		return nil, fmt.Errorf("invert kinematics matrix: %v: %w", err, ErrGeometryMisconfiguration)
	}
	inv := mat.NewDense(3, 8, nil)
	inv.Mul(&ataInv, a.T())

	return &Kinematics{forward: a, inverse: inv}, nil
}

// Stale 配置的几何参数是否已与构建矩阵时不同
func (k *Kinematics) Stale(s *Settings) bool {
	return k.built != s.geometry()
}

// ToModuleStates 正向运动学：底盘速度 -> 四个模块目标状态。
// 速度为零的模块角度为 0，由调用方决定是否保持当前角度。
func (k *Kinematics) ToModuleStates(c ChassisSpeeds) [4]ModuleState {
	v := mat.NewVecDense(3, []float64{c.VX, c.VY, c.Omega})
	var out mat.VecDense
	out.MulVec(k.forward, v)

	var states [4]ModuleState
	for i := range states {
		x, y := out.AtVec(2*i), out.AtVec(2*i+1)
		states[i] = NewModuleState(math.Hypot(x, y), units.RadiansToDegrees(math.Atan2(y, x)))
	}
	return states
}

// ToChassisSpeeds 逆向运动学：四个模块状态 -> 底盘速度 (机器人坐标系)
func (k *Kinematics) ToChassisSpeeds(states [4]ModuleState) ChassisSpeeds {
	m := mat.NewVecDense(8, nil)
	for i, s := range states {
		vx, vy := s.vector()
		m.SetVec(2*i, vx)
		m.SetVec(2*i+1, vy)
	}
	var out mat.VecDense
	out.MulVec(k.inverse, m)
	return ChassisSpeeds{VX: out.AtVec(0), VY: out.AtVec(1), Omega: out.AtVec(2)}
}

// ToChassisSpeedsFrom 逆向运动学，只使用 valid 为真的模块做最小二乘。
// 有效模块少于两个时底盘速度不可解，返回 false。
func (k *Kinematics) ToChassisSpeedsFrom(states [4]ModuleState, valid [4]bool) (ChassisSpeeds, bool) {
	n := 0
	for _, v := range valid {
		if v {
			n++
		}
	}
	switch {
	case n == len(states):
		return k.ToChassisSpeeds(states), true
	case n < 2:
		return ChassisSpeeds{}, false
	}

	a := mat.NewDense(2*n, 3, nil)
	b := mat.NewVecDense(2*n, nil)
	row := 0
	for i, s := range states {
		if !valid[i] {
			continue
		}
		a.SetRow(row, k.forward.RawRowView(2*i))
		a.SetRow(row+1, k.forward.RawRowView(2*i+1))
		vx, vy := s.vector()
		b.SetVec(row, vx)
		b.SetVec(row+1, vy)
		row += 2
	}
	var out mat.VecDense
	if err := out.SolveVec(a, b); err != nil {
		return ChassisSpeeds{}, false
	}
	return ChassisSpeeds{VX: out.AtVec(0), VY: out.AtVec(1), Omega: out.AtVec(2)}, true
}

// Desaturate 若任一模块速度超过 maxSpeed，四个模块按同一系数 k 缩放，
// 保持模块间速度比例不变。返回缩放后的状态和 k (未缩放时为 1)。
func Desaturate(states [4]ModuleState, maxSpeed float64) ([4]ModuleState, float64) {
	var peak float64
	for _, s := range states {
		peak = math.Max(peak, math.Abs(s.MPS()))
	}
	if maxSpeed <= 0 || peak <= maxSpeed {
		return states, 1
	}
	k := peak / maxSpeed
	for i, s := range states {
		states[i] = ModuleState{Angle: s.Angle, Speed: units.MeterPerSecond(s.MPS() / k)}
	}
	return states, k
}
