package swerve

import (
	"math"

	"github.com/langchou/swervegazer/internal/units"
)

// Optimize 让目标角度相对当前角度的转动量不超过 90 度。
//
// 目标角度放到当前角度的连续区间内 (current + delta, delta ∈ (-180, 180])；
// |delta| > 90 时目标角度反转 180 度并取反速度。|delta| == 90 不反转。
func Optimize(desired ModuleState, current units.Unit) ModuleState {
	cur := current.MustIn(units.Degrees)
	delta := units.NormalizeDegrees(desired.Degrees() - cur)
	speed := desired.MPS()

	if math.Abs(delta) > 90 {
		speed = -speed
		if delta > 0 {
			delta -= 180
		} else {
			delta += 180
		}
	}
	return NewModuleState(speed, cur+delta)
}
