package units

import "math"

// NormalizeDegrees 将角度归一化到 (-180, 180]
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}

// NormalizeRadians 将弧度归一化到 (-π, π]
func NormalizeRadians(rad float64) float64 {
	return DegreesToRadians(NormalizeDegrees(RadiansToDegrees(rad)))
}

func DegreesToRadians(deg float64) float64 { return deg * math.Pi / 180 }
func RadiansToDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Lerp 线性插值，t 在 [0, 1]
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Clamp 限幅
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
