package swerve

import "math"

// PIDController 离散 PID 控制器，输出限幅在 [-1, 1]，饱和时停止积分
type PIDController struct {
	gains PIDGains

	integral    float64
	prevError   float64
	initialized bool
}

// NewPIDController 创建 PID 控制器
func NewPIDController(gains PIDGains) *PIDController {
	return &PIDController{gains: gains}
}

// Reset 清空内部状态
func (pid *PIDController) Reset() {
	pid.integral = 0
	pid.prevError = 0
	pid.initialized = false
}

// Update 根据误差计算输出。setpoint 仅用于 KF 前馈项。
func (pid *PIDController) Update(setpoint, err, dt float64) float64 {
	if !pid.initialized {
		pid.prevError = err
		pid.initialized = true
	}

	p := pid.gains.KP * err

	if pid.gains.IZone <= 0 || math.Abs(err) < pid.gains.IZone {
		pid.integral += err * dt
	} else {
		pid.integral = 0
	}
	i := pid.gains.KI * pid.integral

	var d float64
	if dt > 0 {
		d = pid.gains.KD * (err - pid.prevError) / dt
	}
	pid.prevError = err

	out := p + i + d + pid.gains.KF*setpoint
	if out > 1 || out < -1 {
		// 输出饱和且误差同向时撤销本次积分
		if math.Signbit(out) == math.Signbit(err) {
			pid.integral -= err * dt
		}
		out = math.Max(-1, math.Min(1, out))
	}
	return out
}

// Error 最近一次误差
func (pid *PIDController) Error() float64 {
	return pid.prevError
}
