package hardware

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// SimBus 内存中的总线模拟，使用 SparkMax 原生单位 (圈, RPM)，
// 绝对编码器跟随所连接的转向电机。用于测试和服务端模拟模式。
type SimBus struct {
	mu       sync.Mutex
	now      time.Time
	motors   map[int]*simMotor
	encoders map[int]*simEncoder
	gyros    map[int]*simGyro
	faults   map[int]error
	frozen   map[int]time.Time
}

type simMotor struct {
	freeSpeedRPM float64
	duty         float64
	setpoint     float64
	currentLimit CurrentLimit
	velocity     float64
	position     float64
}

type simEncoder struct {
	motorPort int
	ratio     float64
	offset    float64
}

type simGyro struct {
	heading float64
}

// NewSimBus 创建模拟总线
func NewSimBus(start time.Time) *SimBus {
	return &SimBus{
		now:      start,
		motors:   make(map[int]*simMotor),
		encoders: make(map[int]*simEncoder),
		gyros:    make(map[int]*simGyro),
		faults:   make(map[int]error),
		frozen:   make(map[int]time.Time),
	}
}

// AddMotor 注册电机，freeSpeedRPM 为占空比 1 时的转速
func (b *SimBus) AddMotor(port int, freeSpeedRPM float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.motors[port] = &simMotor{freeSpeedRPM: freeSpeedRPM}
}

// AddEncoder 注册绝对编码器，角度 = 电机圈数 / ratio * 360 + offset
func (b *SimBus) AddEncoder(port, motorPort int, ratio, offsetDeg float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.encoders[port] = &simEncoder{motorPort: motorPort, ratio: ratio, offset: offsetDeg}
}

// AddGyro 注册陀螺仪
func (b *SimBus) AddGyro(port int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gyros[port] = &simGyro{}
}

// SetHeading 设置陀螺仪读数 (度)
func (b *SimBus) SetHeading(port int, deg float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.gyros[port]; ok {
		g.heading = deg
	}
}

// InjectFault 令端口读写返回 err，err 为 nil 时清除
func (b *SimBus) InjectFault(port int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, port)
		return
	}
	b.faults[port] = err
}

// Freeze 冻结端口读数的时间戳，模拟传感器停止更新
func (b *SimBus) Freeze(port int, frozen bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if frozen {
		b.frozen[port] = b.now
		return
	}
	delete(b.frozen, port)
}

// Now 模拟时钟
func (b *SimBus) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// Duty 电机当前占空比
func (b *SimBus) Duty(port int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.motors[port]; ok {
		return m.duty
	}
	return 0
}

// CurrentLimit 电机最近一次下发的电流限制
func (b *SimBus) CurrentLimit(port int) CurrentLimit {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.motors[port]; ok {
		return m.currentLimit
	}
	return CurrentLimit{}
}

// Step 推进模拟时间 dt，电机按理想一阶响应运动
func (b *SimBus) Step(dt time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = b.now.Add(dt)
	for _, m := range b.motors {
		m.velocity = m.duty * m.freeSpeedRPM
		m.position += m.velocity / 60 * dt.Seconds()
	}
}

// Write 实现 Bus
func (b *SimBus) Write(port int, sig Signal, value float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.faults[port]; err != nil {
		return err
	}
	m, ok := b.motors[port]
	if !ok {
		return fmt.Errorf("sim port %d: %w", port, ErrDisconnected)
	}
	switch sig {
	case SignalDuty:
		m.duty = value
	case SignalSetpoint:
		m.setpoint = value
	case SignalCurrentLimit:
		m.currentLimit.Continuous = value
	case SignalPeakCurrent:
		m.currentLimit.Peak = value
	case SignalPeakDuration:
		m.currentLimit.PeakDuration = time.Duration(math.Round(value * float64(time.Second)))
	case SignalPosition:
		m.position = value
	default:
		return fmt.Errorf("sim port %d: signal %d not writable", port, sig)
	}
	return nil
}

// Read 实现 Bus
func (b *SimBus) Read(port int, sig Signal) (Reading, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.faults[port]; err != nil {
		return Reading{}, err
	}
	at := b.now
	if t, ok := b.frozen[port]; ok {
		at = t
	}
	switch sig {
	case SignalVelocity, SignalPosition:
		m, ok := b.motors[port]
		if !ok {
			break
		}
		if sig == SignalVelocity {
			return Reading{Value: m.velocity, At: at}, nil
		}
		return Reading{Value: m.position, At: at}, nil
	case SignalAbsolutePosition:
		e, ok := b.encoders[port]
		if !ok {
			break
		}
		var rot float64
		if m, ok := b.motors[e.motorPort]; ok {
			rot = m.position
		}
		deg := math.Mod(rot/e.ratio*360+e.offset, 360)
		if deg < 0 {
			deg += 360
		}
		return Reading{Value: deg, At: at}, nil
	case SignalHeading:
		g, ok := b.gyros[port]
		if !ok {
			break
		}
		return Reading{Value: g.heading, At: at}, nil
	}
	return Reading{}, fmt.Errorf("sim port %d signal %d: %w", port, sig, ErrDisconnected)
}
