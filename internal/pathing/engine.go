package pathing

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/state"
	"github.com/langchou/swervegazer/internal/swerve"
	"github.com/langchou/swervegazer/internal/units"
)

// 引擎状态错误
var (
	ErrNotRunning  = errors.New("path engine is not running")
	ErrNotLoadable = errors.New("path cannot be loaded while running")
)

// defaultHeadingGain 航向目标的比例增益 (rad/s per rad)
const defaultHeadingGain = 2.0

// Driver 引擎驱动的底盘，*swerve.Group 满足该接口
type Driver interface {
	Drive(cmd swerve.ChassisSpeeds, dt time.Duration) error
	Pose() swerve.Pose
}

// Event 已触发的路径事件
type Event struct {
	RunID     string        `json:"run_id"`
	PathID    string        `json:"path_id"`
	Name      string        `json:"name"`
	Index     int           `json:"index"`
	Scheduled time.Duration `json:"scheduled"`
	FiredAt   time.Duration `json:"fired_at"`
}

// Handler 事件回调，在控制循环中同步执行，不能阻塞
type Handler func(Event)

// Progress 引擎状态快照，可在任意 goroutine 读取
type Progress struct {
	State           string               `json:"state"`
	RunID           string               `json:"run_id,omitempty"`
	PathID          string               `json:"path_id,omitempty"`
	PathName        string               `json:"path_name,omitempty"`
	Elapsed         time.Duration        `json:"-"`
	Duration        time.Duration        `json:"-"`
	ElapsedSeconds  float64              `json:"elapsed_s"`
	DurationSeconds float64              `json:"duration_s"`
	Fired           []string             `json:"fired"`
	Commanded       swerve.ChassisSpeeds `json:"commanded"`
}

// Engine 路径回放引擎。Load/Start/Tick/Abort 只能由控制循环调用。
type Engine struct {
	settings    *swerve.Settings
	driver      Driver
	logger      *zap.Logger
	machine     *state.Machine
	headingGain float64
	observer    func(state.Transition)

	path      *Path
	events    []int
	nextEvent int
	clock     time.Duration
	runID     string
	fired     []string
	commanded swerve.ChassisSpeeds

	handlers map[string][]Handler
	any      []Handler

	progress atomic.Pointer[Progress]
}

// Option 引擎选项
type Option func(*Engine)

// WithLogger 指定日志
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHeadingGain 指定航向目标的比例增益
func WithHeadingGain(kp float64) Option {
	return func(e *Engine) { e.headingGain = kp }
}

// WithTransitionObserver 状态转换后调用，不能在其中调用引擎方法
func WithTransitionObserver(fn func(state.Transition)) Option {
	return func(e *Engine) { e.observer = fn }
}

// NewEngine 创建路径回放引擎
func NewEngine(settings *swerve.Settings, driver Driver, opts ...Option) *Engine {
	e := &Engine{
		settings:    settings,
		driver:      driver,
		logger:      zap.NewNop(),
		headingGain: defaultHeadingGain,
		handlers:    make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.machine = state.NewPlaybackMachine(func(t state.Transition) {
		e.logger.Info("Path engine state changed",
			zap.String("from", t.From),
			zap.String("to", t.To),
			zap.String("event", t.Event))
		if e.observer != nil {
			e.observer(t)
		}
	})
	e.publish()
	return e
}

// On 注册事件回调，name 为空时接收所有事件
func (e *Engine) On(name string, h Handler) {
	if name == "" {
		e.any = append(e.any, h)
		return
	}
	e.handlers[name] = append(e.handlers[name], h)
}

// State 当前状态
func (e *Engine) State() string {
	return e.machine.CurrentState()
}

// Load 校验并加载路径。校验失败时状态不变。
// 可在 idle、loaded 以及终止状态下加载，running 时拒绝。
func (e *Engine) Load(p *Path) error {
	if err := p.Validate(); err != nil {
		e.logger.Warn("Rejected path", zap.String("path_id", p.ID), zap.Error(err))
		return err
	}
	if !e.machine.CanTransition(state.EventLoad) {
		return fmt.Errorf("load path %q in state %s: %w", p.ID, e.State(), ErrNotLoadable)
	}

	cp := *p
	cp.Conjugates = append([]Conjugate(nil), p.Conjugates...)
	if p.RotationGoal != nil {
		goal := *p.RotationGoal
		cp.RotationGoal = &goal
	}

	if err := e.machine.Trigger(state.EventLoad); err != nil {
		return err
	}
	e.path = &cp
	e.events = cp.Events()
	e.reset()
	e.logger.Info("Path loaded",
		zap.String("path_id", cp.ID),
		zap.String("name", cp.Name),
		zap.Int("conjugates", len(cp.Conjugates)),
		zap.Duration("duration", cp.Duration()))
	e.publish()
	return nil
}

func (e *Engine) reset() {
	e.clock = 0
	e.nextEvent = 0
	e.fired = nil
	e.runID = ""
	e.commanded = swerve.ChassisSpeeds{}
}

// Start 从 loaded 开始回放，时钟归零，返回本次运行的 ID
func (e *Engine) Start() (string, error) {
	if err := e.machine.Trigger(state.EventStart); err != nil {
		return "", err
	}
	e.reset()
	e.runID = uuid.NewString()
	e.logger.Info("Path playback started", zap.String("run_id", e.runID), zap.String("path_id", e.path.ID))
	e.publish()
	return e.runID, nil
}

// Tick 推进回放时钟 dt 并驱动底盘。到达末点后下发零速度并进入 completed，时钟停止。
func (e *Engine) Tick(dt time.Duration) error {
	if !e.machine.Is(state.StateRunning) {
		return ErrNotRunning
	}

	end := e.path.Duration()
	e.clock += dt
	if e.clock > end {
		e.clock = end
	}
	e.fireEvents()

	if e.clock >= end {
		e.commanded = swerve.ChassisSpeeds{}
		err := e.driver.Drive(e.commanded, dt)
		if terr := e.machine.Trigger(state.EventFinish); terr != nil {
			err = errors.Join(err, terr)
		}
		e.logger.Info("Path playback completed",
			zap.String("run_id", e.runID),
			zap.Strings("fired", e.fired))
		e.publish()
		return err
	}

	cmd := e.path.Sample(e.clock)
	if goal := e.path.RotationGoal; goal != nil {
		cmd.Omega += e.headingCorrection(*goal)
	}
	e.commanded = cmd
	err := e.driver.Drive(cmd, dt)
	e.publish()
	return err
}

func (e *Engine) headingCorrection(goal float64) float64 {
	errH := units.NormalizeRadians(goal - e.driver.Pose().Heading)
	out := e.headingGain * errH
	if limit := e.settings.MaxAngularSpeed.MustIn(units.RadiansPerSecond); limit > 0 {
		out = units.Clamp(out, -limit, limit)
	}
	return out
}

// fireEvents 触发所有时间戳不晚于当前时钟且尚未触发的事件，每个事件只触发一次
func (e *Engine) fireEvents() {
	for e.nextEvent < len(e.events) {
		idx := e.events[e.nextEvent]
		c := e.path.Conjugates[idx]
		if c.Time > e.clock {
			return
		}
		e.nextEvent++

		ev := Event{
			RunID:     e.runID,
			PathID:    e.path.ID,
			Name:      c.EventName(idx),
			Index:     idx,
			Scheduled: c.Time,
			FiredAt:   e.clock,
		}
		e.fired = append(e.fired, ev.Name)
		e.logger.Debug("Path event fired", zap.String("event", ev.Name), zap.Duration("at", ev.FiredAt))
		for _, h := range e.handlers[ev.Name] {
			h(ev)
		}
		for _, h := range e.any {
			h(ev)
		}
	}
}

// Abort 立即下发零速度并进入 aborted
func (e *Engine) Abort() error {
	if !e.machine.CanTransition(state.EventAbort) {
		return fmt.Errorf("abort in state %s: %w", e.State(), ErrNotRunning)
	}
	e.commanded = swerve.ChassisSpeeds{}
	err := e.driver.Drive(e.commanded, 0)
	if terr := e.machine.Trigger(state.EventAbort); terr != nil {
		return errors.Join(err, terr)
	}
	e.logger.Warn("Path playback aborted",
		zap.String("run_id", e.runID),
		zap.Duration("elapsed", e.clock))
	e.publish()
	return err
}

// Path 当前加载的路径
func (e *Engine) Path() *Path {
	return e.path
}

// Elapsed 回放时钟
func (e *Engine) Elapsed() time.Duration {
	return e.clock
}

// Progress 最近一次发布的快照
func (e *Engine) Progress() *Progress {
	return e.progress.Load()
}

func (e *Engine) publish() {
	p := &Progress{
		State:          e.machine.CurrentState(),
		RunID:          e.runID,
		Elapsed:        e.clock,
		ElapsedSeconds: e.clock.Seconds(),
		Fired:          append([]string{}, e.fired...),
		Commanded:      e.commanded,
	}
	if e.path != nil {
		p.PathID = e.path.ID
		p.PathName = e.path.Name
		p.Duration = e.path.Duration()
		p.DurationSeconds = p.Duration.Seconds()
	}
	e.progress.Store(p)
}
