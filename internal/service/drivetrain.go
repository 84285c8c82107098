package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/models"
	"github.com/langchou/swervegazer/internal/pathing"
	"github.com/langchou/swervegazer/internal/state"
	"github.com/langchou/swervegazer/internal/swerve"
	"github.com/langchou/swervegazer/internal/telemetry"
)

var (
	// ErrNotRunning 控制循环未运行
	ErrNotRunning = errors.New("drivetrain service is not running")
	// ErrMotorTestBusy 已有电机测试或路径回放在进行
	ErrMotorTestBusy = errors.New("drivetrain is busy")
	// ErrNoBus 未配置可直接写入的总线
	ErrNoBus = errors.New("no hardware bus configured")
)

const (
	defaultPeriod        = 20 * time.Millisecond
	defaultTeleopTimeout = 500 * time.Millisecond
	defaultSpinDuration  = time.Second
	recentRunLimit       = 20
	persistTimeout       = 5 * time.Second
)

// RunStore 回放记录存储，*repository.RunRepository 满足该接口
type RunStore interface {
	Create(ctx context.Context, run *models.AutonomousRun) error
	Complete(ctx context.Context, run *models.AutonomousRun) error
}

// Options 控制服务选项
type Options struct {
	Period        time.Duration     // 控制周期，默认 20ms
	TeleopTimeout time.Duration     // 遥控指令超过该时长未刷新则停车
	Sim           *hardware.SimBus  // 非空时每个周期推进模拟
	Bus           hardware.Bus      // 电机测试直接写入的总线，为空时使用 Sim
	SpinDuration  time.Duration     // 单个电机测试的时长，默认 1s
	Runs          RunStore          // 为空时只保留内存中的最近记录
	Telemetry     *telemetry.Fanout // 遥测输出
	HeadingGain   float64           // 路径航向目标增益，0 使用默认值
}

type commandKind int

const (
	cmdLoad commandKind = iota
	cmdStart
	cmdAbort
	cmdResetOdometry
	cmdHalt
	cmdSpin
)

type result struct {
	runID string
	spin  hardware.SpinResult
	err   error
}

type command struct {
	kind  commandKind
	path  *pathing.Path
	pose  swerve.Pose
	spin  *spinTest
	reply chan result
}

// spinTest 进行中的电机测试，由控制循环逐周期推进
type spinTest struct {
	motorPort   int
	encoderPort int
	duty        float64
	remaining   time.Duration
	meter       *hardware.SpinMeter
	reply       chan result
}

type teleopInput struct {
	speeds swerve.ChassisSpeeds
	at     time.Time
}

// StreamEvent events 主题上的消息
type StreamEvent struct {
	Kind       string            `json:"kind"` // path_event / transition
	Event      *pathing.Event    `json:"event,omitempty"`
	Transition *state.Transition `json:"transition,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
}

// DrivetrainService 底盘控制服务。
// 唯一的控制循环 goroutine 驱动底盘与路径引擎，其他 goroutine 通过命令通道与之交互。
type DrivetrainService struct {
	logger    *zap.Logger
	group     *swerve.Group
	engine    *pathing.Engine
	sim       *hardware.SimBus
	bus       hardware.Bus
	runs      RunStore
	telemetry *telemetry.Fanout

	period        time.Duration
	teleopTimeout time.Duration
	spinDuration  time.Duration

	cmds   chan command
	teleop atomic.Pointer[teleopInput]

	mu          sync.RWMutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     bool
	subscribers []chan *swerve.Snapshot
	recent      []*models.AutonomousRun

	// 以下字段只由控制循环访问
	transitions []state.Transition
	current     *models.AutonomousRun
	spin        *spinTest
	faultBase   uint64
	lastFault   string
	persistCh   chan persistJob
}

type persistJob struct {
	run    models.AutonomousRun
	create bool
}

// NewDrivetrainService 创建控制服务
func NewDrivetrainService(logger *zap.Logger, group *swerve.Group, opts Options) *DrivetrainService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Period <= 0 {
		opts.Period = defaultPeriod
	}
	if opts.TeleopTimeout <= 0 {
		opts.TeleopTimeout = defaultTeleopTimeout
	}
	if opts.SpinDuration <= 0 {
		opts.SpinDuration = defaultSpinDuration
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewFanout(logger)
	}
	s := &DrivetrainService{
		logger:        logger,
		group:         group,
		sim:           opts.Sim,
		bus:           opts.Bus,
		runs:          opts.Runs,
		telemetry:     opts.Telemetry,
		period:        opts.Period,
		teleopTimeout: opts.TeleopTimeout,
		spinDuration:  opts.SpinDuration,
		cmds:          make(chan command),
	}
	if s.bus == nil && opts.Sim != nil {
		s.bus = opts.Sim
	}

	engineOpts := []pathing.Option{
		pathing.WithLogger(logger.Named("path")),
		pathing.WithTransitionObserver(func(t state.Transition) {
			s.transitions = append(s.transitions, t)
		}),
	}
	if opts.HeadingGain > 0 {
		engineOpts = append(engineOpts, pathing.WithHeadingGain(opts.HeadingGain))
	}
	s.engine = pathing.NewEngine(group.Settings(), group, engineOpts...)
	s.engine.On("", func(ev pathing.Event) {
		s.telemetry.Publish(telemetry.TopicEvents, StreamEvent{Kind: "path_event", Event: &ev, RunID: ev.RunID})
	})
	return s
}

// OnPathEvent 注册路径事件回调，必须在 Start 之前调用。回调在控制循环中执行，不能阻塞。
func (s *DrivetrainService) OnPathEvent(name string, h pathing.Handler) {
	s.engine.On(name, h)
}

// Start 启动控制循环
func (s *DrivetrainService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Drivetrain service already running, skipping start")
		return nil
	}
	s.stopCh = make(chan struct{})
	s.persistCh = make(chan persistJob, 32)
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting drivetrain service", zap.Duration("period", s.period))

	s.wg.Add(2)
	go s.persistLoop(s.persistCh)
	go s.controlLoop(ctx, s.stopCh)
	return nil
}

// Stop 停止控制循环，停车并中止正在进行的回放
func (s *DrivetrainService) Stop() {
	if s.markStopped() {
		s.logger.Info("Stopping drivetrain service")
	}
	s.wg.Wait()
}

func (s *DrivetrainService) markStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.running = false
	close(s.stopCh)
	return true
}

func (s *DrivetrainService) done() (<-chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopCh, s.running
}

// do 将命令交给控制循环并等待结果
func (s *DrivetrainService) do(ctx context.Context, c command) result {
	stopCh, running := s.done()
	if !running {
		return result{err: ErrNotRunning}
	}
	c.reply = make(chan result, 1)
	select {
	case s.cmds <- c:
	case <-stopCh:
		return result{err: ErrNotRunning}
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
	select {
	case r := <-c.reply:
		return r
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
}

// LoadPath 加载路径
func (s *DrivetrainService) LoadPath(ctx context.Context, p *pathing.Path) error {
	return s.do(ctx, command{kind: cmdLoad, path: p}).err
}

// StartPath 开始回放已加载的路径，返回运行 ID
func (s *DrivetrainService) StartPath(ctx context.Context) (string, error) {
	r := s.do(ctx, command{kind: cmdStart})
	return r.runID, r.err
}

// AbortPath 中止回放
func (s *DrivetrainService) AbortPath(ctx context.Context) error {
	return s.do(ctx, command{kind: cmdAbort}).err
}

// ResetOdometry 重置位姿
func (s *DrivetrainService) ResetOdometry(ctx context.Context, pose swerve.Pose) error {
	return s.do(ctx, command{kind: cmdResetOdometry, pose: pose}).err
}

// Halt 清除遥控指令并立即停车
func (s *DrivetrainService) Halt(ctx context.Context) error {
	s.teleop.Store(nil)
	return s.do(ctx, command{kind: cmdHalt}).err
}

// SpinMotor 以 duty 直接驱动单个电机 SpinDuration，返回电机与绝对编码器的累计移动量。
// 测试期间底盘其余部分保持零速；路径回放中或已有测试时返回 ErrMotorTestBusy。
func (s *DrivetrainService) SpinMotor(ctx context.Context, motorPort, encoderPort int, duty float64) (hardware.SpinResult, error) {
	r := s.do(ctx, command{kind: cmdSpin, spin: &spinTest{
		motorPort:   motorPort,
		encoderPort: encoderPort,
		duty:        duty,
	}})
	return r.spin, r.err
}

// SetTeleop 更新遥控指令，不经过控制循环，下一个周期生效
func (s *DrivetrainService) SetTeleop(cmd swerve.ChassisSpeeds) {
	s.teleop.Store(&teleopInput{speeds: cmd, at: time.Now()})
}

// Snapshot 最近一次底盘快照
func (s *DrivetrainService) Snapshot() *swerve.Snapshot {
	return s.group.Snapshot()
}

// Progress 路径回放进度
func (s *DrivetrainService) Progress() *pathing.Progress {
	return s.engine.Progress()
}

// Settings 底盘配置
func (s *DrivetrainService) Settings() *swerve.Settings {
	return s.group.Settings()
}

// Subscribe 订阅底盘快照，消费过慢时丢弃
func (s *DrivetrainService) Subscribe() <-chan *swerve.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *swerve.Snapshot, 10)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// RecentRuns 最近的回放记录，新的在前
func (s *DrivetrainService) RecentRuns() []models.AutonomousRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AutonomousRun, 0, len(s.recent))
	for i := len(s.recent) - 1; i >= 0; i-- {
		out = append(out, *s.recent[i])
	}
	return out
}

func (s *DrivetrainService) controlLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()
	defer close(s.persistCh)
	defer s.logger.Info("Drivetrain service stopped")

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			s.shutdown()
			return
		case <-stopCh:
			s.shutdown()
			return
		case c := <-s.cmds:
			if c.kind == cmdSpin {
				// 结果在测试结束后由 finishSpin 回复
				s.beginSpin(c)
				continue
			}
			c.reply <- s.handle(c)
			s.flushTransitions()
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if dt > 3*s.period {
				dt = 3 * s.period
			}
			s.step(dt)
		}
	}
}

func (s *DrivetrainService) handle(c command) result {
	switch c.kind {
	case cmdLoad:
		return result{err: s.engine.Load(c.path)}
	case cmdStart:
		if s.spin != nil {
			return result{err: fmt.Errorf("start path during motor test: %w", ErrMotorTestBusy)}
		}
		id, err := s.engine.Start()
		return result{runID: id, err: err}
	case cmdAbort:
		return result{err: s.engine.Abort()}
	case cmdResetOdometry:
		s.group.ResetOdometry(c.pose)
		return result{}
	case cmdHalt:
		s.finishSpin(errors.New("motor test halted"))
		if s.engine.State() == state.StateRunning {
			if err := s.engine.Abort(); err != nil {
				return result{err: err}
			}
		}
		return result{err: s.group.Stop()}
	}
	return result{err: fmt.Errorf("unknown command %d", c.kind)}
}

// step 一个控制周期
func (s *DrivetrainService) step(dt time.Duration) {
	var err error
	switch {
	case s.engine.State() == state.StateRunning:
		err = s.engine.Tick(dt)
	case s.spin != nil:
		err = s.group.Drive(swerve.ChassisSpeeds{}, dt)
		// 覆盖底盘刚下发的零输出
		if werr := s.bus.Write(s.spin.motorPort, hardware.SignalDuty, s.spin.duty); werr != nil {
			s.finishSpin(fmt.Errorf("drive motor %d: %w", s.spin.motorPort, werr))
		}
	default:
		err = s.group.Drive(s.teleopCommand(), dt)
	}
	s.reportFault(err)

	if s.sim != nil {
		s.sim.Step(dt)
	}
	s.sampleSpin(dt)
	s.group.UpdateOdometry(dt)
	s.flushTransitions()
	s.publish()
}

func (s *DrivetrainService) beginSpin(c command) {
	t := c.spin
	t.reply = c.reply
	switch {
	case s.bus == nil:
		t.reply <- result{err: ErrNoBus}
		return
	case s.spin != nil:
		t.reply <- result{err: fmt.Errorf("motor test already in progress: %w", ErrMotorTestBusy)}
		return
	case s.engine.State() == state.StateRunning:
		t.reply <- result{err: fmt.Errorf("motor test during path playback: %w", ErrMotorTestBusy)}
		return
	}
	meter, err := hardware.NewSpinMeter(s.bus, t.motorPort, t.encoderPort)
	if err != nil {
		t.reply <- result{err: err}
		return
	}
	t.meter = meter
	t.remaining = s.spinDuration
	s.spin = t
	s.logger.Info("Motor test started",
		zap.Int("motor_port", t.motorPort),
		zap.Int("encoder_port", t.encoderPort),
		zap.Float64("duty", t.duty))
}

// sampleSpin 在模拟推进之后采样测试中的电机，时长用尽时结束测试
func (s *DrivetrainService) sampleSpin(dt time.Duration) {
	if s.spin == nil {
		return
	}
	if err := s.spin.meter.Sample(s.bus); err != nil {
		s.finishSpin(err)
		return
	}
	s.spin.remaining -= dt
	if s.spin.remaining <= 0 {
		s.finishSpin(nil)
	}
}

// finishSpin 停止测试电机并回复调用方
func (s *DrivetrainService) finishSpin(err error) {
	t := s.spin
	if t == nil {
		return
	}
	s.spin = nil
	if werr := s.bus.Write(t.motorPort, hardware.SignalDuty, 0); werr != nil && err == nil {
		err = fmt.Errorf("stop motor %d: %w", t.motorPort, werr)
	}
	res := t.meter.Result()
	if err != nil {
		s.logger.Warn("Motor test failed", zap.Int("motor_port", t.motorPort), zap.Error(err))
		t.reply <- result{err: err}
		return
	}
	s.logger.Info("Motor test finished",
		zap.Int("motor_port", t.motorPort),
		zap.Float64("motor_rotations", res.MotorRotations),
		zap.Float64("encoder_degrees", res.EncoderDegrees))
	t.reply <- result{spin: res}
}

func (s *DrivetrainService) teleopCommand() swerve.ChassisSpeeds {
	t := s.teleop.Load()
	if t == nil || time.Since(t.at) > s.teleopTimeout {
		return swerve.ChassisSpeeds{}
	}
	return t.speeds
}

// reportFault 故障变化时记录一次，避免每个周期刷屏
func (s *DrivetrainService) reportFault(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == s.lastFault {
		return
	}
	s.lastFault = msg
	if err != nil {
		s.logger.Warn("Drivetrain fault", zap.Error(err))
	} else {
		s.logger.Info("Drivetrain faults cleared")
	}
}

func (s *DrivetrainService) faultTotal() uint64 {
	var n uint64
	for _, m := range s.group.Modules() {
		n += m.FaultCount()
	}
	return n
}

// flushTransitions 处理引擎状态转换：记录回放并推送事件
func (s *DrivetrainService) flushTransitions() {
	if len(s.transitions) == 0 {
		return
	}
	pending := s.transitions
	s.transitions = nil

	progress := s.engine.Progress()
	for i := range pending {
		t := pending[i]
		s.telemetry.Publish(telemetry.TopicEvents, StreamEvent{Kind: "transition", Transition: &t, RunID: progress.RunID})

		switch {
		case t.To == state.StateRunning:
			pose := s.group.Pose()
			s.current = &models.AutonomousRun{
				ID:           progress.RunID,
				PathID:       progress.PathID,
				PathName:     progress.PathName,
				State:        state.StateRunning,
				StartTime:    t.At,
				DurationS:    progress.DurationSeconds,
				FiredEvents:  []string{},
				StartX:       pose.X,
				StartY:       pose.Y,
				StartHeading: pose.Heading,
			}
			s.faultBase = s.faultTotal()
			s.remember(s.current)
			s.persist(*s.current, true)

		case state.IsTerminal(t.To) && s.current != nil:
			pose := s.group.Pose()
			end := t.At
			run := *s.current
			run.State = t.To
			run.EndTime = &end
			run.ElapsedS = progress.ElapsedSeconds
			run.FiredEvents = append([]string{}, progress.Fired...)
			run.EndX, run.EndY, run.EndHeading = &pose.X, &pose.Y, &pose.Heading
			run.FaultCount = int(s.faultTotal() - s.faultBase)
			s.current = nil
			s.remember(&run)
			s.persist(run, false)
		}
	}
	s.telemetry.Publish(telemetry.TopicProgress, progress)
}

// remember 更新内存中的最近记录
func (s *DrivetrainService) remember(run *models.AutonomousRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	for i, r := range s.recent {
		if r.ID == cp.ID {
			s.recent[i] = &cp
			return
		}
	}
	s.recent = append(s.recent, &cp)
	if len(s.recent) > recentRunLimit {
		s.recent = s.recent[len(s.recent)-recentRunLimit:]
	}
}

func (s *DrivetrainService) persist(run models.AutonomousRun, create bool) {
	if s.runs == nil {
		return
	}
	select {
	case s.persistCh <- persistJob{run: run, create: create}:
	default:
		s.logger.Warn("Run persistence queue full, dropping record", zap.String("run_id", run.ID))
	}
}

// persistLoop 按顺序写入回放记录，不阻塞控制循环
func (s *DrivetrainService) persistLoop(jobs <-chan persistJob) {
	defer s.wg.Done()
	for job := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		run := job.run
		var err error
		if job.create {
			err = s.runs.Create(ctx, &run)
		} else {
			err = s.runs.Complete(ctx, &run)
		}
		cancel()
		if err != nil {
			s.logger.Error("Failed to persist autonomous run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
}

func (s *DrivetrainService) publish() {
	snap := s.group.Snapshot()
	if snap == nil {
		return
	}

	s.mu.RLock()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
	s.mu.RUnlock()

	s.telemetry.Publish(telemetry.TopicTelemetry, snap)
	if s.engine.State() == state.StateRunning {
		s.telemetry.Publish(telemetry.TopicProgress, s.engine.Progress())
	}
}

func (s *DrivetrainService) shutdown() {
	s.finishSpin(ErrNotRunning)
	if s.engine.State() == state.StateRunning {
		if err := s.engine.Abort(); err != nil {
			s.logger.Warn("Abort on shutdown failed", zap.Error(err))
		}
	}
	if err := s.group.Stop(); err != nil {
		s.logger.Warn("Stop on shutdown failed", zap.Error(err))
	}
	s.flushTransitions()
}
