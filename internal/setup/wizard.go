package setup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/state"
	"github.com/langchou/swervegazer/internal/swerve"
	"github.com/langchou/swervegazer/internal/units"
)

// 向导步骤
const (
	StepPorts            = "ports"
	StepPortTest         = "port_test"
	StepEncoderDirection = "encoder_direction"
	StepOffsets          = "offsets"
	StepReview           = "review"
	StepDone             = "done"
)

// 向导事件
const (
	eventPortsSet     = "ports_set"
	eventTestFailed   = "test_failed"
	eventTestsPassed  = "tests_passed"
	eventDirectionSet = "direction_set"
	eventOffsetsSet   = "offsets_set"
	eventRedo         = "redo"
	eventConfirm      = "confirm"
	eventRestart      = "restart"
)

var wizardEvents = fsm.Events{
	{Name: eventPortsSet, Src: []string{StepPorts}, Dst: StepPortTest},
	{Name: eventTestFailed, Src: []string{StepPortTest}, Dst: StepPorts},
	{Name: eventTestsPassed, Src: []string{StepPortTest}, Dst: StepEncoderDirection},
	{Name: eventDirectionSet, Src: []string{StepEncoderDirection}, Dst: StepOffsets},
	{Name: eventOffsetsSet, Src: []string{StepOffsets}, Dst: StepReview},
	{Name: eventRedo, Src: []string{StepReview}, Dst: StepOffsets},
	{Name: eventConfirm, Src: []string{StepReview}, Dst: StepDone},
	{Name: eventRestart, Src: []string{StepPortTest, StepEncoderDirection, StepOffsets, StepReview, StepDone}, Dst: StepPorts},
}

var (
	// ErrWrongStep 提交的答复与当前步骤不符
	ErrWrongStep = errors.New("answer does not match the current step")
	// ErrPortTestFailed 端口测试自动判定失败，向导已回到端口输入
	ErrPortTestFailed = errors.New("port test failed")
)

// 端口测试参数
const (
	portTestDuty     = 0.3
	minMotorTravel   = 0.1 // 电机原生单位
	minEncoderTravel = 1.0 // 度
)

// 端口测试自动判定失败的原因
const (
	reasonMotorStill    = "Motor is not moving!"
	reasonEncoderStill  = "Encoder is not updating!"
	reasonNotResponding = "Motor or encoder is not responding!"
)

// Motor 端口测试中的电机
type Motor string

const (
	MotorDrive Motor = "drive"
	MotorTurn  Motor = "turn"
)

// PortTest 端口测试进度中的一项：每个模块先测驱动再测转向
type PortTest struct {
	Module swerve.ModuleID `json:"module"`
	Motor  Motor           `json:"motor"`
}

func portTests() []PortTest {
	tests := make([]PortTest, 0, 8)
	for _, id := range swerve.ModuleIDs {
		tests = append(tests, PortTest{Module: id, Motor: MotorDrive}, PortTest{Module: id, Motor: MotorTurn})
	}
	return tests
}

// Answer 对当前步骤的答复，只需填写当前步骤对应的字段
type Answer struct {
	Step string `json:"step" binding:"required"`

	// ports
	Ports *[4]swerve.ModulePorts `json:"ports,omitempty"`

	// port_test：操作员判断当前测试项的电机是否按预期转动。
	// 配置了 MotorTester 时可省略，由测电机与编码器的移动量自动判定；false 总是判为失败。
	Passed *bool `json:"passed,omitempty"`

	// encoder_direction
	EncoderInverted *bool `json:"encoder_inverted,omitempty"`

	// offsets：直接给出偏移，或 Capture 为 true 时读取当前绝对编码器角度
	Offsets *[4]float64 `json:"offsets,omitempty"`
	Capture bool        `json:"capture,omitempty"`

	// review：true 确认，false 重新标定偏移
	Confirm *bool `json:"confirm,omitempty"`
}

// Prompt 当前步骤的提示
type Prompt struct {
	Step        string    `json:"step"`
	Message     string    `json:"message"`
	PendingTest *PortTest `json:"pending_test,omitempty"`
	Result      *Result   `json:"result,omitempty"`
	// Failure 上一次端口测试失败的原因
	Failure string `json:"failure,omitempty"`
}

// Result 向导的输出，在控制循环启动前用于构建底盘
type Result struct {
	Ports           [4]swerve.ModulePorts `json:"ports"`
	EncoderInverted bool                  `json:"encoder_inverted"`
	Offsets         [4]float64            `json:"offsets"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

// Apply 将结果应用到配置副本上
func (r *Result) Apply(s *swerve.Settings, hc swerve.HardwareConfig) (*swerve.Settings, swerve.HardwareConfig) {
	out := *s
	out.EncoderInverted = r.EncoderInverted
	out.AngleOffsets = r.Offsets
	hc.Ports = r.Ports
	return &out, hc
}

// OffsetSource 读取四个模块当前的绝对编码器角度 (度)
type OffsetSource func() ([4]float64, error)

// MotorTester 以固定占空比转动单个电机，返回电机与绝对编码器的移动量。
// *service.DrivetrainService 满足该接口。
type MotorTester interface {
	SpinMotor(ctx context.Context, motorPort, encoderPort int, duty float64) (hardware.SpinResult, error)
}

// Wizard 底盘配置向导：端口、端口测试、编码器方向、零位偏移、确认
type Wizard struct {
	mu      sync.Mutex
	machine *state.Machine
	logger  *zap.Logger
	capture OffsetSource
	tester  MotorTester

	hardware swerve.HardwareConfig
	result   Result
	tests    []PortTest
	testIdx  int
	failure  string
}

// NewWizard 创建向导。capture 为 nil 时偏移只能手动填写；
// tester 为 nil 时端口测试完全依赖操作员判断。
func NewWizard(hc swerve.HardwareConfig, capture OffsetSource, tester MotorTester, logger *zap.Logger) *Wizard {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Wizard{
		logger:   logger,
		capture:  capture,
		tester:   tester,
		hardware: hc,
		tests:    portTests(),
	}
	w.result.Ports = hc.Ports
	w.machine = state.NewMachine(StepPorts, wizardEvents, func(t state.Transition) {
		logger.Info("Setup step changed", zap.String("from", t.From), zap.String("to", t.To))
	})
	return w
}

// Current 当前步骤提示
func (w *Wizard) Current() Prompt {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prompt()
}

func (w *Wizard) prompt() Prompt {
	step := w.machine.CurrentState()
	p := Prompt{Step: step}
	switch step {
	case StepPorts:
		p.Message = "Enter drive, steer and encoder ports for each module"
		p.Failure = w.failure
	case StepPortTest:
		t := w.tests[w.testIdx]
		p.PendingTest = &t
		if w.tester != nil {
			p.Message = fmt.Sprintf("Submit to spin the %s %s motor at %.0f%% output", t.Module, t.Motor, portTestDuty*100)
		} else {
			p.Message = fmt.Sprintf("Confirm the %s %s motor moves", t.Module, t.Motor)
		}
	case StepEncoderDirection:
		p.Message = "Turn each wheel counter-clockwise and report whether the encoder angle decreases"
	case StepOffsets:
		p.Message = "Point all wheels forward, then capture or enter the encoder offsets"
	case StepReview:
		p.Message = "Review the configuration and confirm, or redo the offsets"
		r := w.result
		p.Result = &r
	case StepDone:
		p.Message = "Setup complete"
		r := w.result
		p.Result = &r
	}
	return p
}

// Submit 提交对当前步骤的答复，返回新的提示。端口测试步骤会在 ctx 内转动待测电机。
func (w *Wizard) Submit(ctx context.Context, a Answer) (Prompt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	step := w.machine.CurrentState()
	if a.Step != step {
		return w.prompt(), fmt.Errorf("answer for %q in step %q: %w", a.Step, step, ErrWrongStep)
	}

	var err error
	switch step {
	case StepPorts:
		err = w.submitPorts(a)
	case StepPortTest:
		err = w.submitPortTest(ctx, a)
	case StepEncoderDirection:
		if a.EncoderInverted == nil {
			err = errors.New("encoder_inverted is required")
			break
		}
		w.result.EncoderInverted = *a.EncoderInverted
		err = w.machine.Trigger(eventDirectionSet)
	case StepOffsets:
		err = w.submitOffsets(a)
	case StepReview:
		if a.Confirm == nil {
			err = errors.New("confirm is required")
			break
		}
		if !*a.Confirm {
			err = w.machine.Trigger(eventRedo)
			break
		}
		now := time.Now()
		w.result.CompletedAt = &now
		err = w.machine.Trigger(eventConfirm)
	case StepDone:
		err = fmt.Errorf("setup already complete: %w", ErrWrongStep)
	}
	return w.prompt(), err
}

func (w *Wizard) submitPorts(a Answer) error {
	if a.Ports == nil {
		return errors.New("ports are required")
	}
	hc := w.hardware
	hc.Ports = *a.Ports
	if err := hc.Validate(); err != nil {
		return err
	}
	w.result.Ports = *a.Ports
	w.testIdx = 0
	w.failure = ""
	return w.machine.Trigger(eventPortsSet)
}

func (w *Wizard) submitPortTest(ctx context.Context, a Answer) error {
	t := w.tests[w.testIdx]
	switch {
	case a.Passed != nil && !*a.Passed:
		return w.failPortTest(t, "operator reported the motor did not move as expected")
	case a.Passed == nil && w.tester == nil:
		return errors.New("passed is required")
	}

	if w.tester != nil {
		reason, err := w.spin(ctx, t)
		if err != nil {
			return err
		}
		if reason != "" {
			if err := w.failPortTest(t, reason); err != nil {
				return err
			}
			return fmt.Errorf("%s: %w", w.failure, ErrPortTestFailed)
		}
	}

	w.testIdx++
	if w.testIdx < len(w.tests) {
		return nil
	}
	w.testIdx = 0
	return w.machine.Trigger(eventTestsPassed)
}

// spin 转动待测电机，返回失败原因，通过时为空
func (w *Wizard) spin(ctx context.Context, t PortTest) (string, error) {
	ports := w.result.Ports[t.Module]
	motorPort := ports.Drive
	if t.Motor == MotorTurn {
		motorPort = ports.Steer
	}
	res, err := w.tester.SpinMotor(ctx, motorPort, ports.Encoder, portTestDuty)
	switch {
	case errors.Is(err, hardware.ErrDisconnected) || hardware.IsSensorFault(err):
		w.logger.Warn("Port test device not responding", zap.Int("motor_port", motorPort), zap.Error(err))
		return reasonNotResponding, nil
	case err != nil:
		return "", fmt.Errorf("spin %s %s motor: %w", t.Module, t.Motor, err)
	}

	// 驱动电机不带动绝对编码器，只检查电机本身
	switch {
	case res.MotorRotations < minMotorTravel:
		return reasonMotorStill, nil
	case t.Motor == MotorTurn && res.EncoderDegrees < minEncoderTravel:
		return reasonEncoderStill, nil
	}
	return "", nil
}

func (w *Wizard) failPortTest(t PortTest, reason string) error {
	w.logger.Warn("Port test failed, returning to port entry",
		zap.String("module", t.Module.String()),
		zap.String("motor", string(t.Motor)),
		zap.String("reason", reason))
	w.failure = fmt.Sprintf("%s %s: %s", t.Module, t.Motor, reason)
	w.testIdx = 0
	return w.machine.Trigger(eventTestFailed)
}

func (w *Wizard) submitOffsets(a Answer) error {
	switch {
	case a.Capture:
		if w.capture == nil {
			return errors.New("offset capture is not available")
		}
		offsets, err := w.capture()
		if err != nil {
			return fmt.Errorf("capture offsets: %w", err)
		}
		w.result.Offsets = offsets
	case a.Offsets != nil:
		w.result.Offsets = *a.Offsets
	default:
		return errors.New("offsets or capture is required")
	}
	for i, o := range w.result.Offsets {
		w.result.Offsets[i] = units.NormalizeDegrees(o)
	}
	return w.machine.Trigger(eventOffsetsSet)
}

// Restart 回到端口输入
func (w *Wizard) Restart() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.testIdx = 0
	return w.machine.Trigger(eventRestart)
}

// Result 完成后的结果
func (w *Wizard) Result() (Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result, w.machine.Is(StepDone)
}

// SaveResult 将结果写入文件
func SaveResult(path string, r Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode setup result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write setup result: %w", err)
	}
	return nil
}

// LoadResult 读取结果文件，文件不存在时返回 os.ErrNotExist
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode setup result %s: %w", path, err)
	}
	return &r, nil
}
