package setup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/swerve"
)

func boolPtr(b bool) *bool { return &b }

func submit(t *testing.T, w *Wizard, a Answer) Prompt {
	t.Helper()
	p, err := w.Submit(context.Background(), a)
	require.NoError(t, err)
	return p
}

func passAllPortTests(t *testing.T, w *Wizard) Prompt {
	t.Helper()
	var p Prompt
	for i := 0; i < 8; i++ {
		p = submit(t, w, Answer{Step: StepPortTest, Passed: boolPtr(true)})
	}
	return p
}

func TestWizardHappyPath(t *testing.T) {
	hc := swerve.SimHardware()
	captured := [4]float64{10, 370, -190, 45}
	w := NewWizard(hc, func() ([4]float64, error) { return captured, nil }, nil, nil)

	p := w.Current()
	assert.Equal(t, StepPorts, p.Step)

	ports := hc.Ports
	p = submit(t, w, Answer{Step: StepPorts, Ports: &ports})
	require.Equal(t, StepPortTest, p.Step)
	require.NotNil(t, p.PendingTest)
	assert.Equal(t, PortTest{Module: swerve.FrontLeft, Motor: MotorDrive}, *p.PendingTest)

	p = submit(t, w, Answer{Step: StepPortTest, Passed: boolPtr(true)})
	assert.Equal(t, PortTest{Module: swerve.FrontLeft, Motor: MotorTurn}, *p.PendingTest)

	for i := 1; i < 8; i++ {
		p = submit(t, w, Answer{Step: StepPortTest, Passed: boolPtr(true)})
	}
	require.Equal(t, StepEncoderDirection, p.Step)

	p = submit(t, w, Answer{Step: StepEncoderDirection, EncoderInverted: boolPtr(true)})
	require.Equal(t, StepOffsets, p.Step)

	p = submit(t, w, Answer{Step: StepOffsets, Capture: true})
	require.Equal(t, StepReview, p.Step)
	require.NotNil(t, p.Result)
	assert.Equal(t, [4]float64{10, 10, 170, 45}, p.Result.Offsets)

	p = submit(t, w, Answer{Step: StepReview, Confirm: boolPtr(true)})
	assert.Equal(t, StepDone, p.Step)

	r, done := w.Result()
	require.True(t, done)
	assert.True(t, r.EncoderInverted)
	assert.Equal(t, hc.Ports, r.Ports)
	assert.NotNil(t, r.CompletedAt)

	_, err := w.Submit(context.Background(), Answer{Step: StepDone})
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestWizardPortTestFailureReturnsToPorts(t *testing.T) {
	hc := swerve.SimHardware()
	w := NewWizard(hc, nil, nil, nil)
	ports := hc.Ports
	submit(t, w, Answer{Step: StepPorts, Ports: &ports})
	submit(t, w, Answer{Step: StepPortTest, Passed: boolPtr(true)})

	p := submit(t, w, Answer{Step: StepPortTest, Passed: boolPtr(false)})
	assert.Equal(t, StepPorts, p.Step)

	// 重新输入后测试从头开始
	p = submit(t, w, Answer{Step: StepPorts, Ports: &ports})
	assert.Equal(t, PortTest{Module: swerve.FrontLeft, Motor: MotorDrive}, *p.PendingTest)
}

// busTester 直接在模拟总线上转动电机，每 20ms 推进一次模拟并采样
type busTester struct {
	bus   *hardware.SimBus
	ticks int
}

func (b busTester) SpinMotor(_ context.Context, motorPort, encoderPort int, duty float64) (hardware.SpinResult, error) {
	meter, err := hardware.NewSpinMeter(b.bus, motorPort, encoderPort)
	if err != nil {
		return hardware.SpinResult{}, err
	}
	if err := b.bus.Write(motorPort, hardware.SignalDuty, duty); err != nil {
		return hardware.SpinResult{}, err
	}
	for i := 0; i < b.ticks; i++ {
		b.bus.Step(20 * time.Millisecond)
		if err := meter.Sample(b.bus); err != nil {
			return hardware.SpinResult{}, err
		}
	}
	return meter.Result(), b.bus.Write(motorPort, hardware.SignalDuty, 0)
}

func newSimWizard(t *testing.T, rewire func(bus *hardware.SimBus, hc swerve.HardwareConfig)) *Wizard {
	t.Helper()
	hc := swerve.SimHardware()
	bus := hardware.NewSimBus(time.Unix(0, 0))
	swerve.AttachSim(bus, swerve.DefaultSettings(hardware.KindSparkMax), hc)
	if rewire != nil {
		rewire(bus, hc)
	}
	w := NewWizard(hc, nil, busTester{bus: bus, ticks: 50}, nil)
	ports := hc.Ports
	submit(t, w, Answer{Step: StepPorts, Ports: &ports})
	return w
}

func TestWizardPortTestSpinsMotors(t *testing.T) {
	w := newSimWizard(t, nil)
	assert.Contains(t, w.Current().Message, "30% output")

	var p Prompt
	for i := 0; i < 8; i++ {
		p = submit(t, w, Answer{Step: StepPortTest})
	}
	assert.Equal(t, StepEncoderDirection, p.Step)
}

func TestWizardPortTestAutoFail(t *testing.T) {
	tests := []struct {
		name   string
		rewire func(bus *hardware.SimBus, hc swerve.HardwareConfig)
		passes int
		want   string
	}{
		{
			name: "encoder wired to the wrong motor",
			rewire: func(bus *hardware.SimBus, hc swerve.HardwareConfig) {
				fl := hc.Ports[swerve.FrontLeft]
				bus.AddEncoder(fl.Encoder, fl.Drive, 12.8, 0)
			},
			passes: 1,
			want:   "Front Left turn: Encoder is not updating!",
		},
		{
			name: "stalled drive motor",
			rewire: func(bus *hardware.SimBus, hc swerve.HardwareConfig) {
				bus.AddMotor(hc.Ports[swerve.FrontRight].Drive, 0)
			},
			passes: 2,
			want:   "Front Right drive: Motor is not moving!",
		},
		{
			name: "disconnected steer motor",
			rewire: func(bus *hardware.SimBus, hc swerve.HardwareConfig) {
				bus.InjectFault(hc.Ports[swerve.FrontLeft].Steer, hardware.ErrDisconnected)
			},
			passes: 1,
			want:   "Front Left turn: Motor or encoder is not responding!",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newSimWizard(t, tt.rewire)
			for i := 0; i < tt.passes; i++ {
				submit(t, w, Answer{Step: StepPortTest})
			}

			p, err := w.Submit(context.Background(), Answer{Step: StepPortTest})
			assert.ErrorIs(t, err, ErrPortTestFailed)
			assert.Equal(t, StepPorts, p.Step)
			assert.Equal(t, tt.want, p.Failure)

			// 重新输入端口后清除失败原因
			ports := swerve.SimHardware().Ports
			p = submit(t, w, Answer{Step: StepPorts, Ports: &ports})
			assert.Empty(t, p.Failure)
			assert.Equal(t, PortTest{Module: swerve.FrontLeft, Motor: MotorDrive}, *p.PendingTest)
		})
	}
}

func TestWizardReviewRedo(t *testing.T) {
	hc := swerve.SimHardware()
	w := NewWizard(hc, nil, nil, nil)
	ports := hc.Ports
	submit(t, w, Answer{Step: StepPorts, Ports: &ports})
	passAllPortTests(t, w)
	submit(t, w, Answer{Step: StepEncoderDirection, EncoderInverted: boolPtr(false)})

	first := [4]float64{1, 2, 3, 4}
	submit(t, w, Answer{Step: StepOffsets, Offsets: &first})
	p := submit(t, w, Answer{Step: StepReview, Confirm: boolPtr(false)})
	assert.Equal(t, StepOffsets, p.Step)

	second := [4]float64{5, 6, 7, 8}
	p = submit(t, w, Answer{Step: StepOffsets, Offsets: &second})
	assert.Equal(t, second, p.Result.Offsets)
}

func TestWizardRejectsBadAnswers(t *testing.T) {
	hc := swerve.SimHardware()
	w := NewWizard(hc, nil, nil, nil)

	_, err := w.Submit(context.Background(), Answer{Step: StepOffsets})
	assert.ErrorIs(t, err, ErrWrongStep)

	dup := hc.Ports
	dup[1].Drive = dup[0].Drive
	p, err := w.Submit(context.Background(), Answer{Step: StepPorts, Ports: &dup})
	assert.Error(t, err)
	assert.Equal(t, StepPorts, p.Step)

	_, err = w.Submit(context.Background(), Answer{Step: StepPorts})
	assert.Error(t, err)

	ports := hc.Ports
	submit(t, w, Answer{Step: StepPorts, Ports: &ports})
	passAllPortTests(t, w)
	submit(t, w, Answer{Step: StepEncoderDirection, EncoderInverted: boolPtr(false)})

	_, err = w.Submit(context.Background(), Answer{Step: StepOffsets, Capture: true})
	assert.Error(t, err, "capture without a source")
	assert.Equal(t, StepOffsets, w.Current().Step)

	require.NoError(t, w.Restart())
	assert.Equal(t, StepPorts, w.Current().Step)
}

func TestWizardCaptureError(t *testing.T) {
	hc := swerve.SimHardware()
	boom := errors.New("encoder offline")
	w := NewWizard(hc, func() ([4]float64, error) { return [4]float64{}, boom }, nil, nil)
	ports := hc.Ports
	submit(t, w, Answer{Step: StepPorts, Ports: &ports})
	passAllPortTests(t, w)
	submit(t, w, Answer{Step: StepEncoderDirection, EncoderInverted: boolPtr(false)})

	_, err := w.Submit(context.Background(), Answer{Step: StepOffsets, Capture: true})
	assert.ErrorIs(t, err, boom)
}

func TestResultApplyAndPersist(t *testing.T) {
	s := swerve.DefaultSettings(hardware.KindSparkMax)
	hc := swerve.SimHardware()
	r := Result{
		Ports:           hc.Ports,
		EncoderInverted: true,
		Offsets:         [4]float64{1, 2, 3, 4},
	}
	r.Ports[0].Drive = 20

	s2, hc2 := r.Apply(s, hc)
	assert.True(t, s2.EncoderInverted)
	assert.Equal(t, r.Offsets, s2.AngleOffsets)
	assert.Equal(t, 20, hc2.Ports[0].Drive)
	assert.False(t, s.EncoderInverted, "input settings untouched")
	assert.NotEqual(t, 20, hc.Ports[0].Drive)

	file := filepath.Join(t.TempDir(), "setup.json")
	_, err := LoadResult(file)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, SaveResult(file, r))
	got, err := LoadResult(file)
	require.NoError(t, err)
	assert.Equal(t, r, *got)
}
