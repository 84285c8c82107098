package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/models"
	"github.com/langchou/swervegazer/internal/pathing"
	"github.com/langchou/swervegazer/internal/state"
	"github.com/langchou/swervegazer/internal/swerve"
	"github.com/langchou/swervegazer/internal/telemetry"
)

type fakeRuns struct {
	mu        sync.Mutex
	created   []models.AutonomousRun
	completed []models.AutonomousRun
}

func (f *fakeRuns) Create(_ context.Context, run *models.AutonomousRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *run)
	return nil
}

func (f *fakeRuns) Complete(_ context.Context, run *models.AutonomousRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, *run)
	return nil
}

func (f *fakeRuns) snapshot() ([]models.AutonomousRun, []models.AutonomousRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AutonomousRun(nil), f.created...), append([]models.AutonomousRun(nil), f.completed...)
}

type topicSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *topicSink) Publish(topic string, _ []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[topic]++
}

func (s *topicSink) count(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[topic]
}

func newTestService(t *testing.T, opts Options) *DrivetrainService {
	t.Helper()
	s := swerve.DefaultSettings(hardware.KindSparkMax)
	hc := swerve.SimHardware()
	bus := hardware.NewSimBus(time.Unix(0, 0))
	swerve.AttachSim(bus, s, hc)
	g, err := swerve.BuildGroup("test", s, hc, bus, swerve.BuildOptions{Clock: bus.Now})
	require.NoError(t, err)

	if opts.Period == 0 {
		opts.Period = 2 * time.Millisecond
	}
	opts.Sim = bus
	return NewDrivetrainService(zap.NewNop(), g, opts)
}

func startService(t *testing.T, svc *DrivetrainService) {
	t.Helper()
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)
}

func shortPath(d time.Duration) *pathing.Path {
	return &pathing.Path{
		ID:   "short",
		Name: "Short",
		Conjugates: []pathing.Conjugate{
			{Time: 0, Type: pathing.ConjugateStart, Speeds: swerve.ChassisSpeeds{VX: 1}},
			{Time: d / 2, Type: pathing.ConjugateEventTrigger, Event: "shoot", Speeds: swerve.ChassisSpeeds{VX: 1}},
			{Time: d, Type: pathing.ConjugateEnd},
		},
	}
}

func TestCommandsRequireRunningLoop(t *testing.T) {
	svc := newTestService(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, svc.LoadPath(ctx, shortPath(time.Second)), ErrNotRunning)
	_, err := svc.StartPath(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.LoadPath(ctx, shortPath(time.Second)))
	svc.Stop()
	svc.Stop()

	assert.ErrorIs(t, svc.AbortPath(ctx), ErrNotRunning)
}

func TestTeleopDrivesAndTimesOut(t *testing.T) {
	svc := newTestService(t, Options{TeleopTimeout: 100 * time.Millisecond})
	updates := svc.Subscribe()
	startService(t, svc)

	svc.SetTeleop(swerve.ChassisSpeeds{VX: 1})
	require.Eventually(t, func() bool {
		snap := svc.Snapshot()
		return snap != nil && snap.Commanded.VX == 1 && snap.Pose.X > 0.01
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case snap := <-updates:
		assert.NotNil(t, snap)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered to subscriber")
	}

	// 不再刷新遥控指令，超时后停车
	require.Eventually(t, func() bool {
		return svc.Snapshot().Commanded.IsZero()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHaltClearsTeleop(t *testing.T) {
	svc := newTestService(t, Options{TeleopTimeout: time.Minute})
	startService(t, svc)

	svc.SetTeleop(swerve.ChassisSpeeds{Omega: 1})
	require.Eventually(t, func() bool {
		return svc.Snapshot().Commanded.Omega == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Halt(context.Background()))
	require.Eventually(t, func() bool {
		return svc.Snapshot().Commanded.IsZero()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAutonomousRunLifecycle(t *testing.T) {
	runs := &fakeRuns{}
	sink := &topicSink{}
	svc := newTestService(t, Options{
		Runs:      runs,
		Telemetry: telemetry.NewFanout(zap.NewNop(), sink),
	})
	var mu sync.Mutex
	var fired []string
	svc.OnPathEvent("shoot", func(ev pathing.Event) {
		mu.Lock()
		fired = append(fired, ev.Name)
		mu.Unlock()
	})
	startService(t, svc)
	ctx := context.Background()

	_, err := svc.StartPath(ctx)
	assert.Error(t, err, "nothing loaded")

	require.NoError(t, svc.LoadPath(ctx, shortPath(200*time.Millisecond)))
	runID, err := svc.StartPath(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		return svc.Progress().State == state.StateCompleted
	}, 3*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, completed := runs.snapshot()
		return len(completed) == 1
	}, 2*time.Second, 5*time.Millisecond)

	created, completed := runs.snapshot()
	require.Len(t, created, 1)
	assert.Equal(t, runID, created[0].ID)
	assert.Equal(t, "short", created[0].PathID)
	assert.Equal(t, state.StateRunning, created[0].State)

	done := completed[0]
	assert.Equal(t, runID, done.ID)
	assert.Equal(t, state.StateCompleted, done.State)
	assert.Equal(t, []string{"shoot"}, done.FiredEvents)
	assert.InDelta(t, 0.2, done.ElapsedS, 1e-9)
	require.NotNil(t, done.EndX)
	assert.Greater(t, *done.EndX, 0.0)

	mu.Lock()
	assert.Equal(t, []string{"shoot"}, fired)
	mu.Unlock()

	recent := svc.RecentRuns()
	require.Len(t, recent, 1)
	assert.Equal(t, state.StateCompleted, recent[0].State)

	assert.Positive(t, sink.count(telemetry.TopicTelemetry))
	assert.Positive(t, sink.count(telemetry.TopicProgress))
	assert.GreaterOrEqual(t, sink.count(telemetry.TopicEvents), 4, "load, start, event, finish")
}

func TestAbortAndInvalidPath(t *testing.T) {
	runs := &fakeRuns{}
	svc := newTestService(t, Options{Runs: runs})
	startService(t, svc)
	ctx := context.Background()

	bad := shortPath(time.Second)
	bad.Conjugates[0].Type = pathing.ConjugateIntermediate
	err := svc.LoadPath(ctx, bad)
	assert.True(t, errors.Is(err, pathing.ErrPathValidation))
	assert.Equal(t, state.StateIdle, svc.Progress().State)

	require.NoError(t, svc.LoadPath(ctx, shortPath(time.Minute)))
	_, err = svc.StartPath(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.LoadPath(ctx, shortPath(time.Second)), pathing.ErrNotLoadable)

	require.NoError(t, svc.AbortPath(ctx))
	assert.Equal(t, state.StateAborted, svc.Progress().State)
	assert.True(t, svc.Progress().Commanded.IsZero())

	require.Eventually(t, func() bool {
		_, completed := runs.snapshot()
		return len(completed) == 1 && completed[0].State == state.StateAborted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopAbortsRunningPath(t *testing.T) {
	runs := &fakeRuns{}
	svc := newTestService(t, Options{Runs: runs})
	require.NoError(t, svc.Start(context.Background()))
	ctx := context.Background()

	require.NoError(t, svc.LoadPath(ctx, shortPath(time.Minute)))
	_, err := svc.StartPath(ctx)
	require.NoError(t, err)

	svc.Stop()
	assert.Equal(t, state.StateAborted, svc.Progress().State)

	// Stop 等待写入完成
	_, completed := runs.snapshot()
	require.Len(t, completed, 1)
	assert.Equal(t, state.StateAborted, completed[0].State)
}

func TestResetOdometry(t *testing.T) {
	svc := newTestService(t, Options{})
	startService(t, svc)

	pose := swerve.Pose{X: 1, Y: 2, Heading: 0.5}
	require.NoError(t, svc.ResetOdometry(context.Background(), pose))
	p := svc.Snapshot().Pose
	assert.InDelta(t, 1, p.X, 1e-6)
	assert.InDelta(t, 2, p.Y, 1e-6)
	assert.InDelta(t, 0.5, p.Heading, 1e-6)
}

func TestSpinMotor(t *testing.T) {
	svc := newTestService(t, Options{SpinDuration: 40 * time.Millisecond})
	ctx := context.Background()
	fl := swerve.SimHardware().Ports[swerve.FrontLeft]

	_, err := svc.SpinMotor(ctx, fl.Steer, fl.Encoder, 0.3)
	assert.ErrorIs(t, err, ErrNotRunning)

	startService(t, svc)
	res, err := svc.SpinMotor(ctx, fl.Steer, fl.Encoder, 0.3)
	require.NoError(t, err)
	assert.Greater(t, res.MotorRotations, 0.1)
	assert.Greater(t, res.EncoderDegrees, 1.0)
	assert.Equal(t, 0.0, svc.sim.Duty(fl.Drive))

	_, err = svc.SpinMotor(ctx, 30, fl.Encoder, 0.3)
	assert.ErrorIs(t, err, hardware.ErrDisconnected)

	require.NoError(t, svc.LoadPath(ctx, shortPath(time.Minute)))
	_, err = svc.StartPath(ctx)
	require.NoError(t, err)
	_, err = svc.SpinMotor(ctx, fl.Steer, fl.Encoder, 0.3)
	assert.ErrorIs(t, err, ErrMotorTestBusy)
}
