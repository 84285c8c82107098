package pathing

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/swervegazer/internal/hardware"
	"github.com/langchou/swervegazer/internal/state"
	"github.com/langchou/swervegazer/internal/swerve"
)

type fakeDriver struct {
	cmds []swerve.ChassisSpeeds
	pose swerve.Pose
	err  error
}

func (d *fakeDriver) Drive(cmd swerve.ChassisSpeeds, dt time.Duration) error {
	d.cmds = append(d.cmds, cmd)
	return d.err
}

func (d *fakeDriver) Pose() swerve.Pose { return d.pose }

func (d *fakeDriver) last() swerve.ChassisSpeeds {
	return d.cmds[len(d.cmds)-1]
}

func newEngine(t *testing.T) (*Engine, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{}
	return NewEngine(swerve.DefaultSettings(hardware.KindTalonFX), d), d
}

// scenarioPath 0 s 起点、2 s 事件、4 s 终点
func scenarioPath() *Path {
	return &Path{
		ID: "scenario",
		Conjugates: []Conjugate{
			{Time: 0, Type: ConjugateStart},
			{Time: 2 * time.Second, Type: ConjugateEventTrigger, Event: "intake", Speeds: swerve.ChassisSpeeds{VX: 1}},
			{Time: 4 * time.Second, Type: ConjugateEnd},
		},
	}
}

func TestEngineScenario(t *testing.T) {
	e, d := newEngine(t)
	var fired []Event
	e.On("intake", func(ev Event) { fired = append(fired, ev) })
	var all int
	e.On("", func(Event) { all++ })

	require.NoError(t, e.Load(scenarioPath()))
	assert.Equal(t, state.StateLoaded, e.State())
	runID, err := e.Start()
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	// 30 ms 一帧，不与事件时间对齐
	const dt = 30 * time.Millisecond
	for i := 0; i < 200 && e.State() == state.StateRunning; i++ {
		require.NoError(t, e.Tick(dt))
		if e.Elapsed() < 2*time.Second {
			assert.Empty(t, fired)
		}
	}

	require.Len(t, fired, 1)
	assert.Equal(t, 1, all)
	assert.GreaterOrEqual(t, fired[0].FiredAt, 2*time.Second)
	assert.Less(t, fired[0].FiredAt, 2*time.Second+dt)
	assert.Equal(t, runID, fired[0].RunID)

	assert.Equal(t, state.StateCompleted, e.State())
	assert.Equal(t, 4*time.Second, e.Elapsed())
	assert.Equal(t, swerve.ChassisSpeeds{}, d.last())

	// 终止后时钟不再推进，也不再下发指令
	n := len(d.cmds)
	assert.ErrorIs(t, e.Tick(dt), ErrNotRunning)
	assert.Equal(t, 4*time.Second, e.Elapsed())
	assert.Len(t, d.cmds, n)

	p := e.Progress()
	assert.Equal(t, state.StateCompleted, p.State)
	assert.Equal(t, []string{"intake"}, p.Fired)
	assert.InDelta(t, 4, p.ElapsedSeconds, 1e-9)
}

func TestEngineInterpolates(t *testing.T) {
	e, d := newEngine(t)
	require.NoError(t, e.Load(scenarioPath()))
	_, err := e.Start()
	require.NoError(t, err)

	require.NoError(t, e.Tick(time.Second))
	assert.InDelta(t, 0.5, d.last().VX, 1e-9)
	require.NoError(t, e.Tick(2*time.Second))
	assert.InDelta(t, 0.5, d.last().VX, 1e-9)
}

func TestEngineOvershootFiresOnce(t *testing.T) {
	e, _ := newEngine(t)
	var fired int
	e.On("intake", func(Event) { fired++ })
	require.NoError(t, e.Load(scenarioPath()))
	_, err := e.Start()
	require.NoError(t, err)

	// 一帧跨过事件和终点
	require.NoError(t, e.Tick(10*time.Second))
	assert.Equal(t, 1, fired)
	assert.Equal(t, state.StateCompleted, e.State())
	assert.Equal(t, 4*time.Second, e.Elapsed())
}

func TestEngineRejectsInvalidPath(t *testing.T) {
	e, _ := newEngine(t)

	nonMonotonic := &Path{ID: "bad", Conjugates: []Conjugate{
		{Time: 0, Type: ConjugateStart},
		{Time: 5 * time.Second, Type: ConjugateIntermediate},
		{Time: 4 * time.Second, Type: ConjugateEnd},
	}}
	err := e.Load(nonMonotonic)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPathValidation))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 2, verr.Index)
	assert.Equal(t, state.StateIdle, e.State())

	single := &Path{ID: "short", Conjugates: []Conjugate{{Time: 0, Type: ConjugateStart}}}
	assert.ErrorIs(t, e.Load(single), ErrPathValidation)
	assert.Equal(t, state.StateIdle, e.State())
}

func TestEngineAbort(t *testing.T) {
	e, d := newEngine(t)
	assert.Error(t, e.Abort(), "nothing to abort while idle")

	require.NoError(t, e.Load(scenarioPath()))
	_, err := e.Start()
	require.NoError(t, err)
	require.NoError(t, e.Tick(time.Second))
	require.NotEqual(t, swerve.ChassisSpeeds{}, d.last())

	require.NoError(t, e.Abort())
	assert.Equal(t, state.StateAborted, e.State())
	assert.Equal(t, swerve.ChassisSpeeds{}, d.last())
	assert.ErrorIs(t, e.Tick(time.Second), ErrNotRunning)

	// 终止状态不会自动重新开始，需要重新加载
	_, err = e.Start()
	assert.Error(t, err)
	require.NoError(t, e.Load(scenarioPath()))
	assert.Equal(t, state.StateLoaded, e.State())
	assert.Equal(t, time.Duration(0), e.Elapsed())
}

func TestEngineRejectsLoadWhileRunning(t *testing.T) {
	e, _ := newEngine(t)
	require.NoError(t, e.Load(scenarioPath()))
	_, err := e.Start()
	require.NoError(t, err)
	assert.ErrorIs(t, e.Load(scenarioPath()), ErrNotLoadable)
	assert.Equal(t, state.StateRunning, e.State())
}

func TestEngineRotationGoal(t *testing.T) {
	e, d := newEngine(t)
	goal := math.Pi / 2
	p := scenarioPath()
	p.RotationGoal = &goal
	require.NoError(t, e.Load(p))
	_, err := e.Start()
	require.NoError(t, err)

	require.NoError(t, e.Tick(100*time.Millisecond))
	// 误差 π/2 × 2 超过最大角速度 π，被限幅
	assert.InDelta(t, math.Pi, d.last().Omega, 1e-9)

	d.pose.Heading = goal - 0.1
	require.NoError(t, e.Tick(100*time.Millisecond))
	assert.InDelta(t, 0.2, d.last().Omega, 1e-9)
}

func TestEngineDriverFaultKeepsRunning(t *testing.T) {
	e, d := newEngine(t)
	require.NoError(t, e.Load(scenarioPath()))
	_, err := e.Start()
	require.NoError(t, err)

	d.err = errors.New("module fault")
	assert.Error(t, e.Tick(time.Second))
	assert.Equal(t, state.StateRunning, e.State())
}

func TestEngineDoesNotAliasPath(t *testing.T) {
	e, _ := newEngine(t)
	p := scenarioPath()
	require.NoError(t, e.Load(p))
	p.Conjugates[1].Event = "changed"
	assert.Equal(t, "intake", e.Path().Conjugates[1].Event)
}
