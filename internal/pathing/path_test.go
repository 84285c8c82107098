package pathing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/swervegazer/internal/swerve"
)

func TestPathValidate(t *testing.T) {
	tests := []struct {
		name  string
		cs    []Conjugate
		index int
	}{
		{"empty", nil, -1},
		{"first not start", []Conjugate{
			{Time: 0, Type: ConjugateIntermediate},
			{Time: time.Second, Type: ConjugateEnd},
		}, 0},
		{"last not end", []Conjugate{
			{Time: 0, Type: ConjugateStart},
			{Time: time.Second, Type: ConjugateIntermediate},
		}, 1},
		{"duplicate timestamp", []Conjugate{
			{Time: 0, Type: ConjugateStart},
			{Time: time.Second, Type: ConjugateEventTrigger},
			{Time: time.Second, Type: ConjugateEnd},
		}, 2},
		{"start in the middle", []Conjugate{
			{Time: 0, Type: ConjugateStart},
			{Time: time.Second, Type: ConjugateStart},
			{Time: 2 * time.Second, Type: ConjugateEnd},
		}, 1},
		{"unknown type", []Conjugate{
			{Time: 0, Type: ConjugateStart},
			{Time: time.Second, Type: "teleport"},
			{Time: 2 * time.Second, Type: ConjugateEnd},
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Path{ID: "p", Conjugates: tt.cs}
			err := p.Validate()
			require.ErrorIs(t, err, ErrPathValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.index, verr.Index)
		})
	}

	assert.NoError(t, scenarioPath().Validate())
}

func TestPathSample(t *testing.T) {
	p := &Path{
		FieldRelative: true,
		Conjugates: []Conjugate{
			{Time: 0, Type: ConjugateStart, Speeds: swerve.ChassisSpeeds{VX: 1}},
			{Time: time.Second, Type: ConjugateIntermediate, Speeds: swerve.ChassisSpeeds{VX: 3, Omega: 1}},
			{Time: 3 * time.Second, Type: ConjugateEnd, Speeds: swerve.ChassisSpeeds{VY: 2}},
		},
	}

	s := p.Sample(500 * time.Millisecond)
	assert.InDelta(t, 2, s.VX, 1e-12)
	assert.InDelta(t, 0.5, s.Omega, 1e-12)
	assert.True(t, s.FieldRelative)

	s = p.Sample(2 * time.Second)
	assert.InDelta(t, 1.5, s.VX, 1e-12)
	assert.InDelta(t, 1, s.VY, 1e-12)

	assert.Equal(t, swerve.ChassisSpeeds{VX: 3, Omega: 1, FieldRelative: true}, p.Sample(time.Second))
	assert.Equal(t, swerve.ChassisSpeeds{VX: 1, FieldRelative: true}, p.Sample(-time.Second))
	assert.Equal(t, swerve.ChassisSpeeds{VY: 2, FieldRelative: true}, p.Sample(time.Hour))
	assert.Equal(t, 3*time.Second, p.Duration())
}

func TestConjugateJSONUsesSeconds(t *testing.T) {
	data := []byte(`{"time": 1.5, "type": "event_trigger", "event": "shoot", "speeds": {"vx": 1}}`)
	var c Conjugate
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, 1500*time.Millisecond, c.Time)
	assert.Equal(t, ConjugateEventTrigger, c.Type)
	assert.Equal(t, "shoot", c.EventName(3))
	assert.Equal(t, 1.0, c.Speeds.VX)

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"time":1.5`)

	assert.Equal(t, "event-3", Conjugate{}.EventName(3))
}
