package pathsource

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/swervegazer/internal/pathing"
)

const sample = `{
  "name": "Two Ball",
  "generatedTimeline": [
    [{"type": "general", "data": {"time": 0, "driving": false, "position": {"x": 0, "y": 0}}}],
    [{"type": "general", "data": {"time": 1, "driving": true, "position": {"x": 0, "y": 0}}},
     {"type": "drive", "data": {"x": 39.37007874015748, "y": 0, "velocity": 39.37, "angle": 0}},
     {"type": "event", "data": {"name": "intake"}}],
    [{"type": "general", "data": {"time": 2, "driving": true, "position": {"x": 0, "y": 0}}},
     {"type": "drive", "data": {"x": 39.37007874015748, "y": 78.74015748031496, "angle": 1.5707963267948966}}]
  ]
}`

func TestDecode(t *testing.T) {
	p, err := Decode(strings.NewReader(sample), "two-ball")
	require.NoError(t, err)

	assert.Equal(t, "two-ball", p.ID)
	assert.Equal(t, "Two Ball", p.Name)
	assert.True(t, p.FieldRelative)
	require.Len(t, p.Conjugates, 3)
	assert.Equal(t, 2*time.Second, p.Duration())

	types := []pathing.ConjugateType{pathing.ConjugateStart, pathing.ConjugateEventTrigger, pathing.ConjugateEnd}
	for i, c := range p.Conjugates {
		assert.Equal(t, types[i], c.Type)
	}
	assert.Equal(t, "intake", p.Conjugates[1].Event)

	// 0 -> 1 m 向前 1 s
	assert.InDelta(t, 1, p.Conjugates[0].Speeds.VX, 1e-9)
	assert.InDelta(t, 0, p.Conjugates[0].Speeds.VY, 1e-9)
	// 1 -> 2 m 向左 1 s，同时转 90 度
	assert.InDelta(t, 2, p.Conjugates[1].Speeds.VY, 1e-9)
	assert.InDelta(t, 1.5707963267948966, p.Conjugates[1].Speeds.Omega, 1e-9)
	assert.Equal(t, 0.0, p.Conjugates[2].Speeds.VX)

	require.NotNil(t, p.Conjugates[2].Pose)
	assert.InDelta(t, 2, p.Conjugates[2].Pose.Y, 1e-9)
}

func TestDecodeRejectsNonMonotonic(t *testing.T) {
	doc := `{"generatedTimeline": [
	  [{"type": "general", "data": {"time": 0, "position": {"x": 0, "y": 0}}}],
	  [{"type": "general", "data": {"time": 5, "position": {"x": 1, "y": 0}}}],
	  [{"type": "general", "data": {"time": 4, "position": {"x": 2, "y": 0}}}]
	]}`
	_, err := Decode(strings.NewReader(doc), "bad")
	assert.ErrorIs(t, err, pathing.ErrPathValidation)

	_, err = Decode(strings.NewReader(`{"generatedTimeline": []}`), "empty")
	assert.ErrorIs(t, err, pathing.ErrPathValidation)

	_, err = Decode(strings.NewReader(`{`), "broken")
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "auto-left.json")
	require.NoError(t, os.WriteFile(file, []byte(sample), 0o644))

	p, err := LoadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "auto-left", p.ID)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
