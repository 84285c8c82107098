package pathsource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/swervegazer/internal/pathing"
)

func TestDirImportGetList(t *testing.T) {
	root := filepath.Join(t.TempDir(), "paths")
	d := NewDir(root, nil)

	paths, err := d.List()
	require.NoError(t, err, "missing directory lists nothing")
	assert.Empty(t, paths)

	p, err := d.Import("two-ball", []byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "Two Ball", p.Name)

	got, err := d.Get("two-ball")
	require.NoError(t, err)
	assert.Equal(t, p.Conjugates, got.Conjugates)

	_, err = d.Get("missing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	paths, err = d.List()
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "two-ball", paths[0].ID)
}

func TestDirRejectsBadInput(t *testing.T) {
	d := NewDir(t.TempDir(), nil)

	for _, id := range []string{"../etc/passwd", "a/b", "", ".hidden", "a..b"} {
		_, err := d.Get(id)
		assert.ErrorIs(t, err, ErrInvalidID, id)
	}

	_, err := d.Import("empty", []byte(`{"generatedTimeline": []}`))
	assert.ErrorIs(t, err, pathing.ErrPathValidation)
	_, err = os.Stat(filepath.Join(d.root, "empty.json"))
	assert.ErrorIs(t, err, os.ErrNotExist, "invalid files are not written")
}
