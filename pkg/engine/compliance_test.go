package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	assert.Equal(t, []string{"ISO 27001", "NIST CSF"}, c.ListFrameworks())
	assert.Greater(t, c.Size(), 30)

	iso, ok := c.GetFramework("ISO 27001")
	require.True(t, ok)
	for _, ctrl := range iso.Controls {
		assert.NotEmpty(t, ctrl.ID)
		assert.NotEmpty(t, ctrl.Description)
	}
}

func TestLoadDirOverridesFramework(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("framework: NIST CSF\ncontrols:\n  - id: X.1\n    name: Custom\n    description: custom control\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nist.yml"), custom, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600))

	c, err := DefaultCatalog()
	require.NoError(t, err)
	require.NoError(t, c.LoadDir(dir))

	fw, ok := c.GetFramework("NIST CSF")
	require.True(t, ok)
	require.Len(t, fw.Controls, 1)
	assert.Equal(t, "X.1", fw.Controls[0].ID)
}

func TestLoadDirRejectsNamelessFramework(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("controls: []\n"), 0600))
	assert.Error(t, NewCatalog().LoadDir(dir))
}
