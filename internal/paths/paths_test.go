package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataDirFollowsXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg-data/helmforge", dir)
}

func TestDataDirFallsBackToHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/someone")
	dir, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/someone", ".local", "share", "helmforge"), dir)
	assert.Equal(t, filepath.Join(dir, "keys"), KeyDir(dir))
}
