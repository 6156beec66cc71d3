package ignore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/engine/internal/ignore"
)

func TestDefaultPatternsExcludeVCSAndState(t *testing.T) {
	root := t.TempDir()
	m, err := ignore.New(root)
	require.NoError(t, err)

	assert.True(t, m.Ignored(".git/HEAD", false))
	assert.True(t, m.Ignored(".DS_Store", false))
	assert.True(t, m.Ignored("docs/Thumbs.db", false))
	assert.True(t, m.Ignored("build/output.tmp", false))
	assert.True(t, m.Ignored("notes.partial", false))
	assert.True(t, m.Ignored("~lock", false))
	assert.True(t, m.Ignored(".syncengine/state.db", false))

	assert.False(t, m.Ignored("docs/report.pdf", false))
}

func TestSymlinksAlwaysIgnored(t *testing.T) {
	root := t.TempDir()
	m, err := ignore.New(root)
	require.NoError(t, err)

	assert.True(t, m.Ignored("anything.txt", true))
}

func TestUserPatternFileExtendsDefaults(t *testing.T) {
	root := t.TempDir()

	err := os.WriteFile(filepath.Join(root, ".syncignore"), []byte(
		"# comment line\n\nbuild/\n*.log\n"), 0o644)
	require.NoError(t, err)

	m, err := ignore.New(root)
	require.NoError(t, err)

	assert.True(t, m.Ignored("debug.log", false))
	assert.False(t, m.Ignored("keep.txt", false))
}

func TestReloadPicksUpChanges(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".syncignore")

	require.NoError(t, os.WriteFile(path, []byte("*.bak\n"), 0o644))

	m, err := ignore.New(root)
	require.NoError(t, err)

	assert.True(t, m.Ignored("file.bak", false))
	assert.False(t, m.Ignored("file.log", false))

	require.NoError(t, os.WriteFile(path, []byte("*.log\n"), 0o644))
	require.NoError(t, m.Reload())

	assert.True(t, m.Ignored("file.log", false))
}

func TestMissingUserFileIsNotAnError(t *testing.T) {
	root := t.TempDir()
	_, err := ignore.New(root)
	require.NoError(t, err)
}
