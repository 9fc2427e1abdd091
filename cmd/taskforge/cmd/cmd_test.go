package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir switches to dir for the duration of the test, restoring the
// previous working directory on cleanup (t.Chdir needs Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestRootCommandHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "doctor", "version", "init"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestInitWritesDefaultConfig(t *testing.T) {
	chdir(t, t.TempDir())

	require.NoError(t, runInit(nil, nil))
	assert.FileExists(t, ".taskforge.yaml")

	// A second run without --force must refuse to overwrite.
	err := runInit(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	initForce = true
	defer func() { initForce = false }()
	require.NoError(t, runInit(nil, nil))
}

func TestLoadConfigAppliesFlagOverrides(t *testing.T) {
	chdir(t, t.TempDir())

	logLevel = "debug"
	defer func() { logLevel = "" }()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  kind: nonsense\n"), 0o644))

	cfgFile = path
	defer func() { cfgFile = "" }()

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.kind")
}
