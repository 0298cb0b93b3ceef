package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "lightsout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runSweepCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	cmd := NewSweepCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func TestSweepEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "kv.db")
	cfgPath := writeConfigFile(t, dir, fmt.Sprintf("storage:\n  backend: sqlite\n  path: %s\n", dbPath))

	out, err := runSweepCmd(t, "text", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 expired record(s)")
}

func TestSweepRejectsMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfigFile(t, dir, "storage:\n  backend: memory\n")

	_, err := runSweepCmd(t, "text", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "persistent backend")
}

func TestSweepBadConfigPath(t *testing.T) {
	_, err := runSweepCmd(t, "text", "--config", "/nonexistent/lightsout.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "loading config")
}
