package knobprof

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stealthrocket/knobprof/internal/dwarfexpr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "info.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigMatchingProgram(t *testing.T) {
	path := writeTempConfig(t, "myapp\n0x4000500:0x4000520:0x91:-24:4\n")

	cfg, matched, err := LoadConfig(path, "myapp")
	require.NoError(t, err)
	require.True(t, matched)
	vars := cfg.Variables()
	require.Len(t, vars, 1)

	v := vars[0]
	assert.Equal(t, dwarfexpr.FBREG, v.Atom)
	assert.EqualValues(t, -24, v.Addr)
	assert.EqualValues(t, 4, v.Size)
}

func TestLoadConfigProgramMismatchIsSoftDisable(t *testing.T) {
	path := writeTempConfig(t, "otherapp\n0x4000500:0x4000520:0x91:-24:4\n")

	cfg, matched, err := LoadConfig(path, "myapp")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Empty(t, cfg.Variables())
}

func TestLoadConfigShadowRecord(t *testing.T) {
	path := writeTempConfig(t, "myapp\n0x4000500:0x4000500:0x03:0x10:0\n")

	cfg, matched, err := LoadConfig(path, "myapp")
	require.NoError(t, err)
	require.True(t, matched)
	shadows := cfg.Shadows()
	require.Len(t, shadows, 1)
	assert.Equal(t, dwarfexpr.ADDR, shadows[0].Atom)
}

func TestLoadConfigMalformedLineSkipped(t *testing.T) {
	path := writeTempConfig(t, "myapp\nnot-a-valid-line\n0x4000500:0x4000520:0x91:-24:4\n")

	cfg, matched, err := LoadConfig(path, "myapp")
	require.NoError(t, err)
	require.True(t, matched)
	assert.Len(t, cfg.Variables(), 1)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, _, err := LoadConfig("/no/such/path/info.txt", "myapp")
	assert.Error(t, err)
}
