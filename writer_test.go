package knobprof

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGmonPathDefault(t *testing.T) {
	os.Unsetenv("GMON_OUT_PREFIX")
	got := gmonPath(1234)
	assert.Equal(t, "/tmp/vprof/gmon/gmon.1234.out", got)
}

func TestGmonPathHonorsPrefix(t *testing.T) {
	t.Setenv("GMON_OUT_PREFIX", "/tmp/custom/gmon")
	got := gmonPath(1234)
	if isSUID() {
		t.Skip("running setuid, prefix override intentionally ignored")
	}
	assert.Equal(t, "/tmp/custom/gmon.1234", got)
}

func TestGmonVarPathDefault(t *testing.T) {
	os.Unsetenv("GMON_VAR_PREFIX")
	got := gmonVarPath(5678)
	assert.Equal(t, "/tmp/vprof/gmon_var/gmon_var.5678.out", got)
}
