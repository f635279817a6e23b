package irpass

import (
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitterWritesSchemaLine(t *testing.T) {
	fset := token.NewFileSet()
	file := fset.AddFile("p.go", -1, 100)
	pos := file.Pos(10)
	file.AddLine(5)

	dir := t.TempDir()
	e := NewEmitter(fset)
	e.SchemaPath = filepath.Join(dir, "schema.txt")

	res := &Result{
		Variables: []Variable{
			{Function: "p.f", Name: "total", Type: "int", Pos: pos, Tags: map[string]bool{"loop": true}},
		},
		Globals: []GlobalRef{
			{Name: "conf1", Type: "int"},
		},
	}

	require.NoError(t, e.Write(res))

	data, err := os.ReadFile(e.SchemaPath)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "total")
	require.Contains(t, content, "loop")
	require.Contains(t, content, "conf1")
	require.Contains(t, content, "globalvar")
}

func TestEmitterSkipsNonMatchingSuffix(t *testing.T) {
	fset := token.NewFileSet()
	file := fset.AddFile("p.cc", -1, 100)
	pos := file.Pos(10)

	dir := t.TempDir()
	e := NewEmitter(fset)
	e.SchemaPath = filepath.Join(dir, "schema.txt")
	e.SourceSuffix = ".go"

	res := &Result{
		Variables: []Variable{
			{Function: "p.f", Name: "x", Type: "int", Pos: pos, Tags: map[string]bool{"arg": true}},
		},
	}
	require.NoError(t, e.Write(res))

	data, err := os.ReadFile(e.SchemaPath)
	require.NoError(t, err)
	require.Empty(t, string(data))
}

func TestMergeTagsOrdersLoopCondArg(t *testing.T) {
	tags := map[string]bool{"arg": true, "loop": true}
	require.Equal(t, "loop|arg", mergeTags(tags))
}

func TestSanitizeTypeReplacesSpacesAndDefaults(t *testing.T) {
	require.Equal(t, "uintptr", sanitizeType(""))
	require.Equal(t, "foo#bar", sanitizeType("foo bar"))
}
