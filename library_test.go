package nodegraph

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildLibrary(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const libraryScript = `
builder "lib_test/Add" {
  kind              = "compute"
  program           = "lib_test/add"
  grid_element_size = 4

  port "in" {
    binding   = 0
    direction = "in"
    type      = "Buffer"
  }
}
`

func TestLoadLibraryReader(t *testing.T) {
	s := newTestSession(t)
	data := buildLibrary(t, map[string]string{
		"library.yaml":      "name: lib_test\ndescription: test nodes\n",
		"lib_test/add.wgsl": testAddWGSL,
		"nodes/add.hcl":     libraryScript,
		"README.txt":        "ignored",
	})

	lib, err := s.LoadLibraryReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "lib_test", lib.Manifest.Name)
	assert.Equal(t, "test nodes", lib.Manifest.Description)
	assert.Equal(t, []string{"lib_test/add"}, lib.Programs)
	assert.Equal(t, []string{"lib_test/Add"}, lib.Builders)

	assert.True(t, s.HasProgram("lib_test/add"))
	assert.True(t, s.HasBuilder("lib_test/Add"))
}

func TestLoadLibrary_ManifestSelection(t *testing.T) {
	s := newTestSession(t)
	data := buildLibrary(t, map[string]string{
		"library.yaml": "name: picky\nprograms: [a.wgsl]\nscripts: []\n",
		"a.wgsl":       testAddWGSL,
		"b.wgsl":       testAddWGSL,
	})

	lib, err := s.LoadLibraryReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, lib.Programs)
	assert.False(t, s.HasProgram("b"))
}

func TestLoadLibrary_Errors(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
	}{
		{"bad manifest", map[string]string{"library.yaml": "name: [unterminated"}},
		{"missing entry", map[string]string{"library.yaml": "programs: [nope.wgsl]\n"}},
		{"bad script", map[string]string{"x.hcl": `builder "x" {`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			data := buildLibrary(t, tt.entries)
			_, err := s.LoadLibraryReader(bytes.NewReader(data), int64(len(data)))
			assert.ErrorIs(t, err, ErrInvalidScript)
		})
	}

	s := newTestSession(t)
	_, err := s.LoadLibraryReader(bytes.NewReader([]byte("not a zip")), 9)
	assert.Error(t, err)
}

func TestLoadLibrary_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.zip")
	require.NoError(t, os.WriteFile(path, buildLibrary(t, map[string]string{
		"lib_test/add.wgsl": testAddWGSL,
		"add.hcl":           libraryScript,
	}), 0o600))

	s := newTestSession(t)
	require.NoError(t, s.LoadLibrary(path))
	assert.True(t, s.HasBuilder("lib_test/Add"))

	assert.Error(t, s.LoadLibrary(filepath.Join(t.TempDir(), "missing.zip")))
}
