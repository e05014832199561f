package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadJsonFile(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	in := map[string]int{"a": 1, "b": 2}
	require.NoError(t, fs.WriteJsonFile(path, in))

	exists, err := fs.IsFileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	var out map[string]int
	require.NoError(t, fs.ReadJsonFile(path, &out))
	assert.Equal(t, in, out)
}

func TestReadYamlFile(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\ncount: 3\n"), 0o600))

	var out struct {
		Name  string `yaml:"name"`
		Count int    `yaml:"count"`
	}
	require.NoError(t, fs.ReadYamlFile(path, &out))
	assert.Equal(t, "x", out.Name)
	assert.Equal(t, 3, out.Count)
}

func TestGetFileHash(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "h.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	hash, err := fs.GetFileHash(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)
}

func TestIsFileExists_Missing(t *testing.T) {
	exists, err := NewFileService().IsFileExists(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListFilesAndRemoveFile(t *testing.T) {
	fs := NewFileService()
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.json"), 0o755))

	names, err := fs.ListFiles(dir, ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, names)

	require.NoError(t, fs.RemoveFile(filepath.Join(dir, "a.json")))
	names, err = fs.ListFiles(dir, ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.json"}, names)

	missing, err := fs.ListFiles(filepath.Join(dir, "absent"), ".json")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
