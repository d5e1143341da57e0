package config

import (
	"os"
	"path/filepath"
	"testing"

	"cleanloop/internal/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_SaveLoadListDelete(t *testing.T) {
	tempDir := t.TempDir()
	ds := NewStorageWithPath(tempDir)

	require.NoError(t, ds.Save("runs", "b-run", []byte("id: b")))
	require.NoError(t, ds.Save("runs", "a-run", []byte("id: a")))

	_, err := os.Stat(filepath.Join(tempDir, "runs", "a-run.yaml"))
	require.NoError(t, err)

	data, err := ds.Load("runs", "a-run")
	require.NoError(t, err)
	assert.Equal(t, "id: a", string(data))

	names, err := ds.List("runs")
	require.NoError(t, err)
	assert.Equal(t, []string{"a-run", "b-run"}, names)

	require.NoError(t, ds.Delete("runs", "a-run"))
	_, err = ds.Load("runs", "a-run")
	assert.True(t, api.IsNotFound(err))
}

func TestStorage_ArgumentValidation(t *testing.T) {
	ds := NewStorageWithPath(t.TempDir())

	tests := []struct {
		name string
		call func() error
	}{
		{"save empty type", func() error { return ds.Save("", "x", nil) }},
		{"save empty name", func() error { return ds.Save("runs", "", nil) }},
		{"delete empty name", func() error { return ds.Delete("runs", "") }},
		{"load empty type", func() error { _, err := ds.Load("", "x"); return err }},
		{"list empty type", func() error { _, err := ds.List(""); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.call())
		})
	}
}

func TestStorage_DeleteMissing(t *testing.T) {
	ds := NewStorageWithPath(t.TempDir())
	err := ds.Delete("runs", "nope")
	assert.True(t, api.IsNotFound(err))
}

func TestStorage_ListMissingDirectory(t *testing.T) {
	ds := NewStorageWithPath(t.TempDir())
	names, err := ds.List("runs")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestStorage_SanitizeFilename(t *testing.T) {
	ds := NewStorage()

	tests := map[string]string{
		"simple":          "simple",
		"with/slash":      "with_slash",
		"a.b.c":           "a_b_c",
		"  spaced name  ": "spaced_name",
		"***":             "unnamed",
		"9b1deb4d-3b7d":   "9b1deb4d-3b7d",
	}
	for in, want := range tests {
		assert.Equal(t, want, ds.sanitizeFilename(in), in)
	}
}

func TestStorage_SaveOverwritesAndListSkipsStrayFiles(t *testing.T) {
	tempDir := t.TempDir()
	ds := NewStorageWithPath(tempDir)

	require.NoError(t, ds.Save("runs", "r1", []byte("v: 1")))
	require.NoError(t, ds.Save("runs", "r1", []byte("v: 2")))

	data, err := ds.Load("runs", "r1")
	require.NoError(t, err)
	assert.Equal(t, "v: 2", string(data))

	runsDir := filepath.Join(tempDir, "runs")
	require.NoError(t, os.WriteFile(filepath.Join(runsDir, ".r2.yaml.123"), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(runsDir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(runsDir, "sub.yaml"), 0755))

	names, err := ds.List("runs")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, names)
}
