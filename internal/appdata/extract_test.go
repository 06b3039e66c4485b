package appdata_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/envcache/internal/appdata"
	"github.com/calvinalkan/envcache/internal/fs"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)

	for name, content := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)

		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func Test_Unzip_Extracts_Nested_Entries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "virtualenv.pyz")
	dest := filepath.Join(dir, "out", "virtualenv.pyz")

	writeZip(t, archive, map[string]string{
		"__main__.py":             "print('hi')",
		"virtualenv/__init__.py":  "",
		"virtualenv/create/py.py": "x = 1",
	})

	require.NoError(t, appdata.Unzip(fs.NewReal(), archive, dest))

	data, err := os.ReadFile(filepath.Join(dest, "virtualenv", "create", "py.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1", string(data))
	assert.FileExists(t, filepath.Join(dest, "__main__.py"))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directory must not be left behind")
}

func Test_Unzip_Rejects_Entries_Escaping_Destination(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry string
	}{
		{name: "ParentTraversal", entry: "../evil.txt"},
		{name: "NestedTraversal", entry: "ok/../../evil.txt"},
		{name: "Absolute", entry: "/etc/evil.txt"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			archive := filepath.Join(dir, "bad.zip")
			dest := filepath.Join(dir, "out", "bad.zip")

			writeZip(t, archive, map[string]string{tc.entry: "pwned"})

			err := appdata.Unzip(fs.NewReal(), archive, dest)
			require.ErrorIs(t, err, appdata.ErrUnsafeArchivePath)

			assert.NoDirExists(t, dest)
			assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
			assert.NoFileExists(t, filepath.Join(dir, "out", "evil.txt"))
		})
	}
}

func Test_Unzip_Copies_Non_Zip_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "debug.py")
	dest := filepath.Join(dir, "out", "debug.py")

	require.NoError(t, os.WriteFile(archive, []byte("import sys"), 0o644))
	require.NoError(t, appdata.Unzip(fs.NewReal(), archive, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "import sys", string(data))
}

func Test_Unzip_Decompresses_Zstd_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "seed.json.zst")
	dest := filepath.Join(dir, "out", "seed.json.zst")

	encoder, err := zstd.NewWriter(nil)
	require.NoError(t, err)

	compressed := encoder.EncodeAll([]byte(`{"seed":true}`), nil)
	require.NoError(t, encoder.Close())
	require.NoError(t, os.WriteFile(archive, compressed, 0o644))

	require.NoError(t, appdata.Unzip(fs.NewReal(), archive, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seed":true}`, string(data))
}

func Test_Unzip_Returns_Error_When_Archive_Missing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	err := appdata.Unzip(fs.NewReal(), filepath.Join(dir, "nope.zip"), filepath.Join(dir, "out", "nope.zip"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func Test_DiskFolder_Extract_Unzips_Real_Archive(t *testing.T) {
	t.Parallel()

	data := newDiskFolder(t, appdata.Unzip)
	archive := filepath.Join(t.TempDir(), "tool.zip")
	writeZip(t, archive, map[string]string{"bin/tool": "#!/bin/sh"})

	err := data.Extract(archive, nil, func(dest string) error {
		content, err := os.ReadFile(filepath.Join(dest, "bin", "tool"))
		if err != nil {
			return err
		}

		assert.Equal(t, "#!/bin/sh", string(content))

		return nil
	})
	require.NoError(t, err)
}
