package appdata_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/envcache/internal/appdata"
	"github.com/calvinalkan/envcache/internal/fs"
	"github.com/calvinalkan/envcache/internal/lock"
)

func newStore(t *testing.T, fsys fs.FS) (*appdata.JSONStore, *lock.Registry) {
	t.Helper()

	registry := lock.NewRegistry(fs.NewReal())
	folder := lock.NewReentrantWithRegistry(t.TempDir(), registry)

	return appdata.NewJSONStore(fsys, folder, "record", "test record"), registry
}

func Test_JSONStore_Write_Then_Read_Returns_Same_Document(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, fs.NewReal())

	doc := appdata.Document{
		"version": "3.9",
		"paths":   []any{"/usr/lib", "/opt"},
		"nested":  map[string]any{"count": float64(2), "ok": true},
	}

	require.NoError(t, store.Write(doc))
	assert.True(t, store.Exists())

	got, err := store.Read()
	require.NoError(t, err)

	if diff := cmp.Diff(doc, got); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}
}

func Test_JSONStore_Write_Sorts_Keys_With_Two_Space_Indent(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, fs.NewReal())

	require.NoError(t, store.Write(appdata.Document{
		"zeta":  1,
		"alpha": "<a&b>",
		"mid":   map[string]any{"y": 2, "x": nil},
	}))

	data, err := os.ReadFile(store.File())
	require.NoError(t, err)

	want := `{
  "alpha": "<a&b>",
  "mid": {
    "x": null,
    "y": 2
  },
  "zeta": 1
}`
	assert.Equal(t, want, string(data))
}

func Test_JSONStore_Read_Returns_Nil_When_File_Missing(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, fs.NewReal())

	got, err := store.Read()
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, store.Exists())
}

func Test_JSONStore_Read_Removes_File_When_Content_Is_Not_JSON(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, fs.NewReal())

	require.NoError(t, os.WriteFile(store.File(), []byte("{not json"), 0o644))

	got, err := store.Read()
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoFileExists(t, store.File())
}

func Test_JSONStore_Read_Returns_Error_When_Permission_Denied(t *testing.T) {
	t.Parallel()

	injected := fs.NewInjected(fs.NewReal())
	store, _ := newStore(t, injected)

	require.NoError(t, store.Write(appdata.Document{"a": "b"}))
	injected.Fail(fs.OpReadFile, store.File(), os.ErrPermission)

	got, err := store.Read()
	require.ErrorIs(t, err, os.ErrPermission)
	assert.True(t, fs.IsInjected(err))
	assert.Nil(t, got)
	assert.FileExists(t, store.File(), "unreadable entry is not corrupt and must be kept")
}

func Test_JSONStore_Read_Treats_Other_Read_Errors_As_Miss_Without_Removing(t *testing.T) {
	t.Parallel()

	injected := fs.NewInjected(fs.NewReal())
	store, _ := newStore(t, injected)

	require.NoError(t, store.Write(appdata.Document{"a": "b"}))
	injected.Fail(fs.OpReadFile, store.File(), errors.New("input/output error"))

	got, err := store.Read()
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, injected.Calls(fs.OpRemove))
	assert.FileExists(t, store.File())
}

func Test_JSONStore_Remove_Returns_ErrNotExist_When_Missing(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, fs.NewReal())

	require.ErrorIs(t, store.Remove(), fs.ErrNotExist)

	require.NoError(t, store.Write(appdata.Document{}))
	require.NoError(t, store.Remove())
	assert.False(t, store.Exists())
}

func Test_JSONStore_Locked_Holds_Key_Lock(t *testing.T) {
	t.Parallel()

	store, registry := newStore(t, fs.NewReal())
	lockFile := filepath.Join(filepath.Dir(store.File()), "record.lock")

	err := store.Locked(func() error {
		other := lock.NewFileLock(registry.Locker(), lockFile)

		return other.TryAcquire()
	})
	require.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.Equal(t, 0, registry.Len())
}

func Test_PyInfoStore_Is_Keyed_By_SHA256_Of_Interpreter_Path(t *testing.T) {
	t.Parallel()

	folder := lock.NewNoOp(t.TempDir())
	store := appdata.NewPyInfoStore(fs.NewReal(), folder, "/usr/bin/python3")

	assert.Len(t, store.Key(), 64)
	assert.Equal(t, appdata.PyInfoKey("/usr/bin/python3"), store.Key())
	assert.NotEqual(t, store.Key(), appdata.PyInfoKey("/usr/bin/python3.12"))
	assert.Equal(t, filepath.Join(folder.Path(), store.Key()+".json"), store.File())
	assert.Equal(t, "python info of /usr/bin/python3", store.Label())
}

func Test_EmbedUpdateStore_Is_Keyed_By_Distribution(t *testing.T) {
	t.Parallel()

	folder := lock.NewNoOp(t.TempDir())
	store := appdata.NewEmbedUpdateStore(fs.NewReal(), folder, "setuptools")

	assert.Equal(t, "setuptools", store.Key())
	assert.Equal(t, filepath.Join(folder.Path(), "setuptools.json"), store.File())
	assert.Equal(t, "embed update of distribution setuptools", store.Label())
}
