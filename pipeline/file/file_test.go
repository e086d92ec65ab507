package file_test

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndechesne/hbackup/pipeline/file"
)

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	w := file.New(path, true)
	require.NoError(t, w.Open())
	n, err := w.Put([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, int64(11), w.Offset())
	require.NoError(t, w.Close())

	r := file.New(path, false)
	require.NoError(t, r.Open())
	buf := make([]byte, 11)
	n, err = r.Get(buf)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(buf))
	require.NoError(t, r.Close())
}

func TestOperationsOnClosedReturnEBADF(t *testing.T) {
	dir := t.TempDir()
	r := file.New(filepath.Join(dir, "missing"), false)

	_, err := r.Read(make([]byte, 1))
	require.ErrorIs(t, err, syscall.EBADF)

	_, err = r.Put([]byte("x"))
	require.ErrorIs(t, err, syscall.EBADF)
}

func TestOpenMissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	r := file.New(filepath.Join(dir, "missing"), false)
	err := r.Open()
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestPathReturnsConfiguredPath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a", "b")
	rw := file.New(p, true)
	require.Equal(t, p, rw.Path())
}
