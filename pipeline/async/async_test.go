package async_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ndechesne/hbackup/pipeline/async"
	"github.com/ndechesne/hbackup/pipeline/memrw"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPreservesWriteOrder(t *testing.T) {
	backing := &bytes.Buffer{}
	w := async.New(memrw.NewWriter(backing), true, 4)
	require.NoError(t, w.Open())

	for i := 0; i < 200; i++ {
		_, err := w.Put([]byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	require.Equal(t, 200, backing.Len())
	for i := 0; i < 200; i++ {
		require.Equal(t, byte(i), backing.Bytes()[i])
	}
}

type failingWriter struct{ n int }

func (f *failingWriter) Open() error  { return nil }
func (f *failingWriter) Close() error { return nil }
func (f *failingWriter) Read(p []byte) (int, error) { return 0, nil }
func (f *failingWriter) Get(p []byte) (int, error)  { return 0, nil }
func (f *failingWriter) Put(p []byte) (int, error) {
	f.n++
	if f.n == 3 {
		return 0, errors.New("disk full")
	}
	return len(p), nil
}
func (f *failingWriter) Offset() int64 { return 0 }
func (f *failingWriter) Path() string  { return "" }

func TestSurfacesFirstErrorOnClose(t *testing.T) {
	w := async.New(&failingWriter{}, true, 1)
	require.NoError(t, w.Open())
	for i := 0; i < 5; i++ {
		_, _ = w.Put([]byte{byte(i)})
	}
	err := w.Close()
	require.Error(t, err)
}
