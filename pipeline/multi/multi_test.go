package multi_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndechesne/hbackup/pipeline"
	"github.com/ndechesne/hbackup/pipeline/memrw"
	"github.com/ndechesne/hbackup/pipeline/multi"
)

func TestWritesToAllChildren(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	m := multi.New([]pipeline.ReaderWriter{memrw.NewWriter(a), memrw.NewWriter(b)}, []bool{true, true})
	require.NoError(t, m.Open())
	n, err := m.Put([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, m.Close())
	require.Equal(t, "hello", a.String())
	require.Equal(t, "hello", b.String())
	require.Equal(t, "", m.FailedPath())
}

type namedFailer struct {
	path string
}

func (f *namedFailer) Open() error                  { return nil }
func (f *namedFailer) Close() error                 { return nil }
func (f *namedFailer) Read(p []byte) (int, error)   { return 0, nil }
func (f *namedFailer) Get(p []byte) (int, error)    { return 0, nil }
func (f *namedFailer) Put(p []byte) (int, error)    { return 0, errors.New("boom") }
func (f *namedFailer) Offset() int64                { return 0 }
func (f *namedFailer) Path() string                 { return f.path }

func TestRecordsFirstFailingChildPath(t *testing.T) {
	good := &bytes.Buffer{}
	m := multi.New([]pipeline.ReaderWriter{
		memrw.NewWriter(good),
		&namedFailer{path: "/store/bad"},
	}, []bool{true, false})
	require.NoError(t, m.Open())
	_, err := m.Put([]byte("x"))
	require.Error(t, err)
	require.Equal(t, "/store/bad", m.FailedPath())
}
