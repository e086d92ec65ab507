package hasher_test

import (
	"crypto/md5"
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndechesne/hbackup/pipeline/hasher"
	"github.com/ndechesne/hbackup/pipeline/null"
)

func TestDigestMatchesOneShot(t *testing.T) {
	data := make([]byte, 250_000)
	rand.New(rand.NewSource(1)).Read(data)
	want := md5.Sum(data)

	h := hasher.New(null.New(), true, hasher.MD5)
	require.NoError(t, h.Open())

	// Feed through in uneven chunk sizes to exercise the
	// chunk-boundary-independence invariant.
	sizes := []int{1, 3, 17, 4096, 65536}
	off := 0
	i := 0
	for off < len(data) {
		n := sizes[i%len(sizes)]
		i++
		if off+n > len(data) {
			n = len(data) - off
		}
		_, err := h.Put(data[off : off+n])
		require.NoError(t, err)
		off += n
	}
	require.NoError(t, h.Close())
	require.Equal(t, hex.EncodeToString(want[:]), h.Digest())
}

func TestDigestViaGetAndRead(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := md5.Sum(data)

	src := &memoryReaderWriter{data: data}
	h := hasher.New(src, true, hasher.MD5)
	require.NoError(t, h.Open())
	buf := make([]byte, len(data))
	n, err := h.Get(buf)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, h.Close())
	require.Equal(t, hex.EncodeToString(want[:]), h.Digest())
}

// memoryReaderWriter is a minimal pipeline.ReaderWriter over an in-memory
// byte slice, used to exercise Get without touching the filesystem.
type memoryReaderWriter struct {
	data []byte
	pos  int
}

func (m *memoryReaderWriter) Open() error  { return nil }
func (m *memoryReaderWriter) Close() error { return nil }
func (m *memoryReaderWriter) Read(p []byte) (int, error) {
	if m.pos >= len(m.data) {
		return 0, nil
	}
	n := copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}
func (m *memoryReaderWriter) Get(p []byte) (int, error) { return m.Read(p) }
func (m *memoryReaderWriter) Put(p []byte) (int, error) { return 0, nil }
func (m *memoryReaderWriter) Offset() int64             { return int64(m.pos) }
func (m *memoryReaderWriter) Path() string              { return "" }
