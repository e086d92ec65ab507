package zipper_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndechesne/hbackup/pipeline/memrw"
	"github.com/ndechesne/hbackup/pipeline/zipper"
)

func TestCompressThenDecompressRoundTrips(t *testing.T) {
	data := make([]byte, 300_000)
	rand.New(rand.NewSource(7)).Read(data)

	backing := &bytes.Buffer{}
	enc := zipper.New(memrw.NewWriter(backing), true, 6)
	require.NoError(t, enc.Open())
	for off := 0; off < len(data); off += 4096 {
		end := off + 4096
		if end > len(data) {
			end = len(data)
		}
		_, err := enc.Put(data[off:end])
		require.NoError(t, err)
	}
	require.NoError(t, enc.Close())
	require.Less(t, backing.Len(), len(data))

	dec := zipper.New(memrw.NewReader(backing.Bytes()), true, zipper.Decode)
	require.NoError(t, dec.Open())
	got := make([]byte, len(data))
	n, err := dec.Get(got)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)
	require.NoError(t, dec.Close())
}

func TestDecodeOfCorruptDataFails(t *testing.T) {
	dec := zipper.New(memrw.NewReader([]byte("not a gzip stream")), true, zipper.Decode)
	err := dec.Open()
	require.Error(t, err)
}
