package server

import (
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndechesne/hbackup/missing"
	"github.com/ndechesne/hbackup/pipeline/hasher"
	"github.com/ndechesne/hbackup/protocol"
	"github.com/ndechesne/hbackup/store"
	"github.com/ndechesne/hbackup/tlv"
	"github.com/ndechesne/hbackup/tlv/manager"
)

func newTestServer(t *testing.T) *Server {
	root := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(root, 0o755))
	st := store.New(root, hasher.MD5, nil, nil, nil)
	return New(nil, st, nil, nil, 0)
}

func TestWriteThenNameOverWire(t *testing.T) {
	s := newTestServer(t)

	src := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.WriteFile(src, []byte("over the wire"), 0o644))

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go s.Handle(serverConn)

	tx := manager.NewTransmission()
	tx.AddInt(uint8(protocol.TagMethod), int64(protocol.MethodWrite))
	tx.AddString(uint8(protocol.TagStorePath), src)
	tx.AddInt(uint8(protocol.TagCompressionLevel), 5)
	tx.AddInt(uint8(protocol.TagCompressionCase), int64(store.CaseForcedNo))
	require.NoError(t, tx.Send(newConnRW(clientConn)))

	var status, level int64
	var hash string
	rx := manager.NewReception()
	rx.AddInt(uint8(protocol.TagStatus), &status)
	rx.AddString(uint8(protocol.TagHash), &hash)
	rx.AddInt(uint8(protocol.TagCompressionLevel), &level)

	receiver := tlv.NewReceiver(newConnRW(clientConn))
	require.NoError(t, rx.Receive(receiver, nil))
	require.Equal(t, int64(0), status)
	require.NotEmpty(t, hash)
}

func TestReadOfMissingDigestRecordsMissing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(root, 0o755))
	st := store.New(root, hasher.MD5, nil, nil, nil)
	m := &missing.List{}
	s := New(nil, st, m, nil, 0)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go s.Handle(serverConn)

	tx := manager.NewTransmission()
	tx.AddInt(uint8(protocol.TagMethod), int64(protocol.MethodRead))
	tx.AddString(uint8(protocol.TagHash), "0123456789abcdef0123456789abcdef")
	tx.AddString(uint8(protocol.TagPath), filepath.Join(t.TempDir(), "out"))
	require.NoError(t, tx.Send(newConnRW(clientConn)))

	var status int64
	rx := manager.NewReception()
	rx.AddInt(uint8(protocol.TagStatus), &status)
	receiver := tlv.NewReceiver(newConnRW(clientConn))
	require.NoError(t, rx.Receive(receiver, nil))
	require.NotEqual(t, int64(0), status)

	records := m.Records()
	require.Len(t, records, 1)
	require.Equal(t, "0123456789abcdef0123456789abcdef", records[0].Digest)
	require.Equal(t, missing.StatusMissing, records[0].Status)
}

func TestUnknownMethodReturnsENOSYSStatus(t *testing.T) {
	s := newTestServer(t)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go s.Handle(serverConn)

	tx := manager.NewTransmission()
	tx.AddInt(uint8(protocol.TagMethod), 99)
	require.NoError(t, tx.Send(newConnRW(clientConn)))

	var status int64
	rx := manager.NewReception()
	rx.AddInt(uint8(protocol.TagStatus), &status)
	receiver := tlv.NewReceiver(newConnRW(clientConn))
	require.NoError(t, rx.Receive(receiver, nil))
	require.Equal(t, int64(syscall.ENOSYS), status)
}
