package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndechesne/hbackup/pipeline/hasher"
	"github.com/ndechesne/hbackup/server"
	"github.com/ndechesne/hbackup/store"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(root, 0o755))
	st := store.New(root, hasher.MD5, nil, nil, nil)

	sock := filepath.Join(t.TempDir(), "hbackup.sock")
	listener, err := net.Listen("unix", sock)
	require.NoError(t, err)

	srv := server.New(listener, st, nil, nil, 0)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.Handle(conn)
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return sock
}

func TestWriteViaCLI(t *testing.T) {
	sock := startTestServer(t)

	src := filepath.Join(t.TempDir(), "source.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello from the cli"), 0o644))

	args := []string{"hbackup-client", "--network", "unix", "--address", sock, "write", src}
	require.NoError(t, app().Run(args))
}

func TestRemoveOfMissingDigestViaCLI(t *testing.T) {
	sock := startTestServer(t)

	args := []string{"hbackup-client", "--network", "unix", "--address", sock, "remove", "0123456789abcdef0123456789abcdef"}
	require.NoError(t, app().Run(args))
}

func TestWriteRequiresExactlyOneArgument(t *testing.T) {
	sock := startTestServer(t)

	args := []string{"hbackup-client", "--network", "unix", "--address", sock, "write"}
	require.Error(t, app().Run(args))
}
