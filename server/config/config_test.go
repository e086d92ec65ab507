package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndechesne/hbackup/server/config"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "unix", cfg.Network)
	require.Equal(t, "data/.socket", cfg.Address)
	require.Equal(t, int64(32), cfg.MaxConcurrentSessions)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hbackup.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: tcp\naddress: 127.0.0.1:9000\nstore_root: /var/hbackup\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "tcp", cfg.Network)
	require.Equal(t, "127.0.0.1:9000", cfg.Address)
	require.Equal(t, "/var/hbackup", cfg.StoreRoot)
}
