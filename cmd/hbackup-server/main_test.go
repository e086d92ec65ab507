package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestRunReturnsExitTwoOnUnreadableConfig(t *testing.T) {
	app := &cli.App{
		Name:   "hbackup-server",
		Flags:  []cli.Flag{&cli.StringFlag{Name: "config"}},
		Action: run,
	}

	err := app.Run([]string{"hbackup-server", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	ec, ok := err.(cli.ExitCoder)
	require.True(t, ok)
	require.Equal(t, 2, ec.ExitCode())
}

func TestRunServesThenShutsDownOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "hbackup.yaml")
	sock := filepath.Join(dir, "hbackup.sock")
	store := filepath.Join(dir, "store")
	missingList := filepath.Join(dir, "missing.txt")

	require.NoError(t, os.WriteFile(configPath, []byte(
		"network: unix\naddress: "+sock+"\nstore_root: "+store+"\nmissing_list_path: "+missingList+"\n",
	), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	app := &cli.App{
		Name:  "hbackup-server",
		Flags: []cli.Flag{&cli.StringFlag{Name: "config"}},
		Action: func(c *cli.Context) error {
			return runWithContext(ctx, c)
		},
	}
	require.NoError(t, app.Run([]string{"hbackup-server", "--config", configPath}))
}
