// Command hbackup-server binds a socket and serves the content-addressed
// store to hbackup clients.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/ndechesne/hbackup/hashtree"
	"github.com/ndechesne/hbackup/logging"
	"github.com/ndechesne/hbackup/missing"
	"github.com/ndechesne/hbackup/pipeline/hasher"
	"github.com/ndechesne/hbackup/server"
	"github.com/ndechesne/hbackup/server/config"
	"github.com/ndechesne/hbackup/store"
)

func main() {
	app := &cli.App{
		Name:  "hbackup-server",
		Usage: "serve the hbackup content-addressed store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"},
		},
		Action: run,
		// Return exit-code errors from Run instead of letting cli exit the
		// process, so the code below maps them to the exit status.
		ExitErrHandler: func(*cli.Context, error) {},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "hbackup-server: %v\n", err)
		code := 1
		if ec, ok := err.(cli.ExitCoder); ok {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}

func run(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runWithContext(ctx, c)
}

// runWithContext does the real work of run, taking ctx separately so
// tests can drive a bounded-lifetime server without signals.
func runWithContext(ctx context.Context, c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err, 2)
	}

	log := logging.New(cfg.LogLevel, os.Stderr)
	entry := logging.WithComponent(log, "server")

	if err := os.MkdirAll(cfg.StoreRoot, 0o755); err != nil {
		return cli.Exit(fmt.Errorf("server: create store root: %w", err), 2)
	}

	index := hashtree.NewIndex()
	st := store.New(cfg.StoreRoot, hasher.MD5, entry, store.NewMetrics(prometheus.NewRegistry()), index)

	if err := os.MkdirAll(filepath.Dir(cfg.MissingListPath), 0o755); err != nil {
		return cli.Exit(fmt.Errorf("server: create missing list directory: %w", err), 2)
	}
	missingList, err := missing.Open(cfg.MissingListPath)
	if err != nil {
		return cli.Exit(fmt.Errorf("server: open missing list: %w", err), 2)
	}
	defer missingList.Close()

	listener, err := listen(cfg.Network, cfg.Address)
	if err != nil {
		return cli.Exit(fmt.Errorf("server: listen: %w", err), 2)
	}

	srv := server.New(listener, st, missingList, entry, cfg.MaxConcurrentSessions)

	entry.Infof("listening on %s/%s", cfg.Network, cfg.Address)
	if err := srv.Serve(ctx); err != nil {
		return cli.Exit(err, 3)
	}
	return nil
}

func listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(address), 0o755); err != nil {
			return nil, fmt.Errorf("server: create socket directory: %w", err)
		}
		_ = os.Remove(address)
	}
	return net.Listen(network, address)
}
