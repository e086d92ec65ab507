// Command hbackup-client dials an hbackup server and drives its name,
// read, write, remove, and crawl operations from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ndechesne/hbackup/client"
	"github.com/ndechesne/hbackup/store"
)

func app() *cli.App {
	return &cli.App{
		Name:  "hbackup-client",
		Usage: "talk to an hbackup server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "network", Value: "unix", Usage: "unix or tcp"},
			&cli.StringFlag{Name: "address", Value: "data/.socket", Usage: "socket path or host:port"},
		},
		Commands: []*cli.Command{
			nameCommand,
			readCommand,
			writeCommand,
			removeCommand,
			crawlCommand,
		},
		// Return exit-code errors from Run instead of letting cli exit the
		// process, so main (and tests) decide what to do with them.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "hbackup-client: %v\n", err)
		code := 1
		if ec, ok := err.(cli.ExitCoder); ok {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}

func dial(c *cli.Context) *client.Client {
	return client.Dial(c.String("network"), c.String("address"))
}

var nameCommand = &cli.Command{
	Name:      "name",
	Usage:     "resolve a digest to its stored path",
	ArgsUsage: "<digest>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("name: expected exactly one digest argument", 1)
		}
		path, extension, err := dial(c).Name(c.Args().First())
		if err != nil {
			return cli.Exit(err, 3)
		}
		fmt.Printf("%s\t%s\n", path, extension)
		return nil
	},
}

var readCommand = &cli.Command{
	Name:      "read",
	Usage:     "stream a stored entry to a local file",
	ArgsUsage: "<digest> <target-path>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("read: expected <digest> <target-path>", 1)
		}
		if err := dial(c).Read(c.Args().Get(1), c.Args().Get(0)); err != nil {
			return cli.Exit(err, 3)
		}
		return nil
	},
}

var writeCommand = &cli.Command{
	Name:      "write",
	Usage:     "store a local file, deduplicating by content digest",
	ArgsUsage: "<source-path>",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "level", Value: 6, Usage: "gzip level, 0-9"},
		&cli.StringFlag{Name: "comp", Value: "auto", Usage: "auto, forced-yes, or forced-no"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("write: expected exactly one source path argument", 1)
		}
		comp, err := parseCompCase(c.String("comp"))
		if err != nil {
			return cli.Exit(err, 1)
		}
		result, err := dial(c).Write(c.Args().First(), c.Int("level"), comp)
		if err != nil {
			return cli.Exit(err, 3)
		}
		fmt.Printf("%s\t%d\t%s\n", result.ContentID, result.Level, result.StoredPath)
		return nil
	},
}

var removeCommand = &cli.Command{
	Name:      "remove",
	Usage:     "delete a stored entry",
	ArgsUsage: "<digest>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("remove: expected exactly one digest argument", 1)
		}
		if err := dial(c).Remove(c.Args().First()); err != nil {
			return cli.Exit(err, 3)
		}
		return nil
	},
}

var crawlCommand = &cli.Command{
	Name:  "crawl",
	Usage: "walk the store, optionally verifying and repairing entries",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "thorough", Usage: "re-hash every entry's payload"},
		&cli.BoolFlag{Name: "repair", Usage: "remove entries that fail verification"},
	},
	Action: func(c *cli.Context) error {
		collector := &printingCollector{}
		valid, broken, err := dial(c).Crawl(c.Bool("thorough"), c.Bool("repair"), collector)
		if err != nil {
			return cli.Exit(err, 3)
		}
		fmt.Printf("valid=%d broken=%d\n", valid, broken)
		return nil
	},
}

type printingCollector struct{}

func (p *printingCollector) Add(digest string, dataSize, fileSize int64) error {
	fmt.Printf("%s\t%d\t%d\n", digest, dataSize, fileSize)
	return nil
}

func parseCompCase(name string) (store.CompCase, error) {
	switch name {
	case "auto":
		return store.CaseAutoNow, nil
	case "forced-yes":
		return store.CaseForcedYes, nil
	case "forced-no":
		return store.CaseForcedNo, nil
	default:
		return store.CaseUnknown, fmt.Errorf("write: unknown --comp value %q", name)
	}
}
