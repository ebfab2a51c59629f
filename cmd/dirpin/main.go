package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("dirpin/cmd")

var FlagRepo = &cli.StringFlag{
	Name:    "repo",
	Usage:   "repo directory for dirpin",
	Value:   "~/.dirpin",
	EnvVars: []string{"DIRPIN_REPO"},
}

var FlagStore = &cli.StringFlag{
	Name:  "store",
	Usage: "store backend: local or kubo",
	Value: "local",
}

var FlagAPI = &cli.StringFlag{
	Name:  "api",
	Usage: "Kubo RPC API address, used with --store=kubo",
	Value: "http://localhost:5001",
}

var FlagConcurrency = &cli.IntFlag{
	Name:  "concurrency",
	Usage: "maximum number of files read at once while publishing",
	Value: 4,
}

// IsVeryVerbose is a global var signalling if the CLI is running in very
// verbose mode or not (default: false).
var IsVeryVerbose bool

// FlagVeryVerbose enables very verbose mode, which is useful when debugging
// the CLI itself. It should be included as a flag on the top-level command
// (e.g. dirpin -vv).
var FlagVeryVerbose = &cli.BoolFlag{
	Name:        "vv",
	Usage:       "enables very verbose mode, useful for debugging the CLI",
	Destination: &IsVeryVerbose,
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "dirpin",
		Usage:                "publish a directory to a content-addressed store and pin it",
		ArgsUsage:            "[dir]",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			FlagVeryVerbose,
			FlagRepo,
			FlagStore,
			FlagAPI,
			FlagConcurrency,
		},
		Before: before,
		Action: publishAction,
		Commands: []*cli.Command{
			initCmd,
			publishCmd,
			pinCmd,
			unpinCmd,
			pinsCmd,
			getCmd,
			exportCmd,
			importCmd,
			gcCmd,
			lsCmd,
			serveCmd,
		},
	}
}

func main() {
	app := newApp()
	app.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

func before(cctx *cli.Context) error {
	_ = logging.SetLogLevelRegex("dirpin/.*", "INFO")

	if IsVeryVerbose {
		_ = logging.SetLogLevelRegex("dirpin/.*", "DEBUG")
	}

	return nil
}
