// Command rhctl is a command-line client for the rhqueue server. It adds,
// lists, cancels and removes background tasks, edits runtime settings,
// streams live task events and mints API tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rhctl: error:", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:            "rhctl",
		Usage:           "manage RunningHub background tasks on an rhqueue server",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "base `URL` of the rhqueue server",
				Sources: cli.EnvVars("RHQ_SERVER_URL"),
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer `token` sent with every request",
				Sources: cli.EnvVars("RHQ_TOKEN"),
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "print raw JSON responses",
			},
		},
		Commands: []*cli.Command{
			CommandList,
			CommandGet,
			CommandAdd,
			CommandBatch,
			CommandCancel,
			CommandRemove,
			CommandRemoveResult,
			CommandClear,
			CommandSettings,
			CommandAccount,
			CommandWatch,
			CommandToken,
		},
	}
}
