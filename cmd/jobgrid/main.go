package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/specialistvlad/jobgrid/internal/app"
	"github.com/specialistvlad/jobgrid/internal/cli"
	"github.com/specialistvlad/jobgrid/internal/hcl"
)

// main is the entrypoint for the jobgrid application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()

	// The real main function handles errors and exit codes.
	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(ctx context.Context, outW, errW io.Writer, args []string) (err error) {
	if len(args) > 0 && args[0] == cli.ExecUnitCommand {
		dir, err := cli.ParseExecUnit(args[1:])
		if err != nil {
			return err
		}
		// Unit output goes to files; logs go to stderr so the scheduler's
		// error file captures them.
		return app.ExecUnit(ctx, errW, "info", "text", dir)
	}

	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// The app panics on critical config errors, so we recover here to provide
	// a clean exit message to the user.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application startup panicked: %v", r)
		}
	}()

	jobgrid := app.NewApp(outW, appConfig, hcl.NewLoader())
	return jobgrid.Run(ctx)
}
