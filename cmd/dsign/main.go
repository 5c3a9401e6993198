package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/systmms/dsign/cmd/dsign/commands"
	dserrors "github.com/systmms/dsign/internal/errors"
	"github.com/systmms/dsign/internal/exitcode"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	code := run()
	memguard.Purge()
	os.Exit(code)
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := commands.NewRootCommand(commands.BuildInfo{Version: version, Commit: commit, Date: date})

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		// Status errors have already been reported by the command.
		var statusErr *exitcode.StatusError
		if !errors.As(err, &statusErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		}
	}
	return exitcode.FromError(err)
}
