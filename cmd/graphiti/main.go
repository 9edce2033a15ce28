package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/graphiti-dev/graphiti/cmd/graphiti/cli"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	rootCmd := cli.NewRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		// Commands that already wrote their own message return a
		// SilentError; everything else gets one line on stderr.
		var silent *cli.SilentError
		if !errors.As(err, &silent) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			var usage *cli.UsageError
			if errors.As(err, &usage) {
				fmt.Fprintln(os.Stderr, "Run 'graphiti --help' for usage.")
			}
		}
		cancel()
		os.Exit(cli.ExitCode(err))
	}
}
