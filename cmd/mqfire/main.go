package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/mqfire/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. Without a subcommand it behaves like "run",
// whose flags are parsed by the config loader rather than cobra so that files,
// MQFIRE_ variables and flags are layered in one place.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:                "mqfire",
		Short:              "Load test message-queuing brokers",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), args, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	runCmd := &cobra.Command{
		Use:                "run",
		Short:              "Drive virtual users against a broker",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), args, stdout, stderr)
		},
	}
	config.RegisterFlags(runCmd)

	root.AddCommand(runCmd, newBrokerCommand(stderr))
	return root
}
