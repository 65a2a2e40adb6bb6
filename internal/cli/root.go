package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := run(newRootCmd(), os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes cmd and prints failures that were not already logged.
func run(cmd *cobra.Command, stderr io.Writer) error {
	err := cmd.Execute()
	var logged loggedError
	if err != nil && !errors.As(err, &logged) {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return err
}

// loggedError marks an error the command has already written to the log.
type loggedError struct {
	err error
}

func (e loggedError) Error() string { return e.err.Error() }

func (e loggedError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	cmd := &cobra.Command{
		Use:           "beszel-proxy",
		Short:         "Dashboard widget proxy for a Beszel hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	cmd.AddCommand(serve, newSystemsCmd(), newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(Version)
		},
	}
}
