// Command jsonlnet runs a newline-delimited JSON-RPC server or pings one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "jsonlnet",
		Short: "Single-threaded JSON-lines RPC server and client",
		Long: `jsonlnet exchanges JSON-RPC 2.0 messages over TCP, one message per line.

The serve command runs a readiness-driven server on a single goroutine;
the ping command measures request round trips against it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(&logLevel),
		pingCmd(&logLevel),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
