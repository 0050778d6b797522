// Command liveroute serves the note board over the live routing runtime.
package main

import (
	"os"

	"github.com/spf13/cobra"
	lrerrors "github.com/vango-dev/liveroute/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "liveroute",
		Short: "Live routing runtime",
		Long: `liveroute routes requests through a directory-shaped handler table
and keeps answers live: later changes reach the client over a websocket
as snapshots or mutation batches.

Configuration is read from LIVEROUTE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		watchCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		lrerrors.Fprint(os.Stderr, err, lrerrors.StyleFor(os.Stderr))
		os.Exit(1)
	}
}
