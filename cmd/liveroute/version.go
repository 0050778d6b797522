package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
	"github.com/vango-dev/liveroute/pkg/messaging"
)

func versionCmd() *cobra.Command {
	var (
		short bool
		peer  string
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the build and the live socket protocol versions.

With --peer, report whether a peer announcing that protocol version can
attach to this build's live ports.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if peer != "" {
				return checkPeer(out, peer)
			}
			if short {
				fmt.Fprintln(out, version)
				return nil
			}
			writeVersion(out)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	cmd.Flags().StringVar(&peer, "peer", "", "Check a peer's socket protocol version")
	return cmd
}

func writeVersion(w io.Writer) {
	socket := messaging.DefaultSocketConfig()
	fmt.Fprintf(w, "  Version:    %s\n", version)
	fmt.Fprintf(w, "  Commit:     %s\n", commit)
	fmt.Fprintf(w, "  Built:      %s\n", date)
	fmt.Fprintf(w, "  Protocol:   %s (accepts %s)\n", socket.Version, socket.Accept)
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(w, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// checkPeer reports whether a peer announcing v passes the handshake.
func checkPeer(w io.Writer, v string) error {
	accept := messaging.DefaultSocketConfig().Accept
	constraint, err := semver.NewConstraint(accept)
	if err != nil {
		return err
	}
	pv, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("peer version %q: %w", v, err)
	}
	if !constraint.Check(pv) {
		return fmt.Errorf("peer protocol %s does not satisfy %s", pv, accept)
	}
	fmt.Fprintf(w, "peer protocol %s is compatible with %s\n", pv, accept)
	return nil
}
