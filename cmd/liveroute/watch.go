package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vango-dev/liveroute/pkg/live"
	"github.com/vango-dev/liveroute/pkg/messaging"
	"github.com/vango-dev/liveroute/pkg/server"
)

func watchCmd() *cobra.Command {
	var livePath string

	cmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Follow a live answer",
		Long: `Request a URL and print its body, then every update while the answer
stays live.

Examples:
  liveroute watch http://localhost:8080/board
  liveroute watch "http://localhost:8080/clock?n=5"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, args[0], livePath)
		},
	}

	cmd.Flags().StringVar(&livePath, "live-path", "/_live", "Live port attach path on the server")
	return cmd
}

func runWatch(ctx context.Context, target, livePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}

	var port *messaging.SocketPort
	if id := resp.Header.Get(server.HeaderPort); id != "" {
		wsURL, err := attachURL(target, livePath, id)
		if err != nil {
			resp.Body.Close()
			return err
		}
		port, err = messaging.Dial(ctx, wsURL, nil, &messaging.SocketConfig{Paused: true})
		if err != nil {
			resp.Body.Close()
			return err
		}
		defer port.Close()
	}

	var p messaging.Port
	if port != nil {
		p = port
	}
	lr, err := live.FromResponse(ctx, resp, p)
	if err != nil {
		return err
	}
	defer lr.Close()

	show := func(s live.Snapshot) {
		data, err := json.Marshal(s.Body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return
		}
		fmt.Printf("%d %s\n", s.Status, data)
	}
	lr.On(live.EventReplace, show)
	show(lr.Snapshot())
	if port != nil {
		port.Resume()
	}

	if err := lr.Wait(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// attachURL builds the websocket URL of live port id on target's server.
func attachURL(target, livePath, id string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = livePath + "/" + id
	u.RawQuery = ""
	return u.String(), nil
}
