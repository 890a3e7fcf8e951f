package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/josystem/webhost/internal/config"
	"github.com/josystem/webhost/internal/ui"
)

var (
	monitorTarget   string
	monitorInsecure bool
	monitorPlain    bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch a running server's live events",
	Long: `Connect to a server's /ws endpoint and show heartbeats, status changes
and filesChanged notifications as they arrive. Press r to ask the server
to broadcast a refresh.

Without --url the local server from the configuration is used. Output is
plain text when stdout is not a terminal or with --plain.`,
	Example: `  webhost-cfg monitor
  webhost-cfg monitor --url wss://192.168.1.20:5001/ws --insecure`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := monitorTarget
		if url == "" {
			provider, err := config.NewFileProvider(configPath)
			if err != nil {
				return err
			}
			srv := provider.Snapshot().Server
			host := srv.BindHost
			if host == "" || host == "0.0.0.0" || host == "::" {
				host = "127.0.0.1"
			}
			url = fmt.Sprintf("ws://%s:%d/ws", host, srv.HTTPPort)
		} else {
			url = monitorURL(url)
		}

		feed, err := ui.Dial(cmd.Context(), url, monitorInsecure)
		if err != nil {
			return err
		}
		defer feed.Close()

		if monitorPlain || !ui.IsTerminal() {
			return feed.Stream(cmd.OutOrStdout())
		}
		return ui.RunMonitor(feed)
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorTarget, "url", "", "Server URL (http(s):// or ws(s)://)")
	monitorCmd.Flags().BoolVar(&monitorInsecure, "insecure", false, "Skip TLS certificate verification")
	monitorCmd.Flags().BoolVar(&monitorPlain, "plain", false, "Print plain lines instead of the interactive view")
}

// monitorURL turns a server base URL into its WebSocket endpoint.
func monitorURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case !strings.HasPrefix(base, "ws://") && !strings.HasPrefix(base, "wss://"):
		base = "ws://" + base
	}
	if !strings.HasSuffix(base, "/ws") {
		base = strings.TrimSuffix(base, "/") + "/ws"
	}
	return base
}
