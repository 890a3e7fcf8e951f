package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/josystem/webhost/internal/discovery"
	"github.com/josystem/webhost/internal/ui"
)

var scanTimeout int

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find WebHost servers on the local network",
	Long: `Browse mDNS for servers announcing the _webhost._tcp service and list
their addresses, ports and versions.`,
	Example: `  # Browse for 5 seconds (default)
  webhost-cfg discover

  # Longer browse for slow networks
  webhost-cfg discover --timeout 15`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout())
		p.Printf("Browsing for WebHost servers (timeout: %ds)...\n\n", scanTimeout)

		scanner := discovery.NewScanner()
		scanner.Timeout = time.Duration(scanTimeout) * time.Second
		instances, err := scanner.Scan(cmd.Context())
		if err != nil {
			p.PrintError("Discovery failed", err, []string{
				"Check that multicast is allowed on this network",
				"Firewalls often block UDP port 5353",
			})
			return err
		}

		if len(instances) == 0 {
			p.PrintWarning("No servers found", map[string]string{
				"Service": discovery.ServiceType,
				"Hint":    "servers announce only when discovery.announce is true",
			})
			return nil
		}

		p.Printf("Found %d server(s):\n\n", len(instances))
		for i, inst := range instances {
			p.Printf("%d. %s\n", i+1, inst.Name)
			p.Printf("   URL:      %s\n", inst.BaseURL())
			p.Printf("   Host:     %s\n", inst.Hostname)
			if inst.Version != "" {
				p.Printf("   Version:  %s\n", inst.Version)
			}
			p.Newline()
		}
		p.Println(fmt.Sprintf("Use 'webhost-cfg monitor --url %s' to watch a server", monitorURL(instances[0].BaseURL())))
		return nil
	},
}

func init() {
	discoverCmd.Flags().IntVar(&scanTimeout, "timeout", 5, "Browse timeout in seconds")
}
