package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josystem/webhost/internal/accessgate"
	"github.com/josystem/webhost/internal/config"
	"github.com/josystem/webhost/internal/ui"
)

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Inspect diagnostics whitelist specs",
}

func init() {
	whitelistCmd.AddCommand(whitelistTestCmd)
}

var whitelistTestCmd = &cobra.Command{
	Use:   "test <address> [spec]",
	Short: "Check whether an address is allowed by a whitelist spec",
	Long: `Check an address against a whitelist spec and show the first entry
that matched. Without a spec, the configured access.diagnostics_whitelist
is used.

Entries are separated by ';', '|', ',' or whitespace and may be exact
addresses, ranges (a-b), CIDR blocks or IPv4 wildcards (192.168.*.*).`,
	Example: `  webhost-cfg whitelist test 192.168.1.50 "10.0.0.0/8;192.168.1.10-192.168.1.99"
  webhost-cfg whitelist test ::1`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout())
		address := args[0]

		var spec string
		if len(args) == 2 {
			spec = args[1]
		} else {
			provider, err := config.NewFileProvider(configPath)
			if err != nil {
				return err
			}
			spec = provider.Snapshot().Access.DiagnosticsWhitelist
		}

		entries := accessgate.Split(spec)
		entry, ok := accessgate.Explain(address, spec)
		if !ok {
			p.PrintWarning("Denied", map[string]string{
				"Address": address,
				"Spec":    spec,
				"Entries": fmt.Sprint(len(entries)),
			})
			return nil
		}
		p.PrintSuccess("Allowed", map[string]string{
			"Address":    address,
			"Matched":    entry.Raw,
			"Entry kind": entry.Kind.String(),
		})
		return nil
	},
}
