// Webhost-cfg is the configuration utility for WebHost.
//
// It edits the configuration file and settings database, manages the
// local certificate authority and server certificate, tests diagnostics
// whitelist specs, finds servers on the network and watches a running
// server's live event stream.
//
// Usage:
//
//	webhost-cfg [command] [flags]
//
// See 'webhost-cfg --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/josystem/webhost/internal/logging"
	"github.com/josystem/webhost/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configPath is shared by every command that reads the configuration.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "webhost-cfg",
	Short: "WebHost Configuration Utility",
	Long: `A standalone utility for configuring and inspecting WebHost servers.

Logging is silent unless WEBHOST_LOG_LEVEL is set.`,
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitializeFromEnv()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file (default: OS config dir)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(whitelistCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			return writeJSON(cmd.OutOrStdout(), version.Get())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "webhost-cfg %s\n", version.Full())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print as JSON")
}
