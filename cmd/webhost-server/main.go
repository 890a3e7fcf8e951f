// Webhost-server serves a directory of files over HTTP and HTTPS with a
// live WebSocket channel to connected browsers.
//
// HTTPS uses a leaf certificate issued by a local certificate authority
// that the server creates and trusts on first start. Connected clients
// receive heartbeats, server status changes and filesChanged
// notifications.
//
// Usage:
//
//	webhost-server server [flags]
//
// See 'webhost-server server --help' for available options.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/certs"
	"github.com/josystem/webhost/internal/config"
	"github.com/josystem/webhost/internal/discovery"
	"github.com/josystem/webhost/internal/hub"
	"github.com/josystem/webhost/internal/logging"
	"github.com/josystem/webhost/internal/server"
	"github.com/josystem/webhost/internal/version"
	"github.com/josystem/webhost/webui"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "webhost-server",
	Short: "WebHost file server",
	Long: `A local file server with optional HTTPS and a live WebSocket channel.

For configuration, certificates and monitoring use the separate
'webhost-cfg' utility.`,
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}

var (
	configPath string
	logLevel   string
	noAnnounce bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the web server",
	Long: `Start serving the configured root directory.

Settings are read from the YAML configuration file, then the optional
SQLite settings database, then WEBHOST_* environment variables. Send
SIGHUP to reload the configuration and restart the listeners.`,
	Example: `  # Start with the default configuration file
  webhost-server server

  # Use another configuration file with debug logging
  webhost-server server --config ./webhost.yaml --log-level debug

  # Override ports from the environment
  WEBHOST_HTTP_PORT=8080 WEBHOST_ENABLE_HTTPS=true webhost-server server`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&configPath, "config", "", "Path to the configuration file (default: OS config dir)")
	serverCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the configuration")
	serverCmd.Flags().BoolVar(&noAnnounce, "no-announce", false, "Do not advertise the server over mDNS")
}

func runServer(cmd *cobra.Command, args []string) error {
	provider, err := config.NewFileProvider(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := provider.Snapshot()

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := logging.InitializeWithOptions(logging.Options{
		Level:    level,
		Encoding: cfg.Logging.Encoding,
		File:     cfg.Logging.File,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	sink := logging.NopSink
	if cfg.Logging.Directory != "" {
		sink = logging.NewFileSink(filepath.Join(cfg.Logging.Directory, "webhost.log"), logging.Level(cfg.Logging.MinLevel))
	}

	configDir, err := config.GetConfigDir()
	if err != nil {
		return err
	}

	assets, err := webui.DistFS()
	if err != nil {
		return fmt.Errorf("failed to load web assets: %w", err)
	}

	// Certificate settings are reread on every start, so a SIGHUP reload
	// picks up new store directories and extra hosts.
	provisionerFor := func(c *config.Config) *certs.Provisioner {
		return certs.FromSettings(c.Certificates, configDir, sink)
	}

	var host *server.Host
	opts := server.Options{
		Config:          provider,
		CertsFromConfig: provisionerFor,
		Sink:            sink,
		Assets:          assets,
		MountAPI: func(api *gin.RouterGroup) {
			api.GET("/status", func(c *gin.Context) {
				c.JSON(http.StatusOK, host.Status())
			})
			api.POST("/refresh", func(c *gin.Context) {
				if err := host.NotifyFilesChanged(c.Request.Context(), hub.ReasonManual); err != nil {
					c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": err.Error()})
					return
				}
				c.JSON(http.StatusOK, gin.H{"success": true})
			})
		},
	}
	if !noAnnounce {
		opts.Announcer = discovery.NewAnnouncer()
	}

	host, err = server.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("Starting WebHost", zap.String("version", version.Full()), zap.String("config", provider.Path()))
	if err := host.Start(ctx); err != nil {
		var portErr *server.PortUnavailableError
		if errors.As(err, &portErr) {
			return fmt.Errorf("%w (is another instance running?)", err)
		}
		return err
	}
	fmt.Printf("WebHost listening on %s\n", listenerSummary(host))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			logging.Info("Shutting down")
			host.Stop(context.Background())
			return nil
		case <-hup:
			if err := provider.Reload(); err != nil {
				logging.Error("Configuration reload failed, keeping current settings", zap.Error(err))
				continue
			}
			if err := host.Restart(ctx); err != nil {
				return fmt.Errorf("restart after reload failed: %w", err)
			}
			fmt.Printf("Configuration reloaded, listening on %s\n", listenerSummary(host))
		}
	}
}

func listenerSummary(h *server.Host) string {
	var urls []string
	for i, a := range h.Addrs() {
		scheme := "http"
		if i == 1 {
			scheme = "https"
		}
		urls = append(urls, scheme+"://"+a.String())
	}
	return strings.Join(urls, ", ")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("webhost-server %s\n", version.Full())
	},
}
