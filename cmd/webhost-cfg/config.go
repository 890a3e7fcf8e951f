package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/josystem/webhost/internal/config"
	"github.com/josystem/webhost/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show and edit the configuration",
}

var (
	initForce  bool
	showFormat string
	setDB      bool
)

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd, configSetCmd)

	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
	configShowCmd.Flags().StringVar(&showFormat, "format", "yaml", "Output format (yaml, json)")
	configSetCmd.Flags().BoolVar(&setDB, "db", false, "Write to the SQLite settings database instead of the YAML file")
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout())
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			p.PrintWarning("Configuration already exists", map[string]string{
				"Path": path,
				"Hint": "use --force to overwrite",
			})
			return nil
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		if err := config.Save(config.NewConfig(), path); err != nil {
			return fmt.Errorf("failed to write configuration: %w", err)
		}
		p.PrintSuccess("Configuration created", map[string]string{"Path": path})
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after layering the YAML file, the settings
database and WEBHOST_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := config.NewFileProvider(configPath)
		if err != nil {
			return err
		}
		cfg := provider.Snapshot()

		switch strings.ToLower(showFormat) {
		case "json":
			return writeJSON(cmd.OutOrStdout(), cfg)
		case "yaml", "":
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", provider.Path())
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		default:
			return fmt.Errorf("unknown format %q (want yaml or json)", showFormat)
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one configuration value",
	Long: `Set one configuration value by its dotted key.

Keys: ` + strings.Join(config.Keys(), ", ") + `

List values (access.protected_paths, certificates.extra_hosts) are
separated by commas.`,
	Example: `  webhost-cfg config set server.http_port 8080
  webhost-cfg config set access.protected_paths /api/delete,/api/admin
  webhost-cfg config set --db server.enable_https true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		p := ui.NewPrinter(cmd.OutOrStdout())
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		// validate against a copy before writing anywhere
		next := cfg.Clone()
		if err := config.SetField(next, key, value); err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}

		if setDB {
			return setOverlay(p, cfg, key, next)
		}
		if err := config.Save(next, path); err != nil {
			return err
		}
		stored, _ := config.GetField(next, key)
		p.PrintSuccess("Configuration updated", map[string]string{"Key": key, "Value": stored, "File": path})
		return nil
	},
}

func setOverlay(p *ui.Printer, cfg *config.Config, key string, next *config.Config) error {
	if cfg.Database.Path == "" {
		return errors.New("database.path is not set; run 'webhost-cfg config set database.path <file>' first")
	}
	dbKey, ok := config.OverlayKey(key)
	if !ok {
		return fmt.Errorf("%s has no settings database key", key)
	}
	stored, _ := config.GetField(next, key)
	if key == "access.protected_paths" {
		stored = strings.ReplaceAll(stored, ",", "|")
	}

	ov, err := config.OpenOverlay(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer ov.Close()
	if err := ov.Set(dbKey, stored); err != nil {
		return err
	}
	p.PrintSuccess("Settings database updated", map[string]string{"Key": dbKey, "Value": stored, "Database": cfg.Database.Path})
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
