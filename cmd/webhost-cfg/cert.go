package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/josystem/webhost/internal/certs"
	"github.com/josystem/webhost/internal/config"
	"github.com/josystem/webhost/internal/logging"
	"github.com/josystem/webhost/internal/ui"
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage the local certificate authority and server certificate",
}

var (
	pruneYes     bool
	exportDir    string
	exportKey    bool
	provisionNow = time.Now
)

func init() {
	certCmd.AddCommand(certProvisionCmd, certShowCmd, certPruneCmd, certExportCmd)

	certPruneCmd.Flags().BoolVarP(&pruneYes, "yes", "y", false, "Do not ask for confirmation")
	certExportCmd.Flags().StringVar(&exportDir, "out", ".", "Directory to write PEM files into")
	certExportCmd.Flags().BoolVar(&exportKey, "with-key", false, "Also export the server private key")
}

func loadProvisioner(p *ui.Printer) (*config.Config, *certs.Provisioner, error) {
	provider, err := config.NewFileProvider(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg := provider.Snapshot()
	configDir, err := config.GetConfigDir()
	if err != nil {
		return nil, nil, err
	}
	sink := logging.SinkFunc(func(message, actor string, level logging.Level) {
		if level >= logging.LevelWarning {
			p.Printf("%s %s\n", ui.WarningMarker, message)
		}
	})
	return cfg, certs.FromSettings(cfg.Certificates, configDir, sink), nil
}

func storeDirs(prov *certs.Provisioner) string {
	var dirs []string
	for _, s := range prov.Stores() {
		if fs, ok := s.(*certs.FileStore); ok {
			dirs = append(dirs, fmt.Sprintf("%s=%s", s.Scope(), fs.Dir()))
		}
	}
	return strings.Join(dirs, "  ")
}

var certProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Find or create the CA and server certificate",
	Long: `Run the same provisioning the server performs when HTTPS is enabled:
reuse a valid CA and leaf, or generate and trust new ones, and remove
certificates left behind by earlier releases.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout())
		_, prov, err := loadProvisioner(p)
		if err != nil {
			return err
		}
		p.PrintHeader("Certificate provisioning", "webhost-cfg cert provision",
			map[string]string{"Stores": storeDirs(prov)})

		leaf, err := prov.Provision(cmd.Context())
		if err != nil {
			p.PrintError("Provisioning failed", err, provisionTroubleshooting(err))
			return err
		}

		outcome := "reused"
		if leaf.Generated {
			outcome = "generated"
		}
		p.PrintSuccess("Server certificate ready", map[string]string{
			"Leaf":        outcome,
			"Subject":     leaf.Identity.Subject(),
			"Thumbprint":  leaf.Identity.Thumbprint(),
			"Expires":     leaf.Identity.NotAfter().Format(time.DateOnly),
			"CA":          leaf.CA.Subject(),
			"Fingerprint": leaf.CA.Fingerprint(),
		})
		return nil
	},
}

func provisionTroubleshooting(err error) []string {
	tips := []string{"Run with WEBHOST_LOG_LEVEL=debug for details"}
	if errors.Is(err, certs.ErrNoWritableStore) {
		tips = append([]string{
			"Neither certificate store directory is writable",
			"Set certificates.user_store_dir to a directory you own",
		}, tips...)
	}
	return tips
}

var certShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current CA and server certificate",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout())
		_, prov, err := loadProvisioner(p)
		if err != nil {
			return err
		}

		ca, err := prov.FindCA()
		if err != nil {
			return err
		}
		if ca == nil {
			p.PrintWarning("No certificate authority", map[string]string{
				"Stores": storeDirs(prov),
				"Hint":   "run 'webhost-cfg cert provision'",
			})
			return nil
		}
		p.PrintSuccess("Certificate authority", identityDetails(ca, provisionNow()))

		leaf, err := prov.FindLeaf(ca)
		if err != nil {
			return err
		}
		if leaf == nil {
			p.PrintWarning("No usable server certificate", map[string]string{"Hint": "run 'webhost-cfg cert provision'"})
			return nil
		}
		details := identityDetails(leaf, provisionNow())
		if addrs, err := certs.LocalIPv4(); err == nil {
			if missing := certs.MissingIPs(leaf, addrs); len(missing) > 0 {
				var s []string
				for _, ip := range missing {
					s = append(s, ip.String())
				}
				details["Missing IPs"] = strings.Join(s, ", ")
			}
		}
		p.PrintSuccess("Server certificate", details)
		return nil
	},
}

func identityDetails(id *certs.Identity, now time.Time) map[string]string {
	d := map[string]string{
		"Subject":     id.Subject(),
		"Issuer":      id.Issuer(),
		"Thumbprint":  id.Thumbprint(),
		"Fingerprint": id.Fingerprint(),
		"Valid":       fmt.Sprintf("%s to %s", id.NotBefore().Format(time.DateOnly), id.NotAfter().Format(time.DateOnly)),
		"Usable":      fmt.Sprint(id.UsableAt(now)),
	}
	if len(id.Cert.DNSNames) > 0 {
		d["DNS names"] = strings.Join(id.Cert.DNSNames, ", ")
	}
	if len(id.Cert.IPAddresses) > 0 {
		var ips []string
		for _, ip := range id.Cert.IPAddresses {
			ips = append(ips, ip.String())
		}
		d["IP addresses"] = strings.Join(ips, ", ")
	}
	return d
}

var certPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove certificates issued by earlier releases",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout())
		_, prov, err := loadProvisioner(p)
		if err != nil {
			return err
		}
		ca, err := prov.FindCA()
		if err != nil {
			return err
		}

		stale := prov.Stale(ca)
		if len(stale) == 0 {
			p.PrintSuccess("Nothing to prune", nil)
			return nil
		}
		if !pruneYes {
			var lines []string
			for _, e := range stale {
				lines = append(lines, fmt.Sprintf("%s/%s: %s (%s)", e.Store.Scope(), e.Name, e.Identity.Subject(), e.Identity.Thumbprint()))
			}
			if !p.Confirm(cmd.InOrStdin(), fmt.Sprintf("Remove %d certificate(s)", len(stale)), lines) {
				p.Println("Aborted.")
				return nil
			}
		}

		removed := prov.Prune(ca)
		p.PrintSuccess("Legacy certificates removed", map[string]string{
			"Removed": fmt.Sprint(removed),
			"Found":   fmt.Sprint(len(stale)),
		})
		return nil
	},
}

var certExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the CA (and optionally the server certificate) as PEM files",
	Long: `Export the CA certificate so other machines can trust this server.
The server certificate and key are written too with --with-key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := ui.NewPrinter(cmd.OutOrStdout())
		_, prov, err := loadProvisioner(p)
		if err != nil {
			return err
		}
		ca, err := prov.FindCA()
		if err != nil {
			return err
		}
		if ca == nil {
			return errors.New("no certificate authority found; run 'webhost-cfg cert provision' first")
		}

		if err := os.MkdirAll(exportDir, 0755); err != nil {
			return err
		}
		written := map[string]string{}
		caPath := filepath.Join(exportDir, "webhost-ca.crt")
		if err := os.WriteFile(caPath, ca.CertPEM(), 0644); err != nil {
			return err
		}
		written["CA"] = caPath

		if exportKey {
			leaf, err := prov.FindLeaf(ca)
			if err != nil {
				return err
			}
			if leaf == nil {
				return errors.New("no usable server certificate to export")
			}
			keyPEM, err := leaf.KeyPEM()
			if err != nil {
				return err
			}
			certPath := filepath.Join(exportDir, "webhost.crt")
			keyPath := filepath.Join(exportDir, "webhost.key")
			if err := os.WriteFile(certPath, append(leaf.CertPEM(), ca.CertPEM()...), 0644); err != nil {
				return err
			}
			if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
				return err
			}
			written["Certificate"] = certPath
			written["Key"] = keyPath
		}

		p.PrintSuccess("Certificates exported", written)
		return nil
	},
}
