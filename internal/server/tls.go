package server

import (
	"crypto/tls"
	"fmt"

	"github.com/josystem/webhost/internal/certs"
	"github.com/josystem/webhost/internal/logging"
)

// newTLSConfig serves whatever certificate get returns at handshake time,
// so a renewed leaf is picked up without rebinding.
func newTLSConfig(get func() *tls.Certificate) *tls.Config {
	base := &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert := get()
			if cert == nil {
				return nil, fmt.Errorf("no server certificate loaded")
			}
			return cert, nil
		},
	}
	base.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		return handshakeConfig(base, hello), nil
	}
	return base
}

// handshakeConfig derives a per-connection config that logs the completed
// handshake with the peer address.
func handshakeConfig(base *tls.Config, hello *tls.ClientHelloInfo) *tls.Config {
	var remote string
	if hello.Conn != nil {
		remote = hello.Conn.RemoteAddr().String()
	}
	cfg := base.Clone()
	cfg.GetConfigForClient = nil
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		logging.LogTLSHandshake(remote, cs.Version, cs.CipherSuite, cs.ServerName)
		return nil
	}
	return cfg
}

// TLSInfo returns human-readable details of the active leaf.
func TLSInfo(leaf *certs.Leaf) map[string]any {
	if leaf == nil || leaf.Identity == nil {
		return map[string]any{"enabled": false}
	}
	info := map[string]any{
		"enabled":     true,
		"min_version": "TLS 1.2",
		"subject":     leaf.Identity.Subject(),
		"issuer":      leaf.Identity.Issuer(),
		"thumbprint":  leaf.Identity.Thumbprint(),
		"not_after":   leaf.Identity.NotAfter(),
		"dns_names":   leaf.Identity.Cert.DNSNames,
	}
	ips := make([]string, 0, len(leaf.Identity.Cert.IPAddresses))
	for _, ip := range leaf.Identity.Cert.IPAddresses {
		ips = append(ips, ip.String())
	}
	info["ip_addresses"] = ips
	if leaf.CA != nil {
		info["ca_thumbprint"] = leaf.CA.Thumbprint()
	}
	return info
}
