package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"math/big"
	"net"
	"slices"
	"time"
)

const (
	keyBits      = 2048
	caValidity   = 20
	leafValidity = 10
	backdate     = 24 * time.Hour
)

// GenerateCA creates a self-signed RSA CA valid for 20 years from
// yesterday.
func GenerateCA(dn DistinguishedName, now time.Time) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_key", Err: err}
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, &CertificateError{Operation: "generate_serial", Err: err}
	}

	notBefore := now.Add(-backdate)
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               dn.Name(),
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(caValidity, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_ca", Err: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_ca", Err: err}
	}
	return &Identity{Cert: cert, Key: key}, nil
}

// GenerateLeaf issues a server certificate from ca for localhost, the
// loopback address, ips and hosts. The serial is the issue time in
// nanoseconds.
func GenerateLeaf(ca *Identity, dn DistinguishedName, hosts []string, ips []net.IP, now time.Time) (*Identity, error) {
	if ca == nil || ca.Key == nil {
		return nil, &CertificateError{Operation: "generate_leaf", Err: errNoCAKey}
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_key", Err: err}
	}

	dnsNames := []string{"localhost"}
	ipAddrs := []net.IP{net.IPv4(127, 0, 0, 1).To4()}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = appendIP(ipAddrs, ip)
		} else if h != "" && !slices.Contains(dnsNames, h) {
			dnsNames = append(dnsNames, h)
		}
	}
	for _, ip := range ips {
		ipAddrs = appendIP(ipAddrs, ip)
	}

	notBefore := now.Add(-backdate)
	template := x509.Certificate{
		SerialNumber:          big.NewInt(now.UnixNano()),
		Subject:               dn.Name(),
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(leafValidity, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_leaf", Err: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_leaf", Err: err}
	}
	return &Identity{Cert: cert, Key: key}, nil
}

func appendIP(list []net.IP, ip net.IP) []net.IP {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, existing := range list {
		if existing.Equal(ip) {
			return list
		}
	}
	return append(list, ip)
}

// LocalIPv4 returns the IPv4 unicast addresses of every interface that is up.
func LocalIPv4() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipnet.IP.To4(); v4 != nil && !v4.IsMulticast() && !v4.IsUnspecified() {
				out = appendIP(out, v4)
			}
		}
	}
	return out, nil
}

// MissingIPs returns the addresses in want that id's SAN list lacks.
func MissingIPs(id *Identity, want []net.IP) []net.IP {
	var missing []net.IP
	for _, ip := range want {
		found := false
		for _, have := range id.Cert.IPAddresses {
			if have.Equal(ip) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, ip)
		}
	}
	return missing
}
