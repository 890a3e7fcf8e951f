package certs

import (
	"bytes"
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ExpiryBuffer is how long before NotAfter a certificate stops being usable.
const ExpiryBuffer = 30 * 24 * time.Hour

// DistinguishedName is the subset of a subject this package issues and matches.
type DistinguishedName struct {
	CommonName         string
	Organization       string
	OrganizationalUnit string
}

// Name converts to a pkix.Name for certificate templates.
func (d DistinguishedName) Name() pkix.Name {
	n := pkix.Name{CommonName: d.CommonName}
	if d.Organization != "" {
		n.Organization = []string{d.Organization}
	}
	if d.OrganizationalUnit != "" {
		n.OrganizationalUnit = []string{d.OrganizationalUnit}
	}
	return n
}

// Matches reports whether n carries exactly this CN, O and OU.
func (d DistinguishedName) Matches(n pkix.Name) bool {
	return n.CommonName == d.CommonName &&
		slices.Equal(n.Organization, d.Name().Organization) &&
		slices.Equal(n.OrganizationalUnit, d.Name().OrganizationalUnit)
}

func (d DistinguishedName) String() string {
	return d.Name().String()
}

// Identity is a certificate plus its private key, when one is held.
type Identity struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Subject returns the subject DN in RFC 2253 form.
func (id *Identity) Subject() string { return id.Cert.Subject.String() }

// Issuer returns the issuer DN in RFC 2253 form.
func (id *Identity) Issuer() string { return id.Cert.Issuer.String() }

// CommonName returns the subject CN.
func (id *Identity) CommonName() string { return id.Cert.Subject.CommonName }

// NotBefore returns the start of the validity window.
func (id *Identity) NotBefore() time.Time { return id.Cert.NotBefore }

// NotAfter returns the end of the validity window.
func (id *Identity) NotAfter() time.Time { return id.Cert.NotAfter }

// HasPrivateKey reports whether the key is held.
func (id *Identity) HasPrivateKey() bool { return id.Key != nil }

// SelfSigned reports whether issuer and subject are the same name.
func (id *Identity) SelfSigned() bool {
	return bytes.Equal(id.Cert.RawIssuer, id.Cert.RawSubject)
}

// IssuedBy reports whether ca's subject is this certificate's issuer.
func (id *Identity) IssuedBy(ca *Identity) bool {
	return bytes.Equal(id.Cert.RawIssuer, ca.Cert.RawSubject)
}

// Thumbprint is the upper-case SHA-1 hex digest of the DER encoding, the
// key OS certificate stores index by.
func (id *Identity) Thumbprint() string {
	sum := sha1.Sum(id.Cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Fingerprint is the SHA-256 digest of the DER encoding as colon separated hex.
func (id *Identity) Fingerprint() string {
	sum := sha256.Sum256(id.Cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// UsableAt reports whether the identity may be presented at now.
func (id *Identity) UsableAt(now time.Time) bool {
	return Usable(id.Cert.NotBefore, id.Cert.NotAfter, id.HasPrivateKey(), now)
}

// Usable is the validity predicate: the key is held and
// notBefore <= now <= notAfter - ExpiryBuffer.
func Usable(notBefore, notAfter time.Time, hasKey bool, now time.Time) bool {
	if !hasKey {
		return false
	}
	if now.Before(notBefore) {
		return false
	}
	return !now.After(notAfter.Add(-ExpiryBuffer))
}

// CertPEM encodes the certificate.
func (id *Identity) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Cert.Raw})
}

// KeyPEM encodes the private key as PKCS#8.
func (id *Identity) KeyPEM() ([]byte, error) {
	if id.Key == nil {
		return nil, fmt.Errorf("identity %s has no private key", id.Thumbprint())
	}
	der, err := x509.MarshalPKCS8PrivateKey(id.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParseIdentity decodes a PEM certificate and an optional PEM key.
func ParseIdentity(certPEM, keyPEM []byte) (*Identity, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	id := &Identity{Cert: cert}
	if len(keyPEM) == 0 {
		return id, nil
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("no PEM private key found")
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		// Older files may be PKCS#1
		key, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key type %T cannot sign", key)
	}
	id.Key = signer
	return id, nil
}

// Leaf is the server identity handed to the TLS listener, with the CA
// that issued it.
type Leaf struct {
	Identity *Identity
	CA       *Identity
	// Generated is true when Provision minted a new leaf on this call.
	Generated bool
}

// TLSCertificate builds the chain presented during the handshake.
func (l *Leaf) TLSCertificate() (tls.Certificate, error) {
	if l == nil || l.Identity == nil || l.Identity.Key == nil {
		return tls.Certificate{}, fmt.Errorf("leaf has no private key")
	}
	chain := [][]byte{l.Identity.Cert.Raw}
	if l.CA != nil {
		chain = append(chain, l.CA.Cert.Raw)
	}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  l.Identity.Key,
		Leaf:        l.Identity.Cert,
	}, nil
}
