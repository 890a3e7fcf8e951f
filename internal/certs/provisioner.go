package certs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/logging"
)

// Default names for issued identities.
var (
	DefaultCADN = DistinguishedName{
		CommonName:         "WebHost Local CA",
		Organization:       "WebHost",
		OrganizationalUnit: "Hosting",
	}
	DefaultServerDN = DistinguishedName{
		CommonName:         "WebHost",
		Organization:       "WebHost",
		OrganizationalUnit: "Hosting",
	}
	// DefaultLegacyNames are common names issued by earlier releases.
	DefaultLegacyNames = []string{"FileServer", "WebHost Legacy CA"}
)

// Options configures a Provisioner. Zero values select the defaults.
type Options struct {
	// Stores are searched and written in order, machine scope first.
	Stores []CertStore

	CADN        DistinguishedName
	ServerDN    DistinguishedName
	LegacyNames []string

	// ExtraHosts are added to the leaf SAN list (DNS names or IPs).
	ExtraHosts []string

	// RegenerateOnAddressChange reissues the leaf when an interface
	// address is missing from its SAN list. Drift is logged either way.
	RegenerateOnAddressChange bool

	// Addresses enumerates the host's IPv4 addresses. Defaults to LocalIPv4.
	Addresses func() ([]net.IP, error)

	// Now defaults to time.Now.
	Now func() time.Time

	// Trust optionally mirrors the CA into an OS anchor directory.
	Trust *SystemTrust

	// Sink receives operator-facing messages.
	Sink logging.Sink

	Logger *zap.Logger
}

// Provisioner finds, generates and trusts the local CA and server leaf.
type Provisioner struct {
	opts Options
	log  *zap.Logger
	mu   sync.Mutex
}

// NewProvisioner returns a Provisioner over opts.
func NewProvisioner(opts Options) *Provisioner {
	if opts.CADN.CommonName == "" {
		opts.CADN = DefaultCADN
	}
	if opts.ServerDN.CommonName == "" {
		opts.ServerDN = DefaultServerDN
	}
	if opts.LegacyNames == nil {
		opts.LegacyNames = DefaultLegacyNames
	}
	if opts.Addresses == nil {
		opts.Addresses = LocalIPv4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = logging.NopSink
	}
	log := opts.Logger
	if log == nil {
		log = logging.Named("certs")
	}
	return &Provisioner{opts: opts, log: log}
}

// Provision returns a usable leaf, generating and persisting the CA and
// leaf when none is found.
func (p *Provisioner) Provision(ctx context.Context) (*Leaf, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.opts.Stores) == 0 {
		return nil, &CertificateError{Operation: "provision", Err: ErrNoWritableStore}
	}

	ca, err := p.ensureCA()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := p.trust(ca); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return p.ensureLeaf(ca)
}

// FindCA returns the current usable CA, or nil when there is none.
func (p *Provisioner) FindCA() (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.find(StoreMy, p.opts.CADN, nil)
}

// FindLeaf returns the current usable leaf for ca, or nil.
func (p *Provisioner) FindLeaf(ca *Identity) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.find(StoreMy, p.opts.ServerDN, ca)
}

func (p *Provisioner) ensureCA() (*Identity, error) {
	ca, err := p.find(StoreMy, p.opts.CADN, nil)
	if err != nil {
		return nil, err
	}
	if ca != nil {
		p.log.Debug("Using existing CA", zap.String("thumbprint", ca.Thumbprint()))
		return ca, nil
	}

	ca, err = GenerateCA(p.opts.CADN, p.opts.Now())
	if err != nil {
		return nil, err
	}
	if _, err := p.add(StoreMy, ca, "persist_ca"); err != nil {
		return nil, err
	}
	p.log.Info("Generated local CA",
		zap.String("subject", ca.Subject()),
		zap.String("thumbprint", ca.Thumbprint()),
		zap.Time("not_after", ca.NotAfter()))
	p.opts.Sink.Write("Generated local certificate authority "+ca.Thumbprint(), "system", logging.LevelInfo)
	return ca, nil
}

func (p *Provisioner) ensureLeaf(ca *Identity) (*Leaf, error) {
	leaf, err := p.find(StoreMy, p.opts.ServerDN, ca)
	if err != nil {
		return nil, err
	}

	addrs, addrErr := p.opts.Addresses()
	if addrErr != nil {
		p.log.Warn("Failed to enumerate interface addresses", zap.Error(addrErr))
	}

	if leaf != nil {
		missing := MissingIPs(leaf, addrs)
		if len(missing) == 0 {
			return &Leaf{Identity: leaf, CA: ca}, nil
		}
		p.log.Warn("Server certificate does not cover current addresses",
			zap.String("thumbprint", leaf.Thumbprint()),
			zap.Stringers("missing", missing),
			zap.Bool("regenerate", p.opts.RegenerateOnAddressChange))
		if !p.opts.RegenerateOnAddressChange {
			return &Leaf{Identity: leaf, CA: ca}, nil
		}
	}

	leaf, err = GenerateLeaf(ca, p.opts.ServerDN, p.opts.ExtraHosts, addrs, p.opts.Now())
	if err != nil {
		return nil, err
	}
	if _, err := p.add(StoreMy, leaf, "persist_leaf"); err != nil {
		return nil, err
	}
	p.log.Info("Generated server certificate",
		zap.String("thumbprint", leaf.Thumbprint()),
		zap.Strings("dns", leaf.Cert.DNSNames),
		zap.Stringers("ips", leaf.Cert.IPAddresses))
	p.opts.Sink.Write("Generated server certificate "+leaf.Thumbprint(), "system", logging.LevelInfo)
	return &Leaf{Identity: leaf, CA: ca, Generated: true}, nil
}

// find walks the stores in order and returns the newest usable identity
// with the given DN. When issuer is set the identity must be issued by it.
// A store that cannot be read is skipped in favour of the next scope.
func (p *Provisioner) find(store StoreName, dn DistinguishedName, issuer *Identity) (*Identity, error) {
	now := p.opts.Now()
	var lastErr error
	readable := 0

	for _, s := range p.opts.Stores {
		ids, err := s.Find(store, dn.CommonName)
		if err != nil {
			p.log.Debug("Certificate store not readable, trying next scope",
				zap.String("scope", string(s.Scope())), zap.Error(err))
			lastErr = err
			continue
		}
		readable++

		var best *Identity
		for _, id := range ids {
			if !dn.Matches(id.Cert.Subject) || !id.UsableAt(now) {
				continue
			}
			if issuer != nil && !id.IssuedBy(issuer) {
				continue
			}
			if best == nil || id.NotAfter().After(best.NotAfter()) {
				best = id
			}
		}
		if best != nil {
			return best, nil
		}
	}

	if readable == 0 && lastErr != nil {
		return nil, &CertificateError{Operation: "find", Err: lastErr}
	}
	return nil, nil
}

// add writes id to the first store that accepts it.
func (p *Provisioner) add(store StoreName, id *Identity, op string) (Scope, error) {
	var errs []error
	for _, s := range p.opts.Stores {
		if err := s.Add(store, id); err != nil {
			p.log.Debug("Certificate store rejected write, trying next scope",
				zap.String("scope", string(s.Scope())),
				zap.String("store", string(store)),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		return s.Scope(), nil
	}
	return "", &CertificateError{
		Operation: op,
		Err:       fmt.Errorf("%w: %w", ErrNoWritableStore, errors.Join(errs...)),
	}
}

// trust installs ca into the root store unless its thumbprint is already
// present, then prunes legacy identities.
func (p *Provisioner) trust(ca *Identity) error {
	if !p.trusted(ca) {
		scope, err := p.add(StoreRoot, ca, "trust_ca")
		if err != nil {
			return err
		}
		p.log.Info("Trusted local CA", zap.String("scope", string(scope)), zap.String("thumbprint", ca.Thumbprint()))
	}

	if err := p.opts.Trust.Install(ca); err != nil {
		// The anchor directory is a convenience; the store is authoritative.
		p.log.Warn("Failed to install CA into system anchors", zap.Error(err))
	}

	removed := p.prune(ca)
	if removed > 0 {
		p.opts.Sink.Write(fmt.Sprintf("Removed %d legacy certificates", removed), "system", logging.LevelInfo)
	}
	return nil
}

func (p *Provisioner) trusted(ca *Identity) bool {
	thumb := ca.Thumbprint()
	for _, s := range p.opts.Stores {
		ids, err := s.Find(StoreRoot, ca.CommonName())
		if err != nil {
			continue
		}
		for _, id := range ids {
			if id.Thumbprint() == thumb {
				return true
			}
		}
	}
	return false
}

// Prune removes legacy identities from every store and returns how many
// were removed.
func (p *Provisioner) Prune(ca *Identity) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prune(ca)
}

// StaleEntry is a legacy identity found in one store.
type StaleEntry struct {
	Store    CertStore
	Name     StoreName
	Identity *Identity
}

// Stale lists what Prune would remove, without removing anything.
func (p *Provisioner) Stale(ca *Identity) []StaleEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staleEntries(ca)
}

func (p *Provisioner) staleEntries(ca *Identity) []StaleEntry {
	var current string
	if ca != nil {
		current = ca.Thumbprint()
	}

	var out []StaleEntry
	for _, s := range p.opts.Stores {
		for _, store := range []StoreName{StoreRoot, StoreMy} {
			ids, err := s.Find(store, "")
			if err != nil {
				continue
			}
			for _, id := range ids {
				if p.stale(id, current) {
					out = append(out, StaleEntry{Store: s, Name: store, Identity: id})
				}
			}
		}
	}
	return out
}

func (p *Provisioner) prune(ca *Identity) int {
	removed := 0
	for _, e := range p.staleEntries(ca) {
		id := e.Identity
		if err := e.Store.Remove(e.Name, id.Thumbprint()); err != nil {
			p.log.Debug("Failed to remove legacy certificate",
				zap.String("scope", string(e.Store.Scope())),
				zap.String("thumbprint", id.Thumbprint()),
				zap.Error(err))
			continue
		}
		p.log.Info("Removed legacy certificate",
			zap.String("scope", string(e.Store.Scope())),
			zap.String("store", string(e.Name)),
			zap.String("subject", id.Subject()),
			zap.String("thumbprint", id.Thumbprint()))
		removed++
	}
	return removed
}

// stale reports whether id is a legacy identity: its CN is a legacy name
// and it is either self-signed or no longer the current CA name. The
// current CA is never stale.
func (p *Provisioner) stale(id *Identity, currentThumb string) bool {
	if id.Thumbprint() == currentThumb {
		return false
	}
	cn := id.CommonName()
	if !slices.Contains(p.opts.LegacyNames, cn) {
		return false
	}
	return id.SelfSigned() || cn != p.opts.CADN.CommonName
}
