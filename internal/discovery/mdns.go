package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/logging"
	"github.com/josystem/webhost/internal/version"
)

const (
	// ServiceType is the mDNS service WebHost instances register.
	ServiceType = "_webhost._tcp"

	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."

	DefaultScanTimeout = 5 * time.Second

	txtVersion = "version"
	txtSecure  = "secure"
	txtPath    = "path"
)

// shutdowner is the part of *zeroconf.Server the announcer uses.
type shutdowner interface{ Shutdown() }

// Announcer registers the host as an mDNS service.
type Announcer struct {
	register func(instance string, port int, text []string) (shutdowner, error)
}

// NewAnnouncer returns an Announcer backed by zeroconf on all interfaces.
func NewAnnouncer() *Announcer {
	return &Announcer{
		register: func(instance string, port int, text []string) (shutdowner, error) {
			return zeroconf.Register(instance, ServiceType, ServiceDomain, port, text, nil)
		},
	}
}

// TXT builds the TXT records announced for a host.
func TXT(secure bool) []string {
	return []string{
		txtVersion + "=" + version.Short(),
		txtSecure + "=" + fmt.Sprint(secure),
		txtPath + "=/",
	}
}

// Announce advertises instance on port until stop is called. stop is safe
// to call more than once.
func (a *Announcer) Announce(instance string, port int, secure bool) (func(), error) {
	if instance == "" {
		instance = "webhost"
	}
	srv, err := a.register(instance, port, TXT(secure))
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("mDNS service registered",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
		zap.Bool("secure", secure))

	var once sync.Once
	return func() {
		once.Do(func() {
			srv.Shutdown()
			logging.Debug("mDNS service withdrawn", zap.String("instance", instance))
		})
	}, nil
}

// Scanner browses for announced instances.
type Scanner struct {
	Timeout time.Duration
}

// NewScanner creates a Scanner with the default timeout.
func NewScanner() *Scanner {
	return &Scanner{Timeout: DefaultScanTimeout}
}

// Scan browses until the timeout or ctx ends and returns the instances
// seen, sorted by name. Repeated answers for one instance are merged.
func (s *Scanner) Scan(ctx context.Context) ([]*Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	found := make(map[string]*Instance)
	go func() {
		for entry := range entries {
			if inst := parseServiceEntry(entry, time.Now()); inst != nil {
				mu.Lock()
				found[inst.Name] = inst
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	instances := make([]*Instance, 0, len(found))
	for _, inst := range found {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })
	return instances, nil
}

// parseServiceEntry converts a zeroconf entry, returning nil when it has
// no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry, now time.Time) *Instance {
	if entry == nil {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port == 0 {
		return nil
	}

	metadata := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		k, v, _ := strings.Cut(txt, "=")
		metadata[k] = v
	}

	return &Instance{
		Name:         entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Secure:       metadata[txtSecure] == "true",
		Version:      metadata[txtVersion],
		Metadata:     metadata,
		DiscoveredAt: now,
	}
}
