package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Instance is a WebHost found on the local network.
type Instance struct {
	// Name is the announced instance name, e.g. "office".
	Name string

	// Hostname is the mDNS hostname, e.g. "nas.local."
	Hostname string

	// IP prefers the first IPv4 address, falling back to IPv6.
	IP string

	Port int

	// Secure is true when Port serves HTTPS.
	Secure bool

	// Version is the announced build version, empty when absent.
	Version string

	Metadata     map[string]string
	DiscoveredAt time.Time
}

func (i *Instance) String() string {
	return fmt.Sprintf("WebHost %q (%s) at %s", i.Name, i.Hostname, net.JoinHostPort(i.IP, strconv.Itoa(i.Port)))
}

// BaseURL returns the root URL of the instance.
func (i *Instance) BaseURL() string {
	scheme := "http"
	if i.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(i.IP, strconv.Itoa(i.Port)))
}

// GetMetadata returns a TXT value, or "" when absent.
func (i *Instance) GetMetadata(key string) string {
	if i.Metadata == nil {
		return ""
	}
	return i.Metadata[key]
}
