package discovery

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceEntry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		entry      *zeroconf.ServiceEntry
		wantNil    bool
		wantIP     string
		wantSecure bool
	}{
		{
			name: "ipv4 https",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "office"},
				HostName:      "nas.local.",
				Port:          5001,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"version=1.2.0", "secure=true", "path=/"},
			},
			wantIP:     "192.168.4.16",
			wantSecure: true,
		},
		{
			name: "ipv6 fallback",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "lab"},
				HostName:      "lab.local.",
				Port:          5000,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
				Text:          []string{"secure=false"},
			},
			wantIP: "fe80::1",
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "ghost"},
				Port:          5000,
			},
			wantNil: true,
		},
		{
			name: "no port",
			entry: &zeroconf.ServiceEntry{
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantNil: true,
		},
		{
			name:    "nil",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseServiceEntry(tt.entry, now)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.entry.Instance, got.Name)
			assert.Equal(t, tt.wantIP, got.IP)
			assert.Equal(t, tt.entry.Port, got.Port)
			assert.Equal(t, tt.wantSecure, got.Secure)
			assert.Equal(t, now, got.DiscoveredAt)
		})
	}
}

func TestInstanceURLs(t *testing.T) {
	inst := &Instance{Name: "office", Hostname: "nas.local.", IP: "192.168.4.16", Port: 5001, Secure: true}
	assert.Equal(t, "https://192.168.4.16:5001", inst.BaseURL())
	assert.Equal(t, `WebHost "office" (nas.local.) at 192.168.4.16:5001`, inst.String())

	v6 := &Instance{IP: "fe80::1", Port: 5000}
	assert.Equal(t, "http://[fe80::1]:5000", v6.BaseURL())
}

func TestInstanceGetMetadata(t *testing.T) {
	inst := &Instance{Metadata: map[string]string{"version": "1.0.0"}}
	assert.Equal(t, "1.0.0", inst.GetMetadata("version"))
	assert.Empty(t, inst.GetMetadata("missing"))
	assert.Empty(t, (&Instance{}).GetMetadata("version"))
}

func TestTXT(t *testing.T) {
	txt := TXT(true)
	assert.Contains(t, txt, "secure=true")
	assert.Contains(t, txt, "path=/")
	assert.Len(t, txt, 3)
}

type fakeServer struct{ shutdowns int }

func (f *fakeServer) Shutdown() { f.shutdowns++ }

func TestAnnouncer(t *testing.T) {
	srv := &fakeServer{}
	var gotInstance string
	var gotPort int
	var gotText []string
	a := &Announcer{register: func(instance string, port int, text []string) (shutdowner, error) {
		gotInstance, gotPort, gotText = instance, port, text
		return srv, nil
	}}

	stop, err := a.Announce("", 5001, true)
	require.NoError(t, err)
	assert.Equal(t, "webhost", gotInstance)
	assert.Equal(t, 5001, gotPort)
	assert.Contains(t, gotText, "secure=true")

	stop()
	stop()
	assert.Equal(t, 1, srv.shutdowns)
}

func TestAnnouncerRegisterFailure(t *testing.T) {
	boom := errors.New("no multicast interface")
	a := &Announcer{register: func(string, int, []string) (shutdowner, error) { return nil, boom }}

	stop, err := a.Announce("office", 5000, false)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, stop)
}
