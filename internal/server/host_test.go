package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josystem/webhost/internal/certs"
	"github.com/josystem/webhost/internal/config"
	"github.com/josystem/webhost/internal/hub"
)

type statusLog struct {
	mu     sync.Mutex
	events []bool
}

func (l *statusLog) record(s hub.ServerStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s.Running)
}

func (l *statusLog) get() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.events...)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.NewConfig()
	cfg.Server.BindHost = "127.0.0.1"
	cfg.Server.HTTPPort = 0
	cfg.Server.HTTPSPort = 0
	cfg.Server.RootPath = t.TempDir()
	cfg.Server.WatchRoot = false
	return cfg
}

func startHost(t *testing.T, cfg *config.Config, opts Options) *Host {
	t.Helper()
	opts.Config = config.NewStaticProvider(cfg)
	if opts.Assets == nil {
		opts.Assets = testAssets
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour
	}
	h, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(context.Background()) })
	return h
}

func dialWS(t *testing.T, h *Host) *websocket.Conn {
	t.Helper()
	before := h.Hub().Count()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+h.Addrs()[0].String()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.Hub().Count() > before }, 2*time.Second, 5*time.Millisecond)
	return conn
}

// readEvent returns the next event of type want, skipping others.
func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, raw, err := hub.DecodeEvent(data)
		require.NoError(t, err)
		if ev.Type == want {
			return raw
		}
	}
}

func TestHostStartStop(t *testing.T) {
	cfg := testConfig(t)
	h := startHost(t, cfg, Options{})

	assert.Equal(t, StateRunning, h.State())
	assert.True(t, h.Running())
	require.Equal(t, 1, h.ListenerCount())

	resp, err := http.Get("http://" + h.Addrs()[0].String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>index</html>", string(body))

	addr := h.Addrs()[0].String()
	h.Stop(context.Background())
	assert.Equal(t, StateStopped, h.State())
	assert.False(t, h.Running())
	assert.Equal(t, 0, h.ListenerCount())

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "listener released")

	h.Stop(context.Background())
	assert.ErrorIs(t, h.NotifyFilesChanged(context.Background(), hub.ReasonManual), ErrNotRunning)
}

func TestHostDoubleStartRebinds(t *testing.T) {
	cfg := testConfig(t)
	h := startHost(t, cfg, Options{})
	first := h.Addrs()[0].String()

	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, StateRunning, h.State())
	require.Equal(t, 1, h.ListenerCount(), "exactly one listener after a second start")

	second := h.Addrs()[0].String()
	if second != first {
		_, err := net.DialTimeout("tcp", first, 200*time.Millisecond)
		assert.Error(t, err, "first listener was released")
	}
	resp, err := http.Get("http://" + second + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHostStatusEventOrder(t *testing.T) {
	log := &statusLog{}
	cfg := testConfig(t)
	cfg.Server.HTTPSPort = 5999
	h := startHost(t, cfg, Options{OnStatus: log.record})

	conn := dialWS(t, h)

	require.NoError(t, h.Restart(context.Background()))
	assert.Equal(t, []bool{true, false, true}, log.get())

	raw := readEvent(t, conn, hub.TypeServerStatus)
	var status hub.ServerStatus
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.False(t, status.Running, "clients hear about the stop before teardown")
	assert.Equal(t, 5999, status.HTTPSPort)
	assert.Equal(t, cfg.Server.RootPath, status.RootPath)

	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection closed by the stop")

	fresh := dialWS(t, h)
	require.NoError(t, h.NotifyFilesChanged(context.Background(), hub.ReasonManual))
	raw = readEvent(t, fresh, hub.TypeFilesChanged)
	assert.JSONEq(t, `{"reason":"manual"}`, string(raw))

	assert.True(t, h.Status().Running)
	assert.Equal(t, portOf(h.Addrs()[0]), h.Status().Port)
}

func TestHostRefreshRequest(t *testing.T) {
	h := startHost(t, testConfig(t), Options{})
	a := dialWS(t, h)
	b := dialWS(t, h)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"action":"requestRefresh"}`)))

	for _, c := range []*websocket.Conn{a, b} {
		raw := readEvent(t, c, hub.TypeFilesChanged)
		assert.JSONEq(t, `{"reason":"manual"}`, string(raw))
	}
}

func TestHostHeartbeat(t *testing.T) {
	h := startHost(t, testConfig(t), Options{HeartbeatInterval: 20 * time.Millisecond})
	conn := dialWS(t, h)
	raw := readEvent(t, conn, hub.TypeHeartbeat)
	assert.Empty(t, raw)
}

func TestHostPortUnavailable(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	cfg := testConfig(t)
	cfg.Server.HTTPPort = port
	h, err := New(Options{
		Config:           config.NewStaticProvider(cfg),
		PortWaitAttempts: 2,
		PortWaitInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	err = h.Start(context.Background())
	var portErr *PortUnavailableError
	require.ErrorAs(t, err, &portErr)
	assert.Equal(t, port, portErr.Port)
	assert.Equal(t, StateStopped, h.State())
	assert.Equal(t, 0, h.ListenerCount())
}

func TestHostPortWaitTolerantOfSlowRelease(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := busy.Addr().(*net.TCPAddr).Port
	time.AfterFunc(60*time.Millisecond, func() { busy.Close() })

	cfg := testConfig(t)
	cfg.Server.HTTPPort = port
	h := startHost(t, cfg, Options{PortWaitInterval: 20 * time.Millisecond})
	assert.Equal(t, port, portOf(h.Addrs()[0]))
}

func newCertProvisioner(stores ...certs.CertStore) *certs.Provisioner {
	return certs.NewProvisioner(certs.Options{
		Stores:    stores,
		Addresses: func() ([]net.IP, error) { return nil, nil },
	})
}

func TestHostHTTPS(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.EnableHTTPS = true
	h := startHost(t, cfg, Options{Certs: newCertProvisioner(certs.NewMemoryStore(certs.ScopeUser))})

	require.Equal(t, 2, h.ListenerCount())
	leaf := h.Leaf()
	require.NotNil(t, leaf)

	pool := x509.NewCertPool()
	pool.AddCert(leaf.CA.Cert)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}

	resp, err := client.Get("https://" + h.Addrs()[1].String() + "/app.js")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log(1)", string(body))
	require.NotNil(t, resp.TLS)
	assert.Equal(t, leaf.Identity.Thumbprint(), (&certs.Identity{Cert: resp.TLS.PeerCertificates[0]}).Thumbprint())

	status := h.Status()
	assert.True(t, status.EnableHTTPS)
	assert.Equal(t, portOf(h.Addrs()[1]), status.HTTPSPort)

	report := h.StatusReport()
	assert.Equal(t, true, report.TLS["enabled"])
}

func TestHostRebuildsProvisionerOnRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.EnableHTTPS = true
	provider := config.NewStaticProvider(cfg)

	var seen []string
	h, err := New(Options{
		Config: provider,
		Assets: testAssets,
		CertsFromConfig: func(c *config.Config) *certs.Provisioner {
			seen = append(seen, c.Certificates.ExtraHosts...)
			return certs.NewProvisioner(certs.Options{
				Stores:     []certs.CertStore{certs.NewMemoryStore(certs.ScopeUser)},
				ExtraHosts: c.Certificates.ExtraHosts,
				Addresses:  func() ([]net.IP, error) { return nil, nil },
			})
		},
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(context.Background()) })
	assert.NotContains(t, h.Leaf().Identity.Cert.DNSNames, "files.example.lan")

	provider.Update(func(c *config.Config) { c.Certificates.ExtraHosts = []string{"files.example.lan"} })
	require.NoError(t, h.Restart(context.Background()))

	assert.Contains(t, h.Leaf().Identity.Cert.DNSNames, "files.example.lan")
	assert.Equal(t, []string{"files.example.lan"}, seen)
}

func TestHostCertificateFailureAbortsStart(t *testing.T) {
	store := certs.NewMemoryStore(certs.ScopeMachine)
	store.WriteErr = errors.New("read-only")

	cfg := testConfig(t)
	cfg.Server.EnableHTTPS = true
	h, err := New(Options{Config: config.NewStaticProvider(cfg), Certs: newCertProvisioner(store)})
	require.NoError(t, err)

	err = h.Start(context.Background())
	var certErr *certs.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, StateStopped, h.State())
	assert.Equal(t, 0, h.ListenerCount(), "no HTTP-only fallback")

	h2, err := New(Options{Config: config.NewStaticProvider(cfg)})
	require.NoError(t, err)
	require.ErrorAs(t, h2.Start(context.Background()), &certErr)
}

func TestHostWatcherBroadcasts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.WatchRoot = true
	h := startHost(t, cfg, Options{WatchDebounce: 20 * time.Millisecond})
	conn := dialWS(t, h)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Server.RootPath, "new.txt"), []byte("hi"), 0644))
	raw := readEvent(t, conn, hub.TypeFilesChanged)
	assert.JSONEq(t, `{"reason":"watcher"}`, string(raw))
}

type fakeAnnouncer struct {
	mu       sync.Mutex
	instance string
	port     int
	secure   bool
	stopped  int
}

func (f *fakeAnnouncer) Announce(instance string, port int, secure bool) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instance, f.port, f.secure = instance, port, secure
	return func() {
		f.mu.Lock()
		f.stopped++
		f.mu.Unlock()
	}, nil
}

func TestHostAnnounces(t *testing.T) {
	ann := &fakeAnnouncer{}
	cfg := testConfig(t)
	cfg.Discovery.Announce = true
	cfg.Discovery.InstanceName = "office"
	h := startHost(t, cfg, Options{Announcer: ann})

	ann.mu.Lock()
	assert.Equal(t, "office", ann.instance)
	assert.Equal(t, portOf(h.Addrs()[0]), ann.port)
	assert.False(t, ann.secure)
	ann.mu.Unlock()

	h.Stop(context.Background())
	ann.mu.Lock()
	assert.Equal(t, 1, ann.stopped)
	ann.mu.Unlock()
}

func TestHostMaxConnections(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxConnections = 1
	h := startHost(t, cfg, Options{})

	resp, err := http.Get("http://" + h.Addrs()[0].String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "state(9)", State(9).String())
}
