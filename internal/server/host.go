package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/josystem/webhost/internal/certs"
	"github.com/josystem/webhost/internal/config"
	"github.com/josystem/webhost/internal/hub"
	"github.com/josystem/webhost/internal/logging"
	"github.com/josystem/webhost/internal/metrics"
)

const defaultShutdownGrace = 2 * time.Second

// State is the host lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Announcer advertises the running host on the local network.
type Announcer interface {
	Announce(instance string, port int, secure bool) (stop func(), err error)
}

// Options wires a Host to its collaborators. Config is required.
type Options struct {
	Config config.Provider

	// Certs provisions the TLS leaf; required when HTTPS is enabled.
	Certs *certs.Provisioner

	// CertsFromConfig, when set, builds the provisioner from the
	// snapshot taken on every Start and Restart, so certificate settings
	// follow a reload. It takes precedence over Certs.
	CertsFromConfig func(cfg *config.Config) *certs.Provisioner

	// Auth guards protected path prefixes. Defaults to CookieAuth.
	Auth AuthChecker

	// Sink receives operator-facing lifecycle messages.
	Sink logging.Sink

	// Assets are served for unmatched paths. nil serves nothing.
	Assets fs.FS

	// MountAPI attaches caller routes under /api.
	MountAPI func(api *gin.RouterGroup)

	Announcer Announcer
	Metrics   *metrics.Metrics

	// OnStatus observes every serverStatus broadcast, in order.
	OnStatus func(hub.ServerStatus)

	HeartbeatInterval time.Duration
	PortWaitAttempts  int
	PortWaitInterval  time.Duration
	ShutdownGrace     time.Duration
	WatchDebounce     time.Duration
	Now               func() time.Time
}

// Host owns the listeners, request pipeline and connection hub.
type Host struct {
	opts    Options
	hub     *hub.Hub
	metrics *metrics.Metrics
	now     func() time.Time

	// mu serializes Start, Stop and Restart for their whole duration.
	mu      sync.Mutex
	state   atomic.Int32
	running atomic.Bool

	servers     []*http.Server
	addrs       []net.Addr
	serveWG     sync.WaitGroup
	status      hub.ServerStatus
	statusMu    sync.Mutex
	connCtx     context.Context
	connStop    context.CancelFunc
	ctxMu       sync.RWMutex
	tlsCert     atomic.Pointer[tls.Certificate]
	leaf        atomic.Pointer[certs.Leaf]
	provisioner *certs.Provisioner
	renewer     *certs.Maintainer
	watcher     *rootWatcher
	unannounce  func()
}

// New creates a stopped host.
func New(opts Options) (*Host, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config provider is required")
	}
	if opts.Auth == nil {
		opts.Auth = CookieAuth
	}
	if opts.Sink == nil {
		opts.Sink = logging.NopSink
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = hub.DefaultHeartbeatInterval
	}
	if opts.PortWaitAttempts <= 0 {
		opts.PortWaitAttempts = defaultPortWaitAttempts
	}
	if opts.PortWaitInterval <= 0 {
		opts.PortWaitInterval = defaultPortWaitInterval
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)

	h := &Host{
		opts:    opts,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	h.hub = hub.New(hub.Options{
		Handler:  h.handleMessage,
		Observer: opts.Metrics,
		Now:      opts.Now,
	})
	opts.Metrics.TrackConnections(h.hub.Count)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	h.connCtx, h.connStop = cancelled, cancel
	return h, nil
}

// Hub returns the connection hub.
func (h *Host) Hub() *hub.Hub { return h.hub }

// Metrics returns the host's collectors.
func (h *Host) Metrics() *metrics.Metrics { return h.metrics }

// State returns the lifecycle state.
func (h *Host) State() State { return State(h.state.Load()) }

// Running reports whether the host is serving.
func (h *Host) Running() bool { return h.running.Load() }

// Addrs returns the bound listener addresses, HTTP first.
func (h *Host) Addrs() []net.Addr {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	return append([]net.Addr(nil), h.addrs...)
}

// ListenerCount returns the number of bound listeners.
func (h *Host) ListenerCount() int {
	return len(h.Addrs())
}

// Status returns the last status broadcast.
func (h *Host) Status() hub.ServerStatus {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	return h.status
}

// Leaf returns the certificate in use, nil without HTTPS.
func (h *Host) Leaf() *certs.Leaf { return h.leaf.Load() }

// Handler builds the request pipeline. Start installs the same pipeline.
func (h *Host) Handler() http.Handler { return h.buildEngine() }

// Start binds and begins serving. Starting a running host restarts it.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() != StateStopped {
		logging.Info("Start requested while running, restarting")
		h.stopLocked(ctx)
	}
	return h.startLocked(ctx)
}

// Stop tears the host down. Stopping a stopped host does nothing.
func (h *Host) Stop(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked(ctx)
}

// Restart stops the host if needed, then starts it.
func (h *Host) Restart(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked(ctx)
	return h.startLocked(ctx)
}

// NotifyFilesChanged broadcasts a filesChanged event.
func (h *Host) NotifyFilesChanged(ctx context.Context, reason string) error {
	if !h.Running() {
		return ErrNotRunning
	}
	return h.hub.Broadcast(ctx, hub.FilesChangedEvent(reason, h.now()))
}

func (h *Host) startLocked(ctx context.Context) (err error) {
	h.state.Store(int32(StateStarting))
	defer func() {
		if err != nil {
			h.state.Store(int32(StateStopped))
			h.opts.Sink.Write("Web server failed to start: "+err.Error(), "system", logging.LevelError)
		}
	}()

	cfg := h.opts.Config.Snapshot()
	srv := cfg.Server

	if !waitForPort(ctx, srv.BindHost, srv.HTTPPort, h.opts.PortWaitAttempts, h.opts.PortWaitInterval) && ctx.Err() != nil {
		return ctx.Err()
	}
	if srv.EnableHTTPS {
		if !waitForPort(ctx, srv.BindHost, srv.HTTPSPort, h.opts.PortWaitAttempts, h.opts.PortWaitInterval) && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	h.provisioner = h.opts.Certs
	if h.opts.CertsFromConfig != nil {
		h.provisioner = h.opts.CertsFromConfig(cfg)
	}

	var leaf *certs.Leaf
	if srv.EnableHTTPS {
		if h.provisioner == nil {
			return &certs.CertificateError{Operation: "provision", Err: errors.New("no certificate provisioner configured")}
		}
		leaf, err = h.provisioner.Provision(ctx)
		if err != nil {
			return err
		}
		if err := h.installLeaf(leaf); err != nil {
			return err
		}
	}

	httpLn, err := listen(srv.BindHost, srv.HTTPPort)
	if err != nil {
		return err
	}
	listeners := []net.Listener{httpLn}
	if srv.EnableHTTPS {
		httpsLn, err := listen(srv.BindHost, srv.HTTPSPort)
		if err != nil {
			httpLn.Close()
			return err
		}
		listeners = append(listeners, httpsLn)
	}

	engine := h.buildEngine()
	addrs := make([]net.Addr, 0, len(listeners))
	servers := make([]*http.Server, 0, len(listeners))
	for i, ln := range listeners {
		addrs = append(addrs, ln.Addr())
		if srv.MaxConnections > 0 {
			ln = netutil.LimitListener(ln, srv.MaxConnections)
		}
		hs := &http.Server{
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(logging.Named("http")),
		}
		secure := i == 1
		if secure {
			hs.TLSConfig = newTLSConfig(h.tlsCert.Load)
			ln = tls.NewListener(ln, hs.TLSConfig)
		}
		servers = append(servers, hs)

		h.serveWG.Add(1)
		go func(hs *http.Server, ln net.Listener) {
			defer h.serveWG.Done()
			if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Listener stopped unexpectedly", zap.String("addr", ln.Addr().String()), zap.Error(err))
			}
		}(hs, ln)
	}

	connCtx, connStop := context.WithCancel(context.Background())
	h.ctxMu.Lock()
	h.connCtx, h.connStop = connCtx, connStop
	h.ctxMu.Unlock()

	h.servers = servers
	status := hub.ServerStatus{
		Running:     true,
		Port:        portOf(addrs[0]),
		EnableHTTPS: srv.EnableHTTPS,
		RootPath:    srv.RootPath,
		HTTPSPort:   srv.HTTPSPort,
	}
	if srv.EnableHTTPS {
		status.HTTPSPort = portOf(addrs[1])
	}
	h.statusMu.Lock()
	h.addrs = addrs
	h.statusMu.Unlock()

	h.hub.StartHeartbeat(h.opts.HeartbeatInterval)
	h.running.Store(true)
	h.state.Store(int32(StateRunning))
	h.metrics.SetRunning(true)
	h.broadcastStatus(ctx, status)

	h.startExtras(cfg, leaf, status)

	logging.Info("Web server started",
		zap.Int("http_port", status.Port),
		zap.Bool("https", srv.EnableHTTPS),
		zap.Int("https_port", status.HTTPSPort),
		zap.String("root", srv.RootPath))
	h.opts.Sink.Write(fmt.Sprintf("Web server started on port %d", status.Port), "system", logging.LevelInfo)
	return nil
}

// startExtras runs the optional services. Their failures are logged and
// never fail the start.
func (h *Host) startExtras(cfg *config.Config, leaf *certs.Leaf, status hub.ServerStatus) {
	if h.opts.Announcer != nil && cfg.Discovery.Announce {
		port, secure := status.Port, false
		if cfg.Server.EnableHTTPS {
			port, secure = status.HTTPSPort, true
		}
		stop, err := h.opts.Announcer.Announce(cfg.Discovery.InstanceName, port, secure)
		if err != nil {
			logging.Warn("mDNS announcement failed", zap.Error(err))
		} else {
			h.unannounce = stop
		}
	}

	if leaf != nil && h.provisioner != nil {
		m, err := certs.NewMaintainer(h.provisioner, cfg.Certificates.CheckSchedule, leaf, func(l *certs.Leaf) {
			if err := h.installLeaf(l); err != nil {
				logging.Error("Failed to install renewed certificate", zap.Error(err))
				return
			}
			h.metrics.IncCertSwaps()
			h.opts.Sink.Write("Server certificate renewed", "system", logging.LevelInfo)
		})
		if err != nil {
			logging.Warn("Certificate maintenance disabled", zap.Error(err))
		} else {
			m.Start()
			h.renewer = m
		}
	}

	if cfg.Server.WatchRoot && cfg.Server.RootPath != "" {
		if info, err := os.Stat(cfg.Server.RootPath); err == nil && info.IsDir() {
			w, err := watchRoot(cfg.Server.RootPath, h.opts.WatchDebounce, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := h.NotifyFilesChanged(ctx, hub.ReasonWatcher); err != nil && !errors.Is(err, ErrNotRunning) {
					logging.Warn("filesChanged broadcast failed", zap.Error(err))
				}
			})
			if err != nil {
				logging.Warn("Root directory watch failed", zap.String("root", cfg.Server.RootPath), zap.Error(err))
			} else {
				h.watcher = w
			}
		}
	}
}

func (h *Host) stopLocked(ctx context.Context) {
	if h.State() == StateStopped {
		return
	}
	h.state.Store(int32(StateStopping))
	h.running.Store(false)

	status := h.Status()
	status.Running = false
	h.broadcastStatus(ctx, status)

	h.hub.StopHeartbeat()

	if h.unannounce != nil {
		h.unannounce()
		h.unannounce = nil
	}
	if h.watcher != nil {
		h.watcher.Close()
		h.watcher = nil
	}
	if h.renewer != nil {
		h.renewer.Stop()
		h.renewer = nil
	}

	grace, cancel := context.WithTimeout(context.Background(), h.opts.ShutdownGrace)
	defer cancel()
	for _, hs := range h.servers {
		if err := hs.Shutdown(grace); err != nil {
			logging.Warn("Graceful shutdown timed out, closing", zap.Error(err))
			hs.Close()
		}
	}

	h.ctxMu.RLock()
	stopConns := h.connStop
	h.ctxMu.RUnlock()
	stopConns()
	h.hub.Shutdown()
	h.serveWG.Wait()

	h.servers = nil
	h.statusMu.Lock()
	h.addrs = nil
	h.statusMu.Unlock()
	h.leaf.Store(nil)
	h.tlsCert.Store(nil)
	h.metrics.SetRunning(false)
	h.state.Store(int32(StateStopped))

	logging.Info("Web server stopped")
	h.opts.Sink.Write("Web server stopped", "system", logging.LevelInfo)
}

func (h *Host) broadcastStatus(ctx context.Context, status hub.ServerStatus) {
	h.statusMu.Lock()
	h.status = status
	h.statusMu.Unlock()

	if h.opts.OnStatus != nil {
		h.opts.OnStatus(status)
	}
	if err := h.hub.Broadcast(context.WithoutCancel(ctx), hub.StatusEvent(status, h.now())); err != nil {
		logging.Warn("serverStatus broadcast failed", zap.Error(err))
	}
}

func (h *Host) installLeaf(leaf *certs.Leaf) error {
	cert, err := leaf.TLSCertificate()
	if err != nil {
		return &certs.CertificateError{Operation: "load_leaf", Err: err}
	}
	h.tlsCert.Store(&cert)
	h.leaf.Store(leaf)
	return nil
}

func (h *Host) connContext() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	return h.connCtx
}

func (h *Host) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(recovery(), requestID(), accessLog(), observe(h.metrics),
		protectedPaths(h.opts.Config, h.opts.Auth, h.metrics))

	r.Any("/ws", h.serveWebSocket)
	r.Any("/diag/*path", diagnosticsGate(h.opts.Config, h.metrics), h.diagnostics)
	if h.opts.MountAPI != nil {
		h.opts.MountAPI(r.Group("/api"))
	}
	r.NoRoute(staticAssets(h.opts.Assets))
	return r
}

func portOf(a net.Addr) int {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
