package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/josystem/webhost/internal/logging"
)

const (
	// DefaultHeartbeatInterval is how often heartbeat events are broadcast.
	DefaultHeartbeatInterval = 5 * time.Second

	defaultWriteTimeout = 10 * time.Second
)

// Socket is the transport under a Connection. *websocket.Conn satisfies it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// MessageHandler handles one inbound text frame. It runs on its own
// goroutine; a returned error or panic is logged and does not affect the
// receive loop.
type MessageHandler func(ctx context.Context, conn *Connection, data []byte) error

// Observer is notified of every send attempt.
type Observer interface {
	ObserveSend(err error)
}

// Connection is one registered WebSocket client.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	socket Socket
	sendMu sync.Mutex
	closed atomic.Bool
}

// Closed reports whether the connection has been closed.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// close closes the socket once.
func (c *Connection) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.socket.Close()
	}
}

// Options configures a Hub.
type Options struct {
	Handler      MessageHandler
	Observer     Observer
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Hub tracks live connections and broadcasts events to them.
type Hub struct {
	conns    *xsync.Map[string, *Connection]
	handler  MessageHandler
	observer Observer
	timeout  time.Duration
	now      func() time.Time

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}

	handlers sync.WaitGroup
}

// New creates an empty hub.
func New(opts Options) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		conns:    xsync.NewMap[string, *Connection](),
		handler:  opts.Handler,
		observer: opts.Observer,
		timeout:  opts.WriteTimeout,
		now:      opts.Now,
	}
}

// Register adds socket under a fresh id.
func (h *Hub) Register(socket Socket, remoteAddr string) *Connection {
	c := &Connection{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: h.now(),
		socket:      socket,
	}
	h.conns.Store(c.ID, c)
	logging.LogConnection(remoteAddr, "websocket registered",
		zap.String("conn_id", c.ID), zap.Int("connections", h.conns.Size()))
	return c
}

// Unregister removes and closes a connection. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	c, ok := h.conns.LoadAndDelete(id)
	if !ok {
		return
	}
	c.close()
	logging.LogConnection(c.RemoteAddr, "websocket unregistered",
		zap.String("conn_id", id), zap.Int("connections", h.conns.Size()))
}

// Get returns a registered connection.
func (h *Hub) Get(id string) (*Connection, bool) {
	return h.conns.Load(id)
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	return h.conns.Size()
}

// SendTo writes one text frame to id while holding that connection's
// send lock. Sending to an unknown or closed connection is a no-op.
func (h *Hub) SendTo(id string, data []byte) error {
	c, ok := h.conns.Load(id)
	if !ok {
		return nil
	}
	return h.send(c, data)
}

func (h *Hub) send(c *Connection, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.Closed() {
		return nil
	}
	if err := c.socket.SetWriteDeadline(h.now().Add(h.timeout)); err != nil {
		h.observe(err)
		return err
	}
	err := c.socket.WriteMessage(websocket.TextMessage, data)
	h.observe(err)
	if err == nil {
		logging.LogWebSocketMessage(c.RemoteAddr, "send", websocket.TextMessage, data)
	}
	return err
}

func (h *Hub) observe(err error) {
	if h.observer != nil {
		h.observer.ObserveSend(err)
	}
}

// Broadcast encodes payload once and sends it to every connection in
// parallel, returning when all sends have finished. Connections whose
// write fails are closed and unregistered; the others are unaffected.
func (h *Hub) Broadcast(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}
	return h.BroadcastRaw(ctx, data)
}

// BroadcastRaw is Broadcast for pre-encoded bytes.
func (h *Hub) BroadcastRaw(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	h.conns.Range(func(id string, c *Connection) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.send(c, data); err != nil {
				logging.Debug("Broadcast to connection failed, removing",
					zap.String("conn_id", id),
					zap.String("remote_addr", c.RemoteAddr),
					zap.Error(err))
				h.Unregister(id)
			}
		}()
		return true
	})
	wg.Wait()
	return nil
}

// RunReceiveLoop reads frames from c until the client closes, the socket
// fails or ctx is cancelled, then unregisters c. Text frames are handed to
// the message handler on a separate goroutine.
func (h *Hub) RunReceiveLoop(ctx context.Context, c *Connection) {
	defer h.Unregister(c.ID)

	stop := context.AfterFunc(ctx, c.close)
	defer stop()

	for {
		msgType, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.Closed() {
				logging.LogConnection(c.RemoteAddr, "websocket read error", zap.Error(err))
			}
			return
		}
		logging.LogWebSocketMessage(c.RemoteAddr, "recv", msgType, data)

		if msgType != websocket.TextMessage || h.handler == nil {
			continue
		}
		h.dispatch(ctx, c, data)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Connection, data []byte) {
	handler := h.handler
	h.handlers.Add(1)
	go func() {
		defer h.handlers.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.Error("WebSocket message handler panicked",
					zap.String("conn_id", c.ID), zap.Any("panic", r))
			}
		}()
		if err := handler(ctx, c, data); err != nil {
			logging.Warn("WebSocket message handler failed",
				zap.String("conn_id", c.ID), zap.Error(err))
		}
	}()
}

// StartHeartbeat broadcasts a heartbeat every interval until StopHeartbeat
// or Shutdown. A running heartbeat is replaced.
func (h *Hub) StartHeartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	h.StopHeartbeat()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	h.hbMu.Lock()
	h.hbCancel, h.hbDone = cancel, done
	h.hbMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if ctx.Err() != nil {
				return
			}
			if err := h.Broadcast(ctx, HeartbeatEvent(h.now())); err != nil && ctx.Err() == nil {
				logging.Warn("Heartbeat broadcast failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// StopHeartbeat cancels the heartbeat and waits for it to exit.
func (h *Hub) StopHeartbeat() {
	h.hbMu.Lock()
	cancel, done := h.hbCancel, h.hbDone
	h.hbCancel, h.hbDone = nil, nil
	h.hbMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// HeartbeatRunning reports whether a heartbeat goroutine is active.
func (h *Hub) HeartbeatRunning() bool {
	h.hbMu.Lock()
	defer h.hbMu.Unlock()
	return h.hbCancel != nil
}

// Shutdown stops the heartbeat, closes every connection and waits for
// in-flight message handlers to return.
func (h *Hub) Shutdown() {
	h.StopHeartbeat()

	var n int
	h.conns.Range(func(id string, c *Connection) bool {
		if _, ok := h.conns.LoadAndDelete(id); ok {
			c.sendMu.Lock()
			c.close()
			c.sendMu.Unlock()
			n++
		}
		return true
	})
	if n > 0 {
		logging.Info("Closed WebSocket connections", zap.Int("count", n))
	}
	h.waitHandlers()
}

// waitHandlers blocks until every dispatched handler has returned.
func (h *Hub) waitHandlers() {
	h.handlers.Wait()
}
