package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	msgType int
	data    []byte
}

// mockSocket records writes and flags any write that overlaps another.
type mockSocket struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	delay    time.Duration

	inWrite     atomic.Bool
	overlapping atomic.Bool
	closed      atomic.Bool

	reads     chan frame
	closeOnce sync.Once
	closedCh  chan struct{}
}

func newMockSocket() *mockSocket {
	return &mockSocket{
		reads:    make(chan frame, 16),
		closedCh: make(chan struct{}),
	}
}

func (m *mockSocket) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-m.reads:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return f.msgType, f.data, nil
	case <-m.closedCh:
		return 0, nil, io.EOF
	}
}

func (m *mockSocket) WriteMessage(_ int, data []byte) error {
	if !m.inWrite.CompareAndSwap(false, true) {
		m.overlapping.Store(true)
	}
	defer m.inWrite.Store(false)

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	m.writes = append(m.writes, append([]byte(nil), data...))
	m.mu.Unlock()
	return nil
}

func (m *mockSocket) SetWriteDeadline(time.Time) error { return nil }

func (m *mockSocket) Close() error {
	m.closed.Store(true)
	m.closeOnce.Do(func() { close(m.closedCh) })
	return nil
}

func (m *mockSocket) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}

func TestRegisterUnregister(t *testing.T) {
	h := New(Options{})
	sock := newMockSocket()

	c1 := h.Register(sock, "10.0.0.1:5555")
	c2 := h.Register(newMockSocket(), "10.0.0.2:5555")
	assert.NotEqual(t, c1.ID, c2.ID)
	assert.Equal(t, 2, h.Count())

	h.Unregister(c1.ID)
	h.Unregister(c1.ID)
	h.Unregister("unknown")
	assert.Equal(t, 1, h.Count())
	assert.True(t, sock.closed.Load())
	assert.True(t, c1.Closed())

	_, ok := h.Get(c2.ID)
	assert.True(t, ok)
}

func TestSendToUnknownOrClosedIsNoop(t *testing.T) {
	h := New(Options{})
	assert.NoError(t, h.SendTo("missing", []byte("x")))

	sock := newMockSocket()
	c := h.Register(sock, "a")
	c.close()
	assert.NoError(t, h.SendTo(c.ID, []byte("x")))
	assert.Empty(t, sock.Writes())
}

func TestConcurrentBroadcastsDoNotInterleave(t *testing.T) {
	h := New(Options{})
	sock := newMockSocket()
	sock.delay = 2 * time.Millisecond
	h.Register(sock, "a")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := map[string]any{"type": "test", "seq": i, "pad": string(make([]byte, 512))}
			assert.NoError(t, h.Broadcast(context.Background(), payload))
		}(i)
	}
	wg.Wait()

	assert.False(t, sock.overlapping.Load(), "writes overlapped on one connection")
	writes := sock.Writes()
	require.Len(t, writes, n)

	seen := make(map[int]bool)
	for _, w := range writes {
		var msg struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(w, &msg), "each write is one complete payload")
		seen[msg.Seq] = true
	}
	assert.Len(t, seen, n)
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	h := New(Options{})
	good1, good2 := newMockSocket(), newMockSocket()
	bad := newMockSocket()
	bad.writeErr = errors.New("broken pipe")

	h.Register(good1, "good1")
	badConn := h.Register(bad, "bad")
	h.Register(good2, "good2")

	require.NoError(t, h.Broadcast(context.Background(), HeartbeatEvent(time.Now())))

	assert.Len(t, good1.Writes(), 1)
	assert.Len(t, good2.Writes(), 1)
	assert.Equal(t, 2, h.Count())
	_, ok := h.Get(badConn.ID)
	assert.False(t, ok, "failed connection is removed")
	assert.True(t, bad.closed.Load())
}

func TestBroadcastWaitsForSlowConnection(t *testing.T) {
	h := New(Options{})
	slow := newMockSocket()
	slow.delay = 50 * time.Millisecond
	h.Register(slow, "slow")

	start := time.Now()
	require.NoError(t, h.Broadcast(context.Background(), HeartbeatEvent(time.Now())))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Len(t, slow.Writes(), 1)
}

type countingObserver struct {
	ok, failed atomic.Int32
}

func (o *countingObserver) ObserveSend(err error) {
	if err != nil {
		o.failed.Add(1)
		return
	}
	o.ok.Add(1)
}

func TestObserverSeesSends(t *testing.T) {
	obs := &countingObserver{}
	h := New(Options{Observer: obs})
	bad := newMockSocket()
	bad.writeErr = errors.New("gone")
	h.Register(newMockSocket(), "ok")
	h.Register(bad, "bad")

	require.NoError(t, h.Broadcast(context.Background(), map[string]string{"type": "x"}))
	assert.EqualValues(t, 1, obs.ok.Load())
	assert.EqualValues(t, 1, obs.failed.Load())
}

func TestReceiveLoopDispatchesAndUnregisters(t *testing.T) {
	got := make(chan string, 4)
	h := New(Options{Handler: func(ctx context.Context, c *Connection, data []byte) error {
		if string(data) == "panic" {
			panic("handler exploded")
		}
		got <- string(data)
		return nil
	}})

	sock := newMockSocket()
	c := h.Register(sock, "client")

	sock.reads <- frame{websocket.TextMessage, []byte("panic")}
	sock.reads <- frame{websocket.BinaryMessage, []byte("ignored")}
	sock.reads <- frame{websocket.TextMessage, []byte("requestRefresh")}
	close(sock.reads)

	h.RunReceiveLoop(context.Background(), c)
	h.waitHandlers()

	require.Len(t, got, 1)
	assert.Equal(t, "requestRefresh", <-got)
	assert.Equal(t, 0, h.Count())
	assert.True(t, sock.closed.Load())
}

func TestReceiveLoopEndsOnContextCancel(t *testing.T) {
	h := New(Options{})
	sock := newMockSocket()
	c := h.Register(sock, "client")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.RunReceiveLoop(ctx, c)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not exit after cancel")
	}
	assert.Equal(t, 0, h.Count())
}

func TestHeartbeat(t *testing.T) {
	h := New(Options{})
	sock := newMockSocket()
	h.Register(sock, "client")

	h.StartHeartbeat(10 * time.Millisecond)
	assert.True(t, h.HeartbeatRunning())
	require.Eventually(t, func() bool { return len(sock.Writes()) >= 3 }, 2*time.Second, 5*time.Millisecond)

	h.StopHeartbeat()
	assert.False(t, h.HeartbeatRunning())
	n := len(sock.Writes())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(sock.Writes()), "no heartbeats after stop")

	ev, data, err := DecodeEvent(sock.Writes()[0])
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, ev.Type)
	assert.Empty(t, data)

	h.StopHeartbeat()
}

func TestShutdownClosesEverything(t *testing.T) {
	h := New(Options{})
	h.Shutdown()

	s1, s2 := newMockSocket(), newMockSocket()
	h.Register(s1, "a")
	h.Register(s2, "b")
	h.StartHeartbeat(time.Hour)

	h.Shutdown()
	assert.Equal(t, 0, h.Count())
	assert.True(t, s1.closed.Load())
	assert.True(t, s2.closed.Load())
	assert.False(t, h.HeartbeatRunning())
}

func TestShutdownWaitsForHandlers(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	h := New(Options{Handler: func(context.Context, *Connection, []byte) error {
		<-release
		finished.Store(true)
		return nil
	}})

	sock := newMockSocket()
	c := h.Register(sock, "client")
	sock.reads <- frame{websocket.TextMessage, []byte("slow")}
	close(sock.reads)
	h.RunReceiveLoop(context.Background(), c)

	done := make(chan struct{})
	go func() {
		h.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Shutdown returned while a handler was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
	assert.True(t, finished.Load())
}

func TestEventEnvelope(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)

	b, err := json.Marshal(HeartbeatEvent(now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"heartbeat","time":"2026-01-02 03:04:05"}`, string(b))

	b, err = json.Marshal(StatusEvent(ServerStatus{Running: true, Port: 5000, HTTPSPort: 5001, RootPath: "DLFiles"}, now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"serverStatus","time":"2026-01-02 03:04:05",
		"data":{"running":true,"port":5000,"httpsPort":5001,"enableHttps":false,"rootPath":"DLFiles"}}`, string(b))

	b, err = json.Marshal(FilesChangedEvent(ReasonManual, now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"filesChanged","time":"2026-01-02 03:04:05","data":{"reason":"manual"}}`, string(b))
}
