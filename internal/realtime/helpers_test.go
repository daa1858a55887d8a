package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// holdOpen keeps a server-side connection open until the client goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig(base string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = base
	cfg.Path = ""
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.HandshakeTimeout = time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// statusRecorder collects every status transition.
type statusRecorder struct {
	mu      sync.Mutex
	history []Status
}

func recordStatuses(c *Client) *statusRecorder {
	r := &statusRecorder{}
	c.OnStatusChange(func(s Status) {
		r.mu.Lock()
		r.history = append(r.history, s)
		r.mu.Unlock()
	})
	return r
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.history...)
}

func (r *statusRecorder) count(s Status) int {
	n := 0
	for _, got := range r.all() {
		if got == s {
			n++
		}
	}
	return n
}

// fakeScheduler records reconnect delays and fires timers on demand.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	timers  []*fakeTimer
	handled int
}

type fakeTimer struct {
	stopped atomic.Bool
	fn      func()
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

func (s *fakeScheduler) after(d time.Duration, f func()) timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{fn: f}
	s.delays = append(s.delays, d)
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func (s *fakeScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// fireNext runs the oldest unfired timer unless it was stopped.
func (s *fakeScheduler) fireNext(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if s.handled >= len(s.timers) {
		s.mu.Unlock()
		t.Fatal("no timer to fire")
	}
	tm := s.timers[s.handled]
	s.handled++
	s.mu.Unlock()

	if !tm.stopped.Load() {
		tm.fn()
	}
}

// scriptedDialer fails the first failures dials, then hands out fakeConns.
type scriptedDialer struct {
	failures int32
	calls    atomic.Int32
	mu       sync.Mutex
	conns    []*fakeConn
}

func (d *scriptedDialer) Dial(ctx context.Context, target string) (Conn, error) {
	n := d.calls.Add(1)
	if n <= d.failures {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *scriptedDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fakeConn delivers frames pushed into it and records writes.
type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	pings atomic.Int32

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.frames:
		return websocket.TextMessage, data, nil
	default:
	}
	select {
	case data := <-f.frames:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if messageType == websocket.PingMessage {
		f.pings.Add(1)
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}
