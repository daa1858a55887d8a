package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tradeiq/dashfeed/internal/buffer"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithHeader sets extra handshake headers for the default dialer.
func WithHeader(h http.Header) Option {
	return func(c *Client) {
		c.header = h
	}
}

// timer is a scheduled reconnect. *time.Timer satisfies it.
type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func withAfterFunc(f afterFunc) Option {
	return func(c *Client) {
		c.after = f
	}
}

// subscription is one registered callback. active is cleared by the
// unsubscribe func and checked right before every delivery.
type subscription[T any] struct {
	active atomic.Bool
	fn     func(T)
}

func (s *subscription[T]) deliver(v T, logger *slog.Logger) {
	if !s.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("subscriber panicked", "panic", r)
		}
	}()
	s.fn(v)
}

// snapshot copies the current subscribers. Map iteration order is random;
// subscribers get no ordering guarantee relative to each other.
func snapshot[T any](subs map[uuid.UUID]*subscription[T]) []*subscription[T] {
	out := make([]*subscription[T], 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// Client is a reconnecting, event-dispatching WebSocket client.
type Client struct {
	cfg    Config
	target string
	logger *slog.Logger
	dialer Dialer
	header http.Header
	after  afterFunc

	ops       chan func()
	dispatch  *buffer.Growable[func()]
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// status mirrors the run loop's current status for Status().
	status atomic.Value
	// epoch advances on every Disconnect. Queued frames from an older
	// epoch are dropped by the dispatcher.
	epoch atomic.Uint64

	// Run-loop state. Only read or written by funcs executing on run().
	conn        Conn          // at most one open transport
	connDone    chan struct{} // closed when conn is torn down
	gen         uint64        // identifies the transport that events belong to
	dialCancel  context.CancelFunc
	attempts    int
	retry       timer
	retrySeq    uint64
	closed      bool
	messageSubs map[uuid.UUID]*subscription[*InboundMessage]
	statusSubs  map[uuid.UUID]*subscription[Status]
}

// New creates a Client for cfg. No network activity happens until Connect.
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	cfg.BaseURL = ResolveBaseURL(cfg.BaseURL)

	c := &Client{
		cfg:    cfg,
		target: BuildTarget(cfg.BaseURL, cfg.Path, cfg.UserID),
		logger: slog.Default(),
		after: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		ops:         make(chan func()),
		dispatch:    buffer.NewGrowable[func()](64),
		done:        make(chan struct{}),
		messageSubs: make(map[uuid.UUID]*subscription[*InboundMessage]),
		statusSubs:  make(map[uuid.UUID]*subscription[Status]),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = newWSDialer(c.header)
	}
	c.logger = c.logger.With("target", c.target)
	c.status.Store(StatusDisconnected)

	c.wg.Add(1)
	go c.run()
	go c.dispatchLoop()

	return c
}

// Target returns the resolved connection URL.
func (c *Client) Target() string {
	return c.target
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	return c.status.Load().(Status)
}

// Connect opens the transport unless one is already open or being opened.
// The outcome is reported only through status subscribers.
func (c *Client) Connect() {
	c.do(c.connect)
}

// Disconnect closes the transport and stops automatic reconnection until
// the next Connect. A pending reconnect timer is cancelled.
func (c *Client) Disconnect() {
	c.do(c.disconnect)
}

// Send serializes msg and writes it if connected. Otherwise it is dropped.
func (c *Client) Send(msg OutboundMessage) {
	c.sendJSON(msg)
}

// SendMessage sends text as a chat.message frame.
func (c *Client) SendMessage(text string) {
	c.sendJSON(NewChatMessage(text))
}

// SendChat sends a chat frame, filling in the type if unset.
func (c *Client) SendChat(msg ChatMessage) {
	if msg.Type == "" {
		msg.Type = TypeChatMessage
	}
	c.sendJSON(msg)
}

// OnMessage registers handler for every subsequent inbound message and
// returns a func that unregisters it. All subscribers receive the same
// *InboundMessage and must not modify it.
func (c *Client) OnMessage(handler func(*InboundMessage)) (unsubscribe func()) {
	return subscribe(c, c.messageSubs, handler)
}

// OnStatusChange registers handler for every subsequent status transition.
func (c *Client) OnStatusChange(handler func(Status)) (unsubscribe func()) {
	return subscribe(c, c.statusSubs, handler)
}

// Close disconnects and stops the Client's goroutines. The Client must not
// be used afterwards.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.do(func() {
			c.disconnect()
			c.closed = true
		})
		close(c.done)
		c.wg.Wait()
		c.dispatch.Close()
	})
}

func subscribe[T any](c *Client, subs map[uuid.UUID]*subscription[T], handler func(T)) func() {
	if handler == nil {
		return func() {}
	}
	id := uuid.New()
	sub := &subscription[T]{fn: handler}
	sub.active.Store(true)

	c.do(func() { subs[id] = sub })

	return func() {
		sub.active.Store(false)
		c.post(func() { delete(subs, id) })
	}
}

// post queues fn on the run loop. It reports false once the Client is closed.
func (c *Client) post(fn func()) bool {
	select {
	case c.ops <- fn:
		return true
	case <-c.done:
		return false
	}
}

// do runs fn on the run loop and waits for it.
func (c *Client) do(fn func()) {
	finished := make(chan struct{})
	if !c.post(func() {
		fn()
		close(finished)
	}) {
		return
	}
	select {
	case <-finished:
	case <-c.done:
	}
}

// run executes queued operations one at a time.
func (c *Client) run() {
	defer c.wg.Done()

	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.done:
			return
		}
	}
}

// dispatchLoop invokes subscriber callbacks in the order they were queued.
func (c *Client) dispatchLoop() {
	for {
		fn, ok := c.dispatch.Pop()
		if !ok {
			return
		}
		fn()
	}
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("dropping outbound message", "error", err)
		return
	}
	c.do(func() { c.write(data) })
}

// The methods below run on the run loop.

func (c *Client) connect() {
	if c.closed || c.conn != nil || c.dialCancel != nil {
		return
	}
	c.cancelRetry()
	c.setStatus(StatusConnecting)

	if err := validateTarget(c.target); err != nil {
		c.logger.Error("cannot open websocket", "error", err)
		c.setStatus(StatusError)
		c.scheduleReconnect()
		return
	}

	c.gen++
	gen := c.gen

	var ctx context.Context
	var cancel context.CancelFunc
	if c.cfg.HandshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c.dialCancel = cancel

	go func() {
		conn, err := c.dialer.Dial(ctx, c.target)
		if !c.post(func() { c.handleDial(gen, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (c *Client) handleDial(gen uint64, conn Conn, err error) {
	if gen != c.gen {
		// Disconnect happened while dialing.
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.dialCancel()
	c.dialCancel = nil

	if err != nil {
		c.logger.Warn("websocket dial failed", "attempt", c.attempts, "error", err)
		c.setStatus(StatusError)
		c.setStatus(StatusDisconnected)
		c.scheduleReconnect()
		return
	}

	c.conn = conn
	c.attempts = 0
	c.logger.Info("websocket connected")
	c.setStatus(StatusConnected)

	c.connDone = make(chan struct{})

	c.wg.Add(1)
	go c.readLoop(gen, conn)

	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(conn, c.connDone)
	}
}

// readLoop forwards frames and the terminal read error to the run loop.
func (c *Client) readLoop(gen uint64, conn Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.post(func() { c.handleClose(gen, err) })
			return
		}
		receivedAt := time.Now()

		if !c.post(func() { c.handleFrame(gen, data, receivedAt) }) {
			return
		}
	}
}

// pingLoop keeps idle connections alive. A failed ping closes the socket,
// so the read loop reports the loss.
func (c *Client) pingLoop(conn Conn, connDone <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-connDone:
			return
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.PingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) handleFrame(gen uint64, data []byte, receivedAt time.Time) {
	if gen != c.gen || c.conn == nil {
		return
	}

	msg, err := ParseInbound(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		return
	}
	msg.ReceivedAt = receivedAt
	c.logger.Debug("frame received", "type", msg.Type, "size", len(data))

	subs := snapshot(c.messageSubs)
	if len(subs) == 0 {
		return
	}
	epoch := c.epoch.Load()
	c.dispatch.Push(func() {
		if c.epoch.Load() != epoch {
			return
		}
		for _, s := range subs {
			s.deliver(msg, c.logger)
		}
	})
}

func (c *Client) handleClose(gen uint64, err error) {
	if gen != c.gen || c.conn == nil {
		return
	}
	c.conn.Close()
	c.dropConn()

	if isCleanClose(err) {
		c.logger.Info("websocket closed by server", "reason", err)
	} else {
		c.logger.Warn("websocket connection lost", "error", err)
		c.setStatus(StatusError)
	}
	c.setStatus(StatusDisconnected)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if c.closed {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Warn("reconnect attempts exhausted", "attempts", c.attempts)
		return
	}
	c.cancelRetry()

	c.attempts++
	delay := Backoff(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, c.attempts)

	c.retrySeq++
	seq := c.retrySeq
	c.logger.Info("reconnect scheduled", "attempt", c.attempts, "delay", delay)

	c.retry = c.after(delay, func() {
		c.post(func() { c.fireRetry(seq) })
	})
}

// fireRetry ignores timers that were cancelled after they had already fired.
func (c *Client) fireRetry(seq uint64) {
	if c.retry == nil || seq != c.retrySeq {
		return
	}
	c.retry = nil
	c.connect()
}

func (c *Client) cancelRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) disconnect() {
	c.attempts = c.cfg.MaxReconnectAttempts
	c.cancelRetry()
	c.gen++
	c.epoch.Add(1)

	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		if err := closeConn(c.conn); err != nil {
			c.logger.Debug("close transport", "error", err)
		}
		c.dropConn()
	}
	c.setStatus(StatusDisconnected)
}

func (c *Client) dropConn() {
	c.conn = nil
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
}

func (c *Client) write(data []byte) {
	if c.conn == nil {
		c.logger.Debug("not connected, dropping outbound message", "size", len(data))
		return
	}
	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("send failed", "error", err)
	}
}

func (c *Client) setStatus(s Status) {
	c.status.Store(s)

	subs := snapshot(c.statusSubs)
	if len(subs) == 0 {
		return
	}
	c.dispatch.Push(func() {
		for _, sub := range subs {
			sub.deliver(s, c.logger)
		}
	})
}
