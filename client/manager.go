// Package client implements the durable logical connection a chat client
// keeps over an unreliable transport: one socket at a time, reconnect with
// capped exponential backoff, heartbeat liveness and inactivity suspension.
package client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaeljohneduave/hugin-gateway/logger"
	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrInactive is returned by Connect while the manager is suspended; Focus
// must run first.
var ErrInactive = errs.New("connection manager inactive")

// ErrDropped is returned by SendMessage when the socket is not open; the
// message is dropped, never queued.
var ErrDropped = errs.New("socket not open, message dropped")

// TokenProvider returns a fresh bearer token before every dial.
type TokenProvider func(ctx context.Context) (string, error)

// Handler receives every non-liveness inbound frame, decoded payload bytes.
type Handler func(payload []byte)

type Options struct {
	URL                  string        // ws:// or wss:// endpoint
	TokenProvider        TokenProvider // required
	PingInterval         time.Duration // default 25s; pong must arrive within 3×
	BackoffBase          time.Duration // default 1s
	MaxReconnectAttempts int           // default 5; beyond it, give up until Connect
	InactivityThreshold  time.Duration // default 5m after Blur
	Dialer               *websocket.Dialer
}

func (o *Options) norm() {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.InactivityThreshold <= 0 {
		o.InactivityThreshold = 5 * time.Minute
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Manager owns at most one open socket at a time. All timer callbacks and
// event handlers mutate state under one mutex, so the cooperative flows of
// the browser original (heartbeat, pong check, backoff, inactivity) never run
// concurrently with each other.
type Manager struct {
	opts Options

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	online       bool
	attempts     int
	reconnecting bool
	inactive     bool
	lastPong     time.Time
	token        string
	gen          uint64 // socket generation; stale loops and timers no-op on mismatch

	handlers []Handler

	pingTimer       *time.Timer
	pongTimer       *time.Timer
	reconnectTimer  *time.Timer
	inactivityTimer *time.Timer

	writeMu sync.Mutex
}

func NewManager(opts Options) *Manager {
	opts.norm()
	return &Manager{opts: opts, state: StateClosed}
}

// OnMessage registers a handler; handlers run synchronously in registration
// order for every non-pong frame.
func (m *Manager) OnMessage(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Connect opens the socket. No-op while already open, refused while
// inactive; always resets the reconnect budget.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.inactive {
		m.mu.Unlock()
		return ErrInactive
	}
	if m.state == StateOpen || m.state == StateOpening {
		m.mu.Unlock()
		return nil
	}
	m.attempts = 0
	m.cancelTimerLocked(&m.reconnectTimer)
	m.reconnecting = false
	m.mu.Unlock()
	return m.dial(ctx)
}

// Disconnect closes the socket and clears every pending timer. The manager
// stays CLOSED until the next explicit Connect (or Focus-triggered resume).
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.state = StateClosing
	conn := m.teardownLocked()
	m.cancelTimerLocked(&m.reconnectTimer)
	m.cancelTimerLocked(&m.inactivityTimer)
	m.reconnecting = false
	m.state = StateClosed
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// SendMessage attempts the send against the current socket. When the socket
// is not open it triggers (but does not await) a reconnect and drops the
// message.
func (m *Manager) SendMessage(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errs.WrapMsg(err, "marshal message")
	}

	m.mu.Lock()
	if m.state != StateOpen {
		trigger := !m.reconnecting && !m.inactive && m.state != StateOpening
		m.mu.Unlock()
		if trigger {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
				defer cancel()
				_ = m.dial(ctx)
			}()
		}
		return ErrDropped
	}
	conn := m.conn
	m.mu.Unlock()

	return m.write(conn, payload)
}

// Blur arms the inactivity timer; firing suspends the manager and
// force-disconnects.
func (m *Manager) Blur() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked(&m.inactivityTimer)
	m.inactivityTimer = time.AfterFunc(m.opts.InactivityThreshold, m.suspend)
}

// Focus disarms the inactivity timer, clears INACTIVE and, when offline and
// not already reconnecting, immediately attempts a reconnect with a fresh
// token.
func (m *Manager) Focus() {
	m.mu.Lock()
	m.cancelTimerLocked(&m.inactivityTimer)
	m.inactive = false
	resume := !m.online && !m.reconnecting && m.state != StateOpening
	if resume {
		m.attempts = 0
	}
	m.mu.Unlock()

	if resume {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			defer cancel()
			_ = m.dial(ctx)
		}()
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Manager) Inactive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inactive
}

func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Manager) Reconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnecting
}

const dialTimeout = 10 * time.Second

// dial fetches a fresh token and opens a new socket. Exactly one socket can
// win: a generation bump by Disconnect/suspend between dial start and finish
// orphans the new socket and it is closed immediately.
func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateOpen || m.state == StateOpening || m.inactive {
		m.mu.Unlock()
		return nil
	}
	m.state = StateOpening
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	token, err := m.opts.TokenProvider(ctx)
	if err != nil {
		m.dialFailed(gen, err)
		return errs.WrapMsg(err, "fetch token")
	}

	conn, resp, err := m.opts.Dialer.DialContext(ctx, m.opts.URL+"?token="+url.QueryEscape(token), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		m.dialFailed(gen, err)
		return errs.WrapMsg(err, "dial")
	}

	m.mu.Lock()
	if m.gen != gen || m.inactive {
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.token = token
	m.state = StateOpen
	m.online = true
	m.reconnecting = false
	m.attempts = 0
	m.lastPong = time.Now()
	m.startHeartbeatLocked(gen)
	m.mu.Unlock()

	go m.readLoop(conn, gen)
	logger.Info("socket open", zap.String("url", m.opts.URL))
	return nil
}

func (m *Manager) dialFailed(gen uint64, err error) {
	logger.Warn("connect attempt failed", zap.Error(err))
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	m.state = StateError
	m.online = false
	m.scheduleReconnectLocked()
}

// teardownLocked invalidates the current socket generation, stops heartbeat
// timers and detaches the socket (caller closes it outside the lock).
func (m *Manager) teardownLocked() *websocket.Conn {
	m.gen++
	m.cancelTimerLocked(&m.pingTimer)
	m.cancelTimerLocked(&m.pongTimer)
	m.online = false
	conn := m.conn
	m.conn = nil
	return conn
}

// scheduleReconnectLocked applies the backoff policy: delay BASE × 2^attempts
// until the attempt cap, then terminal give-up until an explicit Connect.
func (m *Manager) scheduleReconnectLocked() {
	if m.inactive {
		m.reconnecting = false
		return
	}
	if m.attempts >= m.opts.MaxReconnectAttempts {
		m.reconnecting = false
		m.state = StateClosed
		logger.Warn("reconnect attempts exhausted, waiting for explicit connect",
			zap.Int("attempts", m.attempts))
		return
	}
	delay := m.backoffDelay(m.attempts)
	m.attempts++
	m.reconnecting = true
	gen := m.gen
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.gen != gen || m.state == StateOpen || m.inactive {
			m.mu.Unlock()
			return
		}
		m.reconnecting = false
		m.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		_ = m.dial(ctx)
	})
}

func (m *Manager) backoffDelay(attempts int) time.Duration {
	return m.opts.BackoffBase << uint(attempts)
}

func (m *Manager) startHeartbeatLocked(gen uint64) {
	m.pingTimer = time.AfterFunc(m.opts.PingInterval, func() { m.sendPing(gen) })
	m.pongTimer = time.AfterFunc(m.opts.PingInterval, func() { m.checkPong(gen) })
}

func (m *Manager) sendPing(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	token := m.token
	m.pingTimer.Reset(m.opts.PingInterval)
	m.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"action": "ping", "token": token})
	if err := m.write(conn, payload); err != nil {
		// read loop observes the broken socket and drives the reconnect
		logger.Warn("heartbeat send failed", zap.Error(err))
	}
}

// checkPong force-disconnects when no pong arrived within 3× the ping
// period, entering the reconnect path.
func (m *Manager) checkPong(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateOpen {
		m.mu.Unlock()
		return
	}
	// the deadline is 3x the ping period; the tick at 3x already tears down
	if time.Since(m.lastPong) < 3*m.opts.PingInterval {
		m.pongTimer.Reset(m.opts.PingInterval)
		m.mu.Unlock()
		return
	}
	logger.Warn("no pong within 3x ping interval, forcing disconnect")
	conn := m.teardownLocked()
	m.state = StateError
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// suspend is the inactivity timer callback: set INACTIVE and force
// disconnect; Connect is refused until Focus clears the flag.
func (m *Manager) suspend() {
	m.mu.Lock()
	m.inactive = true
	conn := m.teardownLocked()
	m.cancelTimerLocked(&m.reconnectTimer)
	m.reconnecting = false
	m.state = StateClosed
	m.mu.Unlock()

	logger.Info("inactive, suspending connection")
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if m.gen != gen {
				// superseded socket; a newer flow owns the state
				m.mu.Unlock()
				return
			}
			c := m.teardownLocked()
			m.state = StateError
			m.scheduleReconnectLocked()
			m.mu.Unlock()
			if c != nil {
				_ = c.Close()
			}
			logger.Info("socket closed", zap.Error(err))
			return
		}

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Debug("dropping undecodable frame", zap.Error(err))
			continue
		}
		if frame.Type == "pong" {
			// reserved liveness frame: update the baseline, do not forward
			m.mu.Lock()
			if m.gen == gen {
				m.lastPong = time.Now()
			}
			m.mu.Unlock()
			continue
		}

		m.mu.Lock()
		handlers := make([]Handler, len(m.handlers))
		copy(handlers, m.handlers)
		m.mu.Unlock()
		for _, h := range handlers {
			h(data)
		}
	}
}

func (m *Manager) write(conn *websocket.Conn, payload []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errs.WrapMsg(err, "write")
	}
	return nil
}

func (m *Manager) cancelTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
