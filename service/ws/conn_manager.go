package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

const sendQueueSize = 256

// wsConn is one live socket with its outbound queue. A single writer
// goroutine consumes Send; everything else only enqueues.
type wsConn struct {
	ConnID string
	Conn   *websocket.Conn
	Send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

// ConnManager is the local socket table. It implements gateway.Pusher:
// pushing to a connection this node no longer holds reports ErrTargetGone so
// the fan-out can self-heal the registry.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*wsConn
}

func NewConnManager() *ConnManager {
	return &ConnManager{byConn: make(map[string]*wsConn)}
}

func (m *ConnManager) Add(connID string, conn *websocket.Conn) *wsConn {
	c := &wsConn{
		ConnID: connID,
		Conn:   conn,
		Send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.byConn[connID] = c
	m.mu.Unlock()
	return c
}

// Remove drops the connection from the table and closes the socket.
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	c := m.byConn[connID]
	delete(m.byConn, connID)
	m.mu.Unlock()
	if c != nil {
		c.close()
	}
}

func (m *ConnManager) Get(connID string) (*wsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[connID]
	return c, ok
}

// Push enqueues payload for connID's writer goroutine.
func (m *ConnManager) Push(ctx context.Context, connID string, payload []byte) error {
	c, ok := m.Get(connID)
	if !ok {
		return errs.ErrTargetGone.WithDetail(connID)
	}
	select {
	case c.Send <- payload:
		return nil
	case <-c.done:
		return errs.ErrTargetGone.WithDetail(connID)
	case <-ctx.Done():
		return errs.Wrap(ctx.Err())
	}
}

// Close tears down every socket; used at shutdown.
func (m *ConnManager) Close() {
	m.mu.Lock()
	conns := make([]*wsConn, 0, len(m.byConn))
	for _, c := range m.byConn {
		conns = append(conns, c)
	}
	m.byConn = make(map[string]*wsConn)
	m.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}
