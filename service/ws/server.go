package ws

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaeljohneduave/hugin-gateway/logger"
	"github.com/michaeljohneduave/hugin-gateway/service/gateway"
	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
	"github.com/michaeljohneduave/hugin-gateway/tools/ids"
	"github.com/michaeljohneduave/hugin-gateway/tools/safe"
)

const (
	writeWait      = 10 * time.Second
	firstPingDelay = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server binds the websocket transport to the gateway handlers. Each socket
// event becomes an independent gateway invocation; no state is shared between
// them except the registry.
type Server struct {
	gw           *gateway.Gateway
	mgr          *ConnManager
	pingInterval time.Duration
}

func NewServer(gw *gateway.Gateway, mgr *ConnManager, pingInterval time.Duration) *Server {
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}
	return &Server{gw: gw, mgr: mgr, pingInterval: pingInterval}
}

// HandleWS upgrades the request and runs the connection until the peer goes
// away. The bearer token rides the `token` query parameter.
func (s *Server) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := ids.GenerateString()
	ctx := c.Request.Context()

	if err := s.gw.Connect(ctx, gateway.ConnectRequest{
		ConnectionID: connID,
		Token:        c.Query("token"),
	}); err != nil {
		logger.Warn("connect rejected", zap.String("conn", connID), zap.Error(err))
		var closeCode int
		switch errs.StatusOf(err) {
		case errs.CodeBadRequest:
			closeCode = websocket.CloseUnsupportedData
		case errs.CodeUnauthorized:
			closeCode = websocket.ClosePolicyViolation
		default:
			closeCode = websocket.CloseInternalServerErr
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCode, err.Error()), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	wc := s.mgr.Add(connID, conn)
	safe.Go(func() { s.writePump(wc) })
	s.readLoop(wc)

	// ungraceful or graceful, same cleanup path
	s.mgr.Remove(connID)
	dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.gw.Disconnect(dctx, connID)
}

func (s *Server) readLoop(wc *wsConn) {
	for {
		mt, data, err := wc.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Info("peer closed", zap.String("conn", wc.ConnID))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Info("read timeout", zap.String("conn", wc.ConnID), zap.Error(err))
			} else {
				logger.Info("read error", zap.String("conn", wc.ConnID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		reply, err := s.gw.HandleDefault(ctx, wc.ConnID, data)
		cancel()
		if err != nil {
			logger.Warn("frame handling failed", zap.String("conn", wc.ConnID), zap.Error(err))
			continue
		}
		if reply != nil {
			select {
			case wc.Send <- reply:
			case <-wc.done:
				return
			}
		}
	}
}

// writePump is the single writer for one socket: outbound queue plus
// periodic control pings. Any write error ends the connection.
func (s *Server) writePump(wc *wsConn) {
	ticker := time.NewTicker(s.pingInterval)
	first := time.NewTimer(firstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()
		_ = wc.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = wc.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		wc.close()
	}()

	for {
		select {
		case <-wc.done:
			return
		case payload := <-wc.Send:
			_ = wc.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wc.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Info("write failed", zap.String("conn", wc.ConnID), zap.Error(err))
				return
			}
		case <-first.C:
			if err := wc.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ticker.C:
			if err := wc.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
