// Package gateway owns token verification and registry orchestration for the
// three transport events: connect, disconnect and default (action dispatch).
// Handlers are stateless; the registry backend is the only shared state.
package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/michaeljohneduave/hugin-gateway/logger"
	"github.com/michaeljohneduave/hugin-gateway/service/registry"
	"github.com/michaeljohneduave/hugin-gateway/service/rooms"
	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
	"github.com/michaeljohneduave/hugin-gateway/tools/security"
)

type Gateway struct {
	verifier security.Verifier
	reg      registry.Registry
	rooms    rooms.Store
	fanout   *Fanout
}

func New(verifier security.Verifier, reg registry.Registry, roomStore rooms.Store, fanout *Fanout) *Gateway {
	return &Gateway{verifier: verifier, reg: reg, rooms: roomStore, fanout: fanout}
}

type ConnectRequest struct {
	ConnectionID string
	Token        string
}

// Connect verifies the bearer token, registers the connection and joins the
// user's rooms. Room joins run in parallel and are individually best-effort:
// one room failing is logged, not fatal. Zero rooms still succeeds.
func (g *Gateway) Connect(ctx context.Context, req ConnectRequest) error {
	if req.ConnectionID == "" {
		return errs.ErrBadRequest.WithDetail("missing connection id")
	}
	userID, err := g.verifier.Verify(req.Token)
	if err != nil {
		return err
	}

	roomList, err := g.rooms.ListRoomsForUser(ctx, userID)
	if err != nil {
		return errs.ErrInternal.WrapMsg(err.Error())
	}

	if err := g.reg.RefreshUserConnection(ctx, userID, req.Token, req.ConnectionID); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, rm := range roomList {
		wg.Add(1)
		go func(roomID string) {
			defer wg.Done()
			if err := g.reg.AddUserToRoom(ctx, roomID, userID, req.ConnectionID); err != nil {
				logger.Warn("join room failed",
					zap.String("room", roomID),
					zap.String("user", userID),
					zap.String("conn", req.ConnectionID),
					zap.Error(err))
			}
		}(rm.RoomID)
	}
	wg.Wait()

	logger.Info("connection registered",
		zap.String("user", userID),
		zap.String("conn", req.ConnectionID),
		zap.Int("rooms", len(roomList)))
	return nil
}

// Disconnect removes the connection record, best-effort: it always succeeds
// from the transport's perspective.
func (g *Gateway) Disconnect(ctx context.Context, connID string) {
	userID := ""
	if data, err := g.reg.GetConnectionData(ctx, connID); err == nil && data != nil {
		userID = data.UserID
	}
	if err := g.reg.RemoveConnection(ctx, connID, userID); err != nil {
		logger.Warn("remove connection failed", zap.String("conn", connID), zap.Error(err))
		return
	}
	logger.Info("connection removed", zap.String("conn", connID), zap.String("user", userID))
}

// HandleDefault dispatches an inbound frame by action and returns an optional
// reply payload for the origin connection. Malformed frames and unknown
// actions are ignored.
func (g *Gateway) HandleDefault(ctx context.Context, connID string, raw []byte) ([]byte, error) {
	frame, err := ParseFrame(raw)
	if err != nil {
		logger.Debug("dropping malformed frame", zap.String("conn", connID), zap.Error(err))
		return nil, nil
	}

	switch frame.Action {
	case ActionPing:
		return g.handlePing(ctx, connID, frame)
	case ActionJoinRoom:
		return nil, g.handleJoin(ctx, connID, frame)
	case ActionLeaveRoom:
		return nil, g.handleLeave(ctx, connID, frame)
	case ActionMessage:
		return nil, g.fanout.SendMessage(ctx, frame, connID)
	default:
		logger.Debug("ignoring unknown action", zap.String("action", frame.Action))
		return nil, nil
	}
}

// handlePing re-verifies the token and refreshes the connection record.
// A failure fails only this ping, never the connection.
func (g *Gateway) handlePing(ctx context.Context, connID string, frame *Frame) ([]byte, error) {
	userID, err := g.verifier.Verify(frame.Token)
	if err != nil {
		logger.Warn("ping re-verification failed", zap.String("conn", connID), zap.Error(err))
		return nil, err
	}
	if err := g.reg.RefreshUserConnection(ctx, userID, frame.Token, connID); err != nil {
		logger.Warn("heartbeat refresh failed", zap.String("conn", connID), zap.Error(err))
		return nil, err
	}
	return PongPayload, nil
}

func (g *Gateway) handleJoin(ctx context.Context, connID string, frame *Frame) error {
	if frame.RoomID == "" {
		return errs.ErrBadRequest.WithDetail("missing roomId")
	}
	data, err := g.reg.GetConnectionData(ctx, connID)
	if err != nil {
		return err
	}
	if data == nil {
		return errs.ErrConnectionNotFound.WithDetail(connID)
	}
	return g.reg.AddUserToRoom(ctx, frame.RoomID, data.UserID, connID)
}

func (g *Gateway) handleLeave(ctx context.Context, connID string, frame *Frame) error {
	if frame.RoomID == "" {
		return errs.ErrBadRequest.WithDetail("missing roomId")
	}
	data, err := g.reg.GetConnectionData(ctx, connID)
	if err != nil {
		return err
	}
	if data == nil {
		return errs.ErrConnectionNotFound.WithDetail(connID)
	}
	return g.reg.RemoveUserFromRoom(ctx, frame.RoomID, data.UserID)
}
