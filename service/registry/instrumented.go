package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/michaeljohneduave/hugin-gateway/logger"
)

// Instrumented wraps any Registry with timing and logging. It is backend
// agnostic and never alters return values or error semantics.
type Instrumented struct {
	next Registry
}

func NewInstrumented(next Registry) *Instrumented {
	return &Instrumented{next: next}
}

func (i *Instrumented) observe(op string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields, zap.Duration("took", time.Since(start)))
	if err != nil {
		fields = append(fields, zap.Error(err))
		logger.Warn("registry "+op, fields...)
		return
	}
	logger.Debug("registry "+op, fields...)
}

func (i *Instrumented) RefreshUserConnection(ctx context.Context, userID, token, connID string) error {
	start := time.Now()
	err := i.next.RefreshUserConnection(ctx, userID, token, connID)
	i.observe("refreshUserConnection", start, err, zap.String("user", userID), zap.String("conn", connID))
	return err
}

func (i *Instrumented) GetUserConnections(ctx context.Context, userID string) ([]string, error) {
	start := time.Now()
	conns, err := i.next.GetUserConnections(ctx, userID)
	i.observe("getUserConnections", start, err, zap.String("user", userID), zap.Int("count", len(conns)))
	return conns, err
}

func (i *Instrumented) GetConnectionData(ctx context.Context, connID string) (*ConnectionData, error) {
	start := time.Now()
	data, err := i.next.GetConnectionData(ctx, connID)
	i.observe("getConnectionData", start, err, zap.String("conn", connID), zap.Bool("found", data != nil))
	return data, err
}

func (i *Instrumented) RemoveConnection(ctx context.Context, connID, userID string) error {
	start := time.Now()
	err := i.next.RemoveConnection(ctx, connID, userID)
	i.observe("removeConnection", start, err, zap.String("conn", connID), zap.String("user", userID))
	return err
}

func (i *Instrumented) AddUserToRoom(ctx context.Context, roomID, userID, connID string) error {
	start := time.Now()
	err := i.next.AddUserToRoom(ctx, roomID, userID, connID)
	i.observe("addUserToRoom", start, err, zap.String("room", roomID), zap.String("user", userID), zap.String("conn", connID))
	return err
}

func (i *Instrumented) RemoveUserFromRoom(ctx context.Context, roomID, userID string) error {
	start := time.Now()
	err := i.next.RemoveUserFromRoom(ctx, roomID, userID)
	i.observe("removeUserFromRoom", start, err, zap.String("room", roomID), zap.String("user", userID))
	return err
}

func (i *Instrumented) GetRoomMembers(ctx context.Context, roomID string) ([]string, error) {
	start := time.Now()
	members, err := i.next.GetRoomMembers(ctx, roomID)
	i.observe("getRoomMembers", start, err, zap.String("room", roomID), zap.Int("count", len(members)))
	return members, err
}
