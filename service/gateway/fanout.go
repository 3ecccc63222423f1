package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/michaeljohneduave/hugin-gateway/logger"
	"github.com/michaeljohneduave/hugin-gateway/service/message"
	"github.com/michaeljohneduave/hugin-gateway/service/registry"
	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

// Pusher delivers a payload to a single live connection. It reports
// ErrTargetGone when the connection is no longer reachable.
type Pusher interface {
	Push(ctx context.Context, connID string, payload []byte) error
}

// Responder produces text for automated-responder mentions.
type Responder interface {
	Respond(ctx context.Context, req ResponderRequest) (string, error)
}

type ResponderRequest struct {
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`
	Prompt   string `json:"prompt"`
}

// Queue dispatches best-effort background tasks; see natsx.TaskQueue.
type Queue interface {
	Enqueue(kind string, v any) error
}

// HandlerQueue additionally consumes tasks; the gateway binary wires the
// fan-out's persistence and responder handlers through it.
type HandlerQueue interface {
	Queue
	Handle(kind string, fn func(ctx context.Context, payload []byte) error) error
}

// Background task kinds produced by the fan-out.
const (
	TaskPersistMessage  = "message.persist"
	TaskInvokeResponder = "responder.invoke"
)

type FanoutConfig struct {
	// IncludeSender controls whether the sender's own connections receive
	// the echoed broadcast.
	IncludeSender   bool
	ResponderHandle string // mention marker, e.g. "@llm"
	ResponderUserID string // synthetic sender id for responder output
}

// Fanout resolves a room to live connections and pushes one logical message
// to each of them: at-most-once, best-effort, no retry queue. Connections
// that reconnect after resolution are not retroactively included.
type Fanout struct {
	reg    registry.Registry
	pusher Pusher
	queue  Queue
	cfg    FanoutConfig
}

func NewFanout(reg registry.Registry, pusher Pusher, queue Queue, cfg FanoutConfig) *Fanout {
	if cfg.ResponderHandle == "" {
		cfg.ResponderHandle = "@llm"
	}
	if cfg.ResponderUserID == "" {
		cfg.ResponderUserID = "llm"
	}
	return &Fanout{reg: reg, pusher: pusher, queue: queue, cfg: cfg}
}

// SendMessage fans frame out to every live connection of every member of the
// room, attributed to the owner of originConnID.
func (f *Fanout) SendMessage(ctx context.Context, frame *Frame, originConnID string) error {
	data, err := f.reg.GetConnectionData(ctx, originConnID)
	if err != nil {
		return err
	}
	if data == nil {
		return errs.ErrConnectionNotFound.WithDetail(originConnID)
	}

	typ := frame.Type
	if typ == "" {
		typ = TypeUser
	}
	rec := message.NewRecord(data.UserID, frame.RoomID, typ)
	rec.Message = frame.Message
	rec.ImageFiles = frame.ImageFiles
	rec.VideoFiles = frame.VideoFiles
	rec.AudioFiles = frame.AudioFiles
	rec.Mentions = frame.Mentions

	return f.broadcast(ctx, rec)
}

func (f *Fanout) broadcast(ctx context.Context, rec *message.Record) error {
	// persistence is decoupled from delivery: enqueue failures are logged only
	if err := f.queue.Enqueue(TaskPersistMessage, rec); err != nil {
		logger.Warn("enqueue message persist failed", zap.String("room", rec.RoomID), zap.Error(err))
	}

	targets, err := f.resolveTargets(ctx, rec)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return errs.WrapMsg(err, "marshal record")
	}

	var wg sync.WaitGroup
	for _, connID := range targets {
		wg.Add(1)
		go func(connID string) {
			defer wg.Done()
			err := f.pusher.Push(ctx, connID, payload)
			if err == nil {
				return
			}
			if errs.ErrTargetGone.Is(err) {
				// stale target: self-heal the registry
				f.deregister(ctx, connID)
				return
			}
			logger.Warn("push failed", zap.String("conn", connID), zap.Error(err))
		}(connID)
	}
	wg.Wait()

	f.maybeInvokeResponder(rec)
	return nil
}

// resolveTargets expands room members into a deduplicated connection list,
// fixed at resolution time.
func (f *Fanout) resolveTargets(ctx context.Context, rec *message.Record) ([]string, error) {
	members, err := f.reg.GetRoomMembers(ctx, rec.RoomID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var targets []string
	for _, userID := range members {
		if !f.cfg.IncludeSender && userID == rec.SenderID {
			continue
		}
		conns, err := f.reg.GetUserConnections(ctx, userID)
		if err != nil {
			logger.Warn("expand member failed", zap.String("user", userID), zap.Error(err))
			continue
		}
		for _, connID := range conns {
			if _, ok := seen[connID]; ok {
				continue
			}
			seen[connID] = struct{}{}
			targets = append(targets, connID)
		}
	}
	return targets, nil
}

func (f *Fanout) deregister(ctx context.Context, connID string) {
	userID := ""
	if data, err := f.reg.GetConnectionData(ctx, connID); err == nil && data != nil {
		userID = data.UserID
	}
	if err := f.reg.RemoveConnection(ctx, connID, userID); err != nil {
		logger.Warn("deregister stale connection failed", zap.String("conn", connID), zap.Error(err))
		return
	}
	logger.Info("deregistered stale connection", zap.String("conn", connID), zap.String("user", userID))
}

func (f *Fanout) maybeInvokeResponder(rec *message.Record) {
	if rec.Type != TypeUser {
		return
	}
	mentioned := false
	for _, m := range rec.Mentions {
		if m == f.cfg.ResponderHandle || m == f.cfg.ResponderUserID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return
	}
	req := ResponderRequest{RoomID: rec.RoomID, SenderID: rec.SenderID, Prompt: rec.Message}
	if err := f.queue.Enqueue(TaskInvokeResponder, req); err != nil {
		logger.Warn("enqueue responder failed", zap.String("room", rec.RoomID), zap.Error(err))
	}
}

// RegisterTasks binds the fan-out's background task handlers: message
// persistence and responder invocation. Responder output re-enters the same
// broadcast path typed as an llm message, which cannot re-trigger the
// responder.
func (f *Fanout) RegisterTasks(q HandlerQueue, store message.Store, responder Responder) error {
	if err := q.Handle(TaskPersistMessage, func(ctx context.Context, payload []byte) error {
		var rec message.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return errs.WrapMsg(err, "decode persist task")
		}
		_, err := store.Create(ctx, &rec)
		return err
	}); err != nil {
		return err
	}

	return q.Handle(TaskInvokeResponder, func(ctx context.Context, payload []byte) error {
		var req ResponderRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return errs.WrapMsg(err, "decode responder task")
		}
		text, err := responder.Respond(ctx, req)
		if err != nil {
			return errs.WrapMsg(err, "responder")
		}
		rec := message.NewRecord(f.cfg.ResponderUserID, req.RoomID, TypeLLM)
		rec.Message = text
		return f.broadcast(ctx, rec)
	})
}
