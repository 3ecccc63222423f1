package natsx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/michaeljohneduave/hugin-gateway/logger"
	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

const taskSubjectPrefix = "hugin.tasks."

// TaskQueue dispatches best-effort background work (message persistence,
// responder invocations) over NATS core subjects. Handler failures are
// logged, never propagated back to the producer.
type TaskQueue struct {
	c       *Client
	timeout time.Duration
	subs    []*nats.Subscription
}

func NewTaskQueue(c *Client) *TaskQueue {
	return &TaskQueue{c: c, timeout: 30 * time.Second}
}

// Enqueue publishes a task payload for kind.
func (q *TaskQueue) Enqueue(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.WrapMsg(err, "marshal task "+kind)
	}
	if err := q.c.nc.Publish(taskSubjectPrefix+kind, data); err != nil {
		return errs.WrapMsg(err, "publish task "+kind)
	}
	return nil
}

// Handle subscribes fn to kind. Each task runs with its own timeout.
func (q *TaskQueue) Handle(kind string, fn func(ctx context.Context, payload []byte) error) error {
	sub, err := q.c.nc.Subscribe(taskSubjectPrefix+kind, func(m *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[tasks] panic in %s handler: %v", kind, r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		defer cancel()
		if err := fn(ctx, m.Data); err != nil {
			logger.Warn("[tasks] handler failed", zap.String("kind", kind), zap.Error(err))
		}
	})
	if err != nil {
		return errs.WrapMsg(err, "subscribe task "+kind)
	}
	q.subs = append(q.subs, sub)
	return nil
}

// Drain unsubscribes all handlers.
func (q *TaskQueue) Drain() {
	for _, s := range q.subs {
		_ = s.Drain()
	}
}
