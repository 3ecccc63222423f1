package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/michaeljohneduave/hugin-gateway/service/message"
	"github.com/michaeljohneduave/hugin-gateway/service/registry"
	"github.com/michaeljohneduave/hugin-gateway/service/rooms"
	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

// memRegistry is a map-backed registry for handler tests.
type memRegistry struct {
	mu        sync.Mutex
	conns     map[string]registry.ConnectionData
	userConns map[string]map[string]struct{}
	roomUsers map[string]map[string]struct{}
	failRooms map[string]bool // AddUserToRoom fails for these rooms
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		conns:     make(map[string]registry.ConnectionData),
		userConns: make(map[string]map[string]struct{}),
		roomUsers: make(map[string]map[string]struct{}),
		failRooms: make(map[string]bool),
	}
}

func (m *memRegistry) RefreshUserConnection(_ context.Context, userID, token, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[connID] = registry.ConnectionData{UserID: userID, Token: token}
	if m.userConns[userID] == nil {
		m.userConns[userID] = make(map[string]struct{})
	}
	m.userConns[userID][connID] = struct{}{}
	return nil
}

func (m *memRegistry) GetUserConnections(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.userConns[userID]))
	for c := range m.userConns[userID] {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memRegistry) GetConnectionData(_ context.Context, connID string) (*registry.ConnectionData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.conns[connID]
	if !ok {
		return nil, nil
	}
	return &data, nil
}

func (m *memRegistry) RemoveConnection(_ context.Context, connID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
	if set := m.userConns[userID]; set != nil {
		delete(set, connID)
	}
	return nil
}

func (m *memRegistry) AddUserToRoom(_ context.Context, roomID, userID, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRooms[roomID] {
		return errs.ErrRegistryUnavailable.WithDetail(roomID)
	}
	if m.roomUsers[roomID] == nil {
		m.roomUsers[roomID] = make(map[string]struct{})
	}
	m.roomUsers[roomID][userID] = struct{}{}
	return nil
}

func (m *memRegistry) RemoveUserFromRoom(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set := m.roomUsers[roomID]; set != nil {
		delete(set, userID)
	}
	return nil
}

func (m *memRegistry) GetRoomMembers(_ context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.roomUsers[roomID]))
	for u := range m.roomUsers[roomID] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

// fakePusher records pushes; connections in gone report ErrTargetGone.
type fakePusher struct {
	mu     sync.Mutex
	pushed map[string][][]byte
	gone   map[string]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{pushed: make(map[string][][]byte), gone: make(map[string]bool)}
}

func (p *fakePusher) Push(_ context.Context, connID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone[connID] {
		return errs.ErrTargetGone.WithDetail(connID)
	}
	p.pushed[connID] = append(p.pushed[connID], payload)
	return nil
}

func (p *fakePusher) targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.pushed))
	for c := range p.pushed {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// syncQueue runs task handlers inline on Enqueue; handler errors are
// swallowed like the real best-effort queue.
type syncQueue struct {
	handlers map[string]func(ctx context.Context, payload []byte) error
	errs     []error
}

func newSyncQueue() *syncQueue {
	return &syncQueue{handlers: make(map[string]func(ctx context.Context, payload []byte) error)}
}

func (q *syncQueue) Enqueue(kind string, v any) error {
	h, ok := q.handlers[kind]
	if !ok {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := h(context.Background(), payload); err != nil {
		q.errs = append(q.errs, err)
	}
	return nil
}

func (q *syncQueue) Handle(kind string, fn func(ctx context.Context, payload []byte) error) error {
	q.handlers[kind] = fn
	return nil
}

// memMessageStore collects created records; fail makes Create error.
type memMessageStore struct {
	mu      sync.Mutex
	created []*message.Record
	fail    bool
}

func (s *memMessageStore) Create(_ context.Context, rec *message.Record) (*message.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errs.New("message store down")
	}
	s.created = append(s.created, rec)
	return rec, nil
}

// stubVerifier resolves any token of the form "tok:<user>".
type stubVerifier struct{}

func (stubVerifier) Verify(token string) (string, error) {
	const prefix = "tok:"
	if len(token) > len(prefix) && token[:len(prefix)] == prefix {
		return token[len(prefix):], nil
	}
	return "", errs.ErrUnauthorized.WithDetail("bad token")
}

// stubRooms returns a fixed room list per user.
type stubRooms struct {
	byUser map[string][]rooms.Room
	err    error
}

func (s *stubRooms) ListRoomsForUser(_ context.Context, userID string) ([]rooms.Room, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byUser[userID], nil
}

// stubResponder returns canned text.
type stubResponder struct {
	text string
	err  error
	got  []ResponderRequest
}

func (s *stubResponder) Respond(_ context.Context, req ResponderRequest) (string, error) {
	s.got = append(s.got, req)
	return s.text, s.err
}
