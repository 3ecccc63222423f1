package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/michaeljohneduave/hugin-gateway/service/rooms"
	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

func newTestGateway(reg *memRegistry, roomStore *stubRooms) (*Gateway, *fakePusher, *syncQueue) {
	pusher := newFakePusher()
	queue := newSyncQueue()
	fanout := NewFanout(reg, pusher, queue, FanoutConfig{IncludeSender: true})
	return New(stubVerifier{}, reg, roomStore, fanout), pusher, queue
}

func TestConnectRequiresConnectionID(t *testing.T) {
	g, _, _ := newTestGateway(newMemRegistry(), &stubRooms{})

	err := g.Connect(context.Background(), ConnectRequest{Token: "tok:u1"})
	if !errs.ErrBadRequest.Is(err) {
		t.Fatalf("want bad request, got %v", err)
	}
}

func TestConnectFailsClosedOnBadToken(t *testing.T) {
	reg := newMemRegistry()
	g, _, _ := newTestGateway(reg, &stubRooms{})

	err := g.Connect(context.Background(), ConnectRequest{ConnectionID: "c1", Token: "garbage"})
	if !errs.ErrUnauthorized.Is(err) {
		t.Fatalf("want unauthorized, got %v", err)
	}
	if data, _ := reg.GetConnectionData(context.Background(), "c1"); data != nil {
		t.Fatalf("connection must not be registered after auth failure")
	}
}

func TestConnectWithZeroRooms(t *testing.T) {
	reg := newMemRegistry()
	g, _, _ := newTestGateway(reg, &stubRooms{})

	if err := g.Connect(context.Background(), ConnectRequest{ConnectionID: "c1", Token: "tok:u1"}); err != nil {
		t.Fatal(err)
	}
	conns, _ := reg.GetUserConnections(context.Background(), "u1")
	if len(conns) != 1 || conns[0] != "c1" {
		t.Fatalf("want [c1], got %v", conns)
	}
}

func TestConnectJoinsAllRoomsBestEffort(t *testing.T) {
	reg := newMemRegistry()
	roomList := make([]rooms.Room, 0, 150)
	for i := 0; i < 150; i++ {
		roomList = append(roomList, rooms.Room{RoomID: fmt.Sprintf("r%03d", i)})
	}
	reg.failRooms["r077"] = true
	g, _, _ := newTestGateway(reg, &stubRooms{byUser: map[string][]rooms.Room{"u1": roomList}})

	if err := g.Connect(context.Background(), ConnectRequest{ConnectionID: "c1", Token: "tok:u1"}); err != nil {
		t.Fatalf("single room failure must not fail connect: %v", err)
	}

	joined := 0
	for _, rm := range roomList {
		members, _ := reg.GetRoomMembers(context.Background(), rm.RoomID)
		if len(members) == 1 && members[0] == "u1" {
			joined++
		}
	}
	if joined != 149 {
		t.Fatalf("want 149 memberships (150 minus the failing room), got %d", joined)
	}
}

func TestConnectSurfacesRoomStoreFailure(t *testing.T) {
	g, _, _ := newTestGateway(newMemRegistry(), &stubRooms{err: errors.New("room store down")})

	err := g.Connect(context.Background(), ConnectRequest{ConnectionID: "c1", Token: "tok:u1"})
	if !errs.ErrInternal.Is(err) {
		t.Fatalf("want internal error, got %v", err)
	}
}

func TestDisconnectIsBestEffort(t *testing.T) {
	reg := newMemRegistry()
	g, _, _ := newTestGateway(reg, &stubRooms{})
	ctx := context.Background()

	if err := g.Connect(ctx, ConnectRequest{ConnectionID: "c1", Token: "tok:u1"}); err != nil {
		t.Fatal(err)
	}
	g.Disconnect(ctx, "c1")
	if conns, _ := reg.GetUserConnections(ctx, "u1"); len(conns) != 0 {
		t.Fatalf("want no connections after disconnect, got %v", conns)
	}

	// unknown connection: no panic, nothing to assert beyond it returning
	g.Disconnect(ctx, "never-registered")
}

func TestPingRefreshesAndReplies(t *testing.T) {
	reg := newMemRegistry()
	g, _, _ := newTestGateway(reg, &stubRooms{})
	ctx := context.Background()

	reply, err := g.HandleDefault(ctx, "c1", []byte(`{"action":"ping","token":"tok:u1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(reply) != string(PongPayload) {
		t.Fatalf("want pong reply, got %s", reply)
	}
	if data, _ := reg.GetConnectionData(ctx, "c1"); data == nil || data.UserID != "u1" {
		t.Fatalf("ping must refresh the connection record, got %+v", data)
	}
}

func TestPingFailureFailsOnlyThePing(t *testing.T) {
	g, _, _ := newTestGateway(newMemRegistry(), &stubRooms{})

	reply, err := g.HandleDefault(context.Background(), "c1", []byte(`{"action":"ping","token":"expired"}`))
	if !errs.ErrUnauthorized.Is(err) {
		t.Fatalf("want unauthorized, got %v", err)
	}
	if reply != nil {
		t.Fatalf("want no reply on failed ping, got %s", reply)
	}
}

func TestJoinAndLeaveRoom(t *testing.T) {
	reg := newMemRegistry()
	g, _, _ := newTestGateway(reg, &stubRooms{})
	ctx := context.Background()

	if err := g.Connect(ctx, ConnectRequest{ConnectionID: "c1", Token: "tok:u1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.HandleDefault(ctx, "c1", []byte(`{"action":"joinRoom","roomId":"r1"}`)); err != nil {
		t.Fatal(err)
	}
	members, _ := reg.GetRoomMembers(ctx, "r1")
	if len(members) != 1 || members[0] != "u1" {
		t.Fatalf("want [u1], got %v", members)
	}

	if _, err := g.HandleDefault(ctx, "c1", []byte(`{"action":"leaveRoom","roomId":"r1"}`)); err != nil {
		t.Fatal(err)
	}
	if members, _ := reg.GetRoomMembers(ctx, "r1"); len(members) != 0 {
		t.Fatalf("want empty room, got %v", members)
	}
}

func TestUnknownActionAndMalformedFramesIgnored(t *testing.T) {
	g, _, _ := newTestGateway(newMemRegistry(), &stubRooms{})
	ctx := context.Background()

	for _, raw := range []string{`{"action":"dance"}`, `not json`, `{}`} {
		reply, err := g.HandleDefault(ctx, "c1", []byte(raw))
		if err != nil || reply != nil {
			t.Fatalf("frame %q: want ignored, got reply=%s err=%v", raw, reply, err)
		}
	}
}
