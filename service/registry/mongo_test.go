package registry

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

// The durable backend is exercised against the driver's command mocks: each
// test pins the exact filter/update shape sent to the server.
func TestMongoRegistryCommands(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("refresh upserts the wide document", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		r := NewMongoRegistry(mt.DB, time.Hour)

		if err := r.RefreshUserConnection(context.Background(), "u1", "tok", "c1"); err != nil {
			mt.Fatal(err)
		}

		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "update" {
			mt.Fatalf("want an update command, got %+v", evt)
		}
		if got := evt.Command.Lookup("updates", "0", "q", "user_id").StringValue(); got != "u1" {
			mt.Fatalf("filter user_id = %q, want u1", got)
		}
		if got := evt.Command.Lookup("updates", "0", "q", "connection_id").StringValue(); got != "c1" {
			mt.Fatalf("filter connection_id = %q, want c1", got)
		}
		if got := evt.Command.Lookup("updates", "0", "u", "$set", "token").StringValue(); got != "tok" {
			mt.Fatalf("$set token = %q, want tok", got)
		}
		if !evt.Command.Lookup("updates", "0", "upsert").Boolean() {
			mt.Fatal("refresh must upsert")
		}
	})

	mt.Run("join adds the room to the set", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		r := NewMongoRegistry(mt.DB, time.Hour)

		if err := r.AddUserToRoom(context.Background(), "r1", "u1", "c1"); err != nil {
			mt.Fatal(err)
		}

		evt := mt.GetStartedEvent()
		if got := evt.Command.Lookup("updates", "0", "u", "$addToSet", "room_ids").StringValue(); got != "r1" {
			mt.Fatalf("$addToSet room_ids = %q, want r1", got)
		}
		if !evt.Command.Lookup("updates", "0", "upsert").Boolean() {
			mt.Fatal("join must upsert so it stands alone without a prior refresh")
		}
	})

	mt.Run("leave pulls the room id from every device", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		r := NewMongoRegistry(mt.DB, time.Hour)

		if err := r.RemoveUserFromRoom(context.Background(), "r1", "u1"); err != nil {
			mt.Fatal(err)
		}

		evt := mt.GetStartedEvent()
		if got := evt.Command.Lookup("updates", "0", "q", "user_id").StringValue(); got != "u1" {
			mt.Fatalf("filter user_id = %q, want u1", got)
		}
		if got := evt.Command.Lookup("updates", "0", "u", "$pull", "room_ids").StringValue(); got != "r1" {
			mt.Fatalf("$pull room_ids = %q, want r1", got)
		}
		// multi-document update: the user leaves on all connections at once
		if !evt.Command.Lookup("updates", "0", "multi").Boolean() {
			mt.Fatal("leave must update every matching document")
		}
	})

	mt.Run("remove without user id filters by connection only", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		r := NewMongoRegistry(mt.DB, time.Hour)

		if err := r.RemoveConnection(context.Background(), "c1", ""); err != nil {
			mt.Fatal(err)
		}

		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "delete" {
			mt.Fatalf("want a delete command, got %+v", evt)
		}
		if got := evt.Command.Lookup("deletes", "0", "q", "connection_id").StringValue(); got != "c1" {
			mt.Fatalf("filter connection_id = %q, want c1", got)
		}
		if rv, err := evt.Command.LookupErr("deletes", "0", "q", "user_id"); err == nil {
			mt.Fatalf("unknown owner must not constrain user_id, got %v", rv)
		}
	})

	mt.Run("remove with user id constrains both keys", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		r := NewMongoRegistry(mt.DB, time.Hour)

		if err := r.RemoveConnection(context.Background(), "c1", "u1"); err != nil {
			mt.Fatal(err)
		}

		evt := mt.GetStartedEvent()
		if got := evt.Command.Lookup("deletes", "0", "q", "user_id").StringValue(); got != "u1" {
			mt.Fatalf("filter user_id = %q, want u1", got)
		}
	})

	mt.Run("unknown connection resolves to none", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mt.DB.Name()+".connections", mtest.FirstBatch))
		r := NewMongoRegistry(mt.DB, time.Hour)

		data, err := r.GetConnectionData(context.Background(), "ghost")
		if err != nil {
			mt.Fatalf("missing record must not be an error: %v", err)
		}
		if data != nil {
			mt.Fatalf("want nil for unknown connection, got %+v", data)
		}
	})

	mt.Run("room members come from distinct user ids", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "values", Value: bson.A{"u1", "u2"}},
		))
		r := NewMongoRegistry(mt.DB, time.Hour)

		members, err := r.GetRoomMembers(context.Background(), "r1")
		if err != nil {
			mt.Fatal(err)
		}
		if len(members) != 2 || members[0] != "u1" || members[1] != "u2" {
			mt.Fatalf("want [u1 u2], got %v", members)
		}

		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "distinct" {
			mt.Fatalf("want a distinct command, got %+v", evt)
		}
		if got := evt.Command.Lookup("key").StringValue(); got != "user_id" {
			mt.Fatalf("distinct key = %q, want user_id", got)
		}
		if got := evt.Command.Lookup("query", "room_ids").StringValue(); got != "r1" {
			mt.Fatalf("distinct query room_ids = %q, want r1", got)
		}
	})
}
