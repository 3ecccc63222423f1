package rooms

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

const roomsCollection = "rooms"

// Room is the authoritative chat-room record. Membership here is the durable
// room roster; the registry keeps the ephemeral fan-out copy of it.
type Room struct {
	RoomID  string   `bson:"room_id" json:"roomId"`
	Name    string   `bson:"name" json:"name"`
	Members []string `bson:"members" json:"members"`
}

// Store lists the rooms a user belongs to.
type Store interface {
	ListRoomsForUser(ctx context.Context, userID string) ([]Room, error)
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(roomsCollection)}
}

func (s *MongoStore) ListRoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	cur, err := s.coll.Find(ctx, bson.M{"members": userID})
	if err != nil {
		return nil, errs.WrapMsg(err, "list rooms for user")
	}
	defer cur.Close(ctx)

	var out []Room
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode rooms")
	}
	return out, nil
}

// EnsureIndexes creates the member index; call at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "members", Value: 1}},
	})
	return errs.WrapMsg(err, "create room indexes")
}
