package registry

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

const connectionsCollection = "connections"

// connectionDoc is the wide record keyed by (user_id, connection_id).
// Secondary indexes on connection_id and room_ids give the reverse and
// room-membership lookups without separate collections. expires_at is
// advisory; cleanup is driven by explicit removal.
type connectionDoc struct {
	UserID       string    `bson:"user_id"`
	ConnectionID string    `bson:"connection_id"`
	Token        string    `bson:"token"`
	RoomIDs      []string  `bson:"room_ids,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
	ExpiresAt    time.Time `bson:"expires_at"`
}

// MongoRegistry is the durable backend over a single connections collection.
type MongoRegistry struct {
	coll *mongo.Collection
	ttl  time.Duration
}

func NewMongoRegistry(db *mongo.Database, ttl time.Duration) *MongoRegistry {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &MongoRegistry{coll: db.Collection(connectionsCollection), ttl: ttl}
}

// EnsureIndexes creates the primary and secondary indexes; call at startup.
func (r *MongoRegistry) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "connection_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "connection_id", Value: 1}}},
		{Keys: bson.D{{Key: "room_ids", Value: 1}}},
	})
	return errs.WrapMsg(err, "create connection indexes")
}

func (r *MongoRegistry) RefreshUserConnection(ctx context.Context, userID, token, connID string) error {
	now := time.Now()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"user_id": userID, "connection_id": connID},
		bson.M{
			"$set":         bson.M{"token": token, "expires_at": now.Add(r.ttl)},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return nil
}

func (r *MongoRegistry) GetUserConnections(ctx context.Context, userID string) ([]string, error) {
	vals, err := r.coll.Distinct(ctx, "connection_id", bson.M{"user_id": userID})
	if err != nil {
		return nil, errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	conns := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			conns = append(conns, s)
		}
	}
	return conns, nil
}

func (r *MongoRegistry) GetConnectionData(ctx context.Context, connID string) (*ConnectionData, error) {
	var doc connectionDoc
	err := r.coll.FindOne(ctx, bson.M{"connection_id": connID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return &ConnectionData{UserID: doc.UserID, Token: doc.Token}, nil
}

func (r *MongoRegistry) RemoveConnection(ctx context.Context, connID, userID string) error {
	filter := bson.M{"connection_id": connID}
	if userID != "" {
		filter["user_id"] = userID
	}
	// DeleteMany keeps removal idempotent even if an upsert raced a retry
	if _, err := r.coll.DeleteMany(ctx, filter); err != nil {
		return errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return nil
}

func (r *MongoRegistry) AddUserToRoom(ctx context.Context, roomID, userID, connID string) error {
	now := time.Now()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"user_id": userID, "connection_id": connID},
		bson.M{
			"$addToSet":    bson.M{"room_ids": roomID},
			"$set":         bson.M{"expires_at": now.Add(r.ttl)},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return nil
}

func (r *MongoRegistry) RemoveUserFromRoom(ctx context.Context, roomID, userID string) error {
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"user_id": userID, "room_ids": roomID},
		bson.M{"$pull": bson.M{"room_ids": roomID}},
	)
	if err != nil {
		return errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	return nil
}

func (r *MongoRegistry) GetRoomMembers(ctx context.Context, roomID string) ([]string, error) {
	vals, err := r.coll.Distinct(ctx, "user_id", bson.M{"room_ids": roomID})
	if err != nil {
		return nil, errs.ErrRegistryUnavailable.WrapMsg(err.Error())
	}
	members := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			members = append(members, s)
		}
	}
	return members, nil
}
