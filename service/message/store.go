package message

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/michaeljohneduave/hugin-gateway/tools/errs"
)

const messagesCollection = "messages"

// Record is the delivered chat record: persisted to Mongo and broadcast
// verbatim to every resolved connection.
type Record struct {
	MessageID  string   `bson:"message_id" json:"messageId"`
	SenderID   string   `bson:"sender_id" json:"senderId"`
	RoomID     string   `bson:"room_id" json:"roomId"`
	Type       string   `bson:"type" json:"type"` // user | llm | event
	Message    string   `bson:"message,omitempty" json:"message,omitempty"`
	ImageFiles []string `bson:"image_files,omitempty" json:"imageFiles,omitempty"`
	VideoFiles []string `bson:"video_files,omitempty" json:"videoFiles,omitempty"`
	AudioFiles []string `bson:"audio_files,omitempty" json:"audioFiles,omitempty"`
	Mentions   []string `bson:"mentions,omitempty" json:"mentions,omitempty"`
	Timestamp  int64    `bson:"timestamp" json:"timestamp"` // unix millis
}

// NewRecord stamps id and timestamp for an outgoing message.
func NewRecord(senderID, roomID, typ string) *Record {
	return &Record{
		MessageID: uuid.NewString(),
		SenderID:  senderID,
		RoomID:    roomID,
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Store persists delivered chat records.
type Store interface {
	Create(ctx context.Context, rec *Record) (*Record, error)
}

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(messagesCollection)}
}

func (s *MongoStore) Create(ctx context.Context, rec *Record) (*Record, error) {
	if rec.MessageID == "" {
		rec.MessageID = uuid.NewString()
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return nil, errs.WrapMsg(err, "insert message")
	}
	return rec, nil
}
