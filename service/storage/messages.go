package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatgate/service/chat"
)

// MongoConfig locates the message collection.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// MessageStore is the durable home of finalized message records. The gateway
// hands records off fire-and-forget; nothing here sits on the delivery path.
// Implements chat.MessageStore.
type MessageStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMessageStore(ctx context.Context, cfg MongoConfig) (*MessageStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "mongo ping")
	}
	return &MessageStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Save inserts one message record.
func (s *MessageStore) Save(ctx context.Context, rec *chat.MessageRecord) error {
	doc := bson.M{
		"_id":          rec.ID,
		"chatroom_id":  rec.ChatroomID,
		"user_id":      rec.UserID,
		"username":     rec.Username,
		"display_name": rec.DisplayName,
		"content":      rec.Content,
		"message_type": rec.MessageType,
		"client_id":    rec.ClientID,
		"timestamp":    rec.Timestamp,
		"edited":       rec.Edited,
		"reactions":    rec.Reactions,
		"stored_at":    time.Now().UTC(),
	}
	_, err := s.coll.InsertOne(ctx, doc)
	return errors.Wrap(err, "insert message")
}

func (s *MessageStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
