package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spigell/grant-interviewer/internal/interview"
)

type replacer interface {
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// MongoArchive keeps finished interviews, one document per session keyed by the session id.
type MongoArchive struct {
	collection replacer
	now        func() time.Time
}

type archivedInterview struct {
	interview.ConversationContext `bson:",inline"`
	ArchivedAt                    time.Time `bson:"archived_at"`
}

func NewMongoArchive(collection *mongo.Collection) *MongoArchive {
	return newMongoArchive(collection)
}

func newMongoArchive(collection replacer) *MongoArchive {
	return &MongoArchive{
		collection: collection,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Archive upserts the session document.
func (a *MongoArchive) Archive(ctx context.Context, c *interview.ConversationContext) error {
	doc := archivedInterview{ConversationContext: *c, ArchivedAt: a.now()}

	_, err := a.collection.ReplaceOne(ctx, bson.M{"_id": c.SessionID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("archive session %s: %w", c.SessionID, err)
	}
	return nil
}
