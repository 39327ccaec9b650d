package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spigell/grant-interviewer/internal/interview"
)

const keyPrefix = "interview:session:"

// Redis stores each session as one JSON value. A positive ttl expires sessions
// that were not written for that long.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Load(ctx context.Context, sessionID string) (*interview.ConversationContext, error) {
	data, err := r.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, interview.ErrNotFound
		}
		return nil, err
	}
	return decode(data)
}

func (r *Redis) Save(ctx context.Context, c *interview.ConversationContext) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, keyPrefix+c.SessionID, data, r.ttl).Err()
}
