package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "presence:session:"
	userKeyPrefix    = "presence:user:"
	// DefaultTTL outlives a few missed heartbeats before an entry expires.
	DefaultTTL = 2 * time.Minute

	unregisterAttempts = 3
)

// RedisDirectory shares live sessions between instances. Entries expire
// unless refreshed, so a crashed instance does not leave ghosts behind.
type RedisDirectory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDirectory parses url (redis://...) and connects.
func NewRedisDirectory(ctx context.Context, url string, ttl time.Duration) (*RedisDirectory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisDirectory(client, ttl), nil
}

func newRedisDirectory(client *redis.Client, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisDirectory{client: client, ttl: ttl}
}

// Register implements Directory.
func (d *RedisDirectory) Register(ctx context.Context, e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode presence entry: %w", err)
	}
	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(e.UserID, e.SessionID), val, d.ttl)
		pipe.SAdd(ctx, userKey(e.UserID), e.SessionID)
		pipe.Expire(ctx, userKey(e.UserID), d.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	return nil
}

// Refresh implements Directory.
func (d *RedisDirectory) Refresh(ctx context.Context, userID, sessionID string) error {
	_, err := d.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, sessionKey(userID, sessionID), d.ttl)
		pipe.Expire(ctx, userKey(userID), d.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh presence: %w", err)
	}
	return nil
}

// Unregister implements Directory. The entry is watched so a newer
// connection registering in between is left alone.
func (d *RedisDirectory) Unregister(ctx context.Context, userID, sessionID, connectionID string) error {
	key := sessionKey(userID, sessionID)
	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var e Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return fmt.Errorf("decode presence entry: %w", err)
		}
		if !e.ownedBy(connectionID) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, userKey(userID), sessionID)
			return nil
		})
		return err
	}

	var err error
	for range unregisterAttempts {
		err = d.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("unregister presence: %w", err)
	}
	return nil
}

// Sessions implements Directory. Expired members are pruned from the user set.
func (d *RedisDirectory) Sessions(ctx context.Context, userID string) ([]Entry, error) {
	ids, err := d.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		val, err := d.client.Get(ctx, sessionKey(userID, id)).Bytes()
		if errors.Is(err, redis.Nil) {
			d.client.SRem(ctx, userKey(userID), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get presence entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return nil, fmt.Errorf("decode presence entry: %w", err)
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Ping implements Directory.
func (d *RedisDirectory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close implements Directory.
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}

func sessionKey(userID, sessionID string) string {
	return sessionKeyPrefix + userID + ":" + sessionID
}

func userKey(userID string) string {
	return userKeyPrefix + userID
}
