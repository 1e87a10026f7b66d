// Package activity fans committed board activity out to a Redis stream so
// consumers outside the database can tail it.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
)

const DefaultStream = "grid:activity"

// maxLen caps the stream; trimming is approximate.
const maxLen = 100_000

// Entry is one stream message.
type Entry struct {
	StreamID string         `json:"streamId"`
	Activity store.Activity `json:"activity"`
}

type RedisStream struct {
	client *redis.Client
	stream string
}

// NewRedisStream connects to redisURL and checks the connection.
func NewRedisStream(redisURL, stream string) (*RedisStream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStreamWithClient(client, stream), nil
}

func NewRedisStreamWithClient(client *redis.Client, stream string) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream}
}

// Publish appends rows in order in one round trip.
func (s *RedisStream) Publish(ctx context.Context, rows []store.Activity) error {
	if len(rows) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, a := range rows {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal activity %d: %w", a.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: maxLen,
			Approx: true,
			Values: map[string]any{
				"id":       strconv.FormatInt(a.ID, 10),
				"board_id": strconv.FormatInt(a.BoardID, 10),
				"type":     a.Type,
				"payload":  string(payload),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Read returns up to n entries after the stream id after. An empty after
// reads from the start.
func (s *RedisStream) Read(ctx context.Context, after string, n int64) ([]Entry, error) {
	if n <= 0 {
		n = 100
	}
	start, count := "-", n
	if after != "" {
		// the start bound is inclusive
		start, count = after, n+1
	}
	msgs, err := s.client.XRangeN(ctx, s.stream, start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", s.stream, err)
	}
	out := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == after {
			continue
		}
		raw, _ := msg.Values["payload"].(string)
		var a store.Activity
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", msg.ID, err)
		}
		out = append(out, Entry{StreamID: msg.ID, Activity: a})
	}
	if int64(len(out)) > n {
		out = out[:n]
	}
	return out, nil
}

// Hook publishes each committed changeset. Failures are logged; the
// database rows remain the source of truth.
func (s *RedisStream) Hook() grid.CommitHook {
	logger := log.WithField("component", "activity")
	return func(ctx context.Context, cs grid.Changeset) {
		if err := s.Publish(ctx, cs.Activity); err != nil {
			logger.WithFields(log.Fields{"op": cs.Op, "rows": len(cs.Activity)}).WithError(err).Warn("publish activity failed")
		}
	}
}

func (s *RedisStream) Close() error {
	return s.client.Close()
}

func (s *RedisStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
