// Package relay carries live room messages between server instances over
// Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const channelPrefix = "chat:room:"

// Message is the relay wire format. Origin identifies the publishing
// instance so it can ignore its own messages.
type Message struct {
	Origin string `json:"origin"`
	Room   string `json:"room"`
	User   string `json:"user"`
	Msg    string `json:"msg"`
}

// Redis publishes and receives room messages on per-room channels.
type Redis struct {
	rdb    *redis.Client
	origin string
}

// NewRedis connects to redis and verifies connectivity.
func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, origin: xid.New().String()}, nil
}

// Origin returns this instance's relay identifier.
func (r *Redis) Origin() string { return r.origin }

// Publish sends a message to the room's channel.
func (r *Redis) Publish(ctx context.Context, room, user, msg string) error {
	raw, err := json.Marshal(Message{Origin: r.origin, Room: room, User: user, Msg: msg})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, channel(room), raw).Err()
}

// Subscribe listens on every room channel and invokes fn for each message
// published by another instance. It blocks until ctx is cancelled and returns
// an error only when the subscription cannot be established.
func (r *Redis) Subscribe(ctx context.Context, fn func(Message)) error {
	pubsub := r.rdb.PSubscribe(ctx, channel("*"))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", channel("*"), err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			msg, ok := r.accept(m.Payload)
			if !ok {
				continue
			}
			fn(msg)
		}
	}
}

// Close shuts down the redis connection.
func (r *Redis) Close() error { return r.rdb.Close() }

// accept decodes payload and reports whether it should be delivered locally.
func (r *Redis) accept(payload string) (Message, bool) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		log.Warn().Err(err).Msg("discarding malformed relay message")
		return Message{}, false
	}
	if m.Room == "" || m.Origin == r.origin {
		return Message{}, false
	}
	return m, true
}

func channel(room string) string { return channelPrefix + room }
