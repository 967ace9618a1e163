package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"collab-app/pkg/logger"
)

// Bridge relays frames between server instances over Redis pub/sub, one
// channel per room plus one per connected user for direct messages. Frames
// are tagged with the publishing instance so a hub never re-delivers its
// own traffic.
type Bridge struct {
	rdb    *redis.Client
	origin string
}

type bridgeEnvelope struct {
	Origin  string          `json:"origin"`
	Exclude string          `json:"exclude,omitempty"`
	Data    json.RawMessage `json:"data"`
}

func NewBridge(addr string) (*Bridge, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Bridge{
		rdb:    rdb,
		origin: uuid.NewString(),
	}, nil
}

func (b *Bridge) Publish(roomID, exclude string, data []byte) error {
	return b.publish(roomChannel(roomID), exclude, data)
}

// PublishUser relays a direct-message frame to instances holding other
// connections of the user.
func (b *Bridge) PublishUser(userID string, data []byte) error {
	return b.publish(userChannel(userID), "", data)
}

func (b *Bridge) publish(channel, exclude string, data []byte) error {
	payload, err := json.Marshal(bridgeEnvelope{
		Origin:  b.origin,
		Exclude: exclude,
		Data:    data,
	})
	if err != nil {
		return err
	}
	return b.rdb.Publish(context.Background(), channel, payload).Err()
}

// Subscribe relays frames published by other instances for the room into
// deliver. The subscription ends when ctx is canceled.
func (b *Bridge) Subscribe(ctx context.Context, roomID string, deliver func(exclude string, data []byte)) {
	b.subscribe(ctx, roomChannel(roomID), deliver)
}

// SubscribeUser relays direct-message frames for the user. Held while the
// user has at least one local connection.
func (b *Bridge) SubscribeUser(ctx context.Context, userID string, deliver func(data []byte)) {
	b.subscribe(ctx, userChannel(userID), func(_ string, data []byte) {
		deliver(data)
	})
}

func (b *Bridge) subscribe(ctx context.Context, channel string, deliver func(exclude string, data []byte)) {
	pubsub := b.rdb.Subscribe(ctx, channel)

	go func() {
		<-ctx.Done()
		pubsub.Close()
	}()
	go func() {
		for msg := range pubsub.Channel() {
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Error("Bridge: malformed envelope on %s: %v", msg.Channel, err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			deliver(env.Exclude, env.Data)
		}
	}()
}

func (b *Bridge) Close() error {
	return b.rdb.Close()
}

func roomChannel(roomID string) string {
	return "room:" + roomID
}

func userChannel(userID string) string {
	return "user:" + userID
}
