package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumochat/chat-engine/pkg/log"
)

// DefaultChannel is the pub/sub channel UI processes subscribe to.
const DefaultChannel = "chat.events"

// Redis publishes events to a pub/sub channel so detached UI processes (and
// push relays) can refresh without polling the store.
type Redis struct {
	client  *redis.Client
	channel string
}

func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

func (b *Redis) Publish(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		log.Error("bus: marshal event", err)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := b.client.Publish(cctx, b.channel, body).Err(); err != nil {
		log.Warnw("bus: publish failed", "kind", e.Kind, "chat_id", e.ChatID, "error", err)
	}
}
