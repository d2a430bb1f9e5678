package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const userChannelPrefix = "notify:user:"

// Bridge fans events out across API instances over Redis pub/sub. Publishes
// go to the user's channel; every instance, this one included, subscribes and
// delivers to its local registry. Sessions on any instance therefore see
// events produced on any instance.
type Bridge struct {
	rdb   *redis.Client
	local *Registry
	log   *slog.Logger
}

func NewBridge(rdb *redis.Client, local *Registry, log *slog.Logger) *Bridge {
	return &Bridge{rdb: rdb, local: local, log: log}
}

// Publish sends ev to every instance subscribed to userID's channel. The
// returned bool is advisory: true means at least one subscriber connection
// received the message, not that a browser session consumed it. On Redis
// failure delivery degrades to the local registry.
func (b *Bridge) Publish(ctx context.Context, userID string, ev Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("notify: encode event", "type", ev.Type, "error", err)
		return false
	}

	n, err := b.rdb.Publish(ctx, userChannelPrefix+userID, data).Result()
	if err != nil {
		b.log.Warn("notify: redis publish failed, delivering locally", "error", err)
		return b.local.Publish(ctx, userID, ev)
	}
	return n > 0
}

// Run consumes the user channels and delivers to the local registry. Blocks
// until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.PSubscribe(ctx, userChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID := strings.TrimPrefix(msg.Channel, userChannelPrefix)

			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("notify: drop malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			b.local.Publish(ctx, userID, ev)
		}
	}
}
