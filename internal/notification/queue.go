package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the redis list the platform notification service drains.
const DefaultQueueKey = "joycoin:notifications"

type queuedMessage struct {
	Message
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueNotifier pushes notification events onto a redis list consumed by the
// platform's notification service. Keeping delivery behind a queue means a
// slow or down consumer cannot affect ledger mutations.
type QueueNotifier struct {
	cache *redis.Client
	key   string
}

// NewQueueNotifier constructs a redis-backed notifier. An empty key selects
// DefaultQueueKey.
func NewQueueNotifier(cache *redis.Client, key string) *QueueNotifier {
	if key == "" {
		key = DefaultQueueKey
	}
	return &QueueNotifier{cache: cache, key: key}
}

// Send enqueues the message.
func (n *QueueNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(queuedMessage{Message: message, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return n.cache.LPush(ctx, n.key, payload).Err()
}
