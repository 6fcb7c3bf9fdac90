package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel instances exchange events on.
const DefaultChannel = "mealbuddy:realtime"

// Queue carries emitted frames to other instances.
type Queue interface {
	Publish(ctx context.Context, room string, payload []byte) error
	Close() error
}

// queueMessage represents a message sent via pub/sub
type queueMessage struct {
	InstanceID string          `json:"instance_id"` // Source instance ID
	Room       string          `json:"room"`
	Payload    json.RawMessage `json:"payload"`
}

// RedisQueue fans events out across instances over Redis pub/sub.
type RedisQueue struct {
	client     *redis.Client
	pubsub     *redis.PubSub
	channel    string
	instanceID string
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisQueue connects to redisURL and starts relaying messages from
// other instances to deliver. Messages this instance published are skipped.
func NewRedisQueue(redisURL, instanceID string, deliver func(room string, payload []byte), log *slog.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		client:     client,
		channel:    DefaultChannel,
		instanceID: instanceID,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}

	q.pubsub = client.Subscribe(ctx, q.channel)
	// Wait for subscription confirmation
	if _, err := q.pubsub.Receive(pingCtx); err != nil {
		cancel()
		_ = q.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", q.channel, err)
	}

	q.wg.Add(1)
	go q.processMessages(deliver)

	log.Info("realtime message queue started", "channel", q.channel, "instance_id", instanceID)
	return q, nil
}

func (q *RedisQueue) processMessages(deliver func(string, []byte)) {
	defer q.wg.Done()
	ch := q.pubsub.Channel()

	for {
		select {
		case <-q.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var m queueMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				q.log.Warn("failed to unmarshal queue message", "error", err)
				continue
			}
			// Skip messages from this instance (avoid loops)
			if m.InstanceID == q.instanceID {
				continue
			}
			deliver(m.Room, m.Payload)
		}
	}
}

// Publish sends an encoded frame to every other instance.
func (q *RedisQueue) Publish(ctx context.Context, room string, payload []byte) error {
	data, err := json.Marshal(queueMessage{InstanceID: q.instanceID, Room: room, Payload: payload})
	if err != nil {
		return err
	}
	return q.client.Publish(ctx, q.channel, data).Err()
}

// Close stops the subscriber and closes the connection.
func (q *RedisQueue) Close() error {
	q.cancel()
	err := q.pubsub.Close()
	q.wg.Wait()
	if cerr := q.client.Close(); err == nil {
		err = cerr
	}
	return err
}
