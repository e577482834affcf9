package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/bryan-buckman/onosendai/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisChannel is the pub/sub channel column states are fanned out on.
const RedisChannel = "onosendai:column-state"

const redisPublishTimeout = 2 * time.Second

type redisEvent struct {
	Event
	Origin string `json:"origin"`
}

// Redis publishes to a local Hub and mirrors every event over Redis
// pub/sub so other processes sharing the store see the same states.
type Redis struct {
	*Hub
	client *redis.Client
	origin string
}

// ConnectRedis parses redisURL, falling back to a bare address, and pings it.
func ConnectRedis(ctx context.Context, redisURL string, hub *Hub) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{Hub: hub, client: client, origin: uuid.NewString()}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Publish updates the local hub and sends the event to Redis in the background.
func (r *Redis) Publish(columnID int, state model.ColumnState) {
	ev := Event{ColumnID: columnID, State: state, At: time.Now()}
	r.Hub.deliver(ev)

	payload, err := encodeEvent(ev, r.origin)
	if err != nil {
		log.Printf("Error encoding column state for column %d: %v", columnID, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
		defer cancel()
		if err := r.client.Publish(ctx, RedisChannel, payload).Err(); err != nil {
			log.Printf("Error publishing column state for column %d: %v", columnID, err)
		}
	}()
}

// Listen relays events published by other processes into the local hub
// until ctx is cancelled.
func (r *Redis) Listen(ctx context.Context) {
	sub := r.client.Subscribe(ctx, RedisChannel)
	defer sub.Close()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, origin, err := decodeEvent(msg.Payload)
			if err != nil {
				log.Printf("Ignoring bad column state message: %v", err)
				continue
			}
			if origin == r.origin {
				continue
			}
			r.Hub.deliver(ev)
		}
	}
}

func encodeEvent(ev Event, origin string) (string, error) {
	b, err := json.Marshal(redisEvent{Event: ev, Origin: origin})
	return string(b), err
}

func decodeEvent(payload string) (Event, string, error) {
	var re redisEvent
	if err := json.Unmarshal([]byte(payload), &re); err != nil {
		return Event{}, "", err
	}
	if re.ColumnID <= 0 {
		return Event{}, "", fmt.Errorf("invalid column id %d", re.ColumnID)
	}
	return re.Event, re.Origin, nil
}
