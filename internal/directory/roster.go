package directory

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	livenessKeyPrefix = "presence:live:"
	eventsChannel     = "directory:events"
)

// Roster mirrors the live side of presence in Redis: a TTL'd liveness key per
// online client, plus the pub/sub channel that carries directory events
// across server instances.
type Roster struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoster(client *redis.Client, ttl time.Duration) *Roster {
	return &Roster{client: client, ttl: ttl}
}

// MarkLive refreshes the liveness key for id. Called on every online publish;
// the key expiring means the client vanished without saying goodbye.
func (r *Roster) MarkLive(ctx context.Context, id string) error {
	return r.client.Set(ctx, livenessKeyPrefix+id, "1", r.ttl).Err()
}

func (r *Roster) ClearLive(ctx context.Context, id string) error {
	return r.client.Del(ctx, livenessKeyPrefix+id).Err()
}

func (r *Roster) IsLive(ctx context.Context, id string) (bool, error) {
	_, err := r.client.Get(ctx, livenessKeyPrefix+id).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Publish pushes an event onto the shared channel. Every server instance,
// including this one, picks it up through Subscribe.
func (r *Roster) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, eventsChannel, payload).Err()
}

// Subscribe returns a channel of directory events. The returned channel is
// closed when ctx is cancelled. Malformed payloads are logged and dropped.
func (r *Roster) Subscribe(ctx context.Context) <-chan Event {
	events := make(chan Event, 64)
	pubsub := r.client.Subscribe(ctx, eventsChannel)

	go func() {
		defer close(events)
		defer func() {
			if err := pubsub.Close(); err != nil {
				log.Printf("roster: pubsub close error: %v", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("roster: bad event payload: %v", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}
