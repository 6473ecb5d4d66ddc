package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"collaborative-page-builder/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisRelay carries envelopes between server instances. Publish sends to
// the page channel on redis; Run feeds every envelope seen on any page
// channel into the local hub, including the ones this instance published.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
}

func NewRedisRelay(client *redis.Client, hub *Hub) *RedisRelay {
	return &RedisRelay{client: client, hub: hub}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, ChannelName(env.PageID), raw).Err(); err != nil {
		return fmt.Errorf("publish %s on page %d: %w", env.Type, env.PageID, err)
	}
	return nil
}

// Run relays until ctx is cancelled. It returns once the subscription is
// closed; a failed initial subscribe is returned as an error.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe page channels: %w", err)
	}
	log.Info().Msg("realtime relay subscribed to page channels")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.relay(msg)
		}
	}
}

func (r *RedisRelay) relay(msg *redis.Message) {
	pageID, err := PageIDFromChannel(msg.Channel)
	if err != nil {
		log.Warn().Err(err).Msg("relay message ignored")
		return
	}
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Warn().Err(err).Uint64("page_id", pageID).Msg("relay payload ignored")
		return
	}
	env.PageID = pageID
	r.hub.Deliver(env)
}

// Publisher publishes envelopes in the background so a slow or failing
// transport never holds up the request that produced them.
type Publisher struct {
	broadcaster Broadcaster
	pool        *worker.WorkerPool
	timeout     time.Duration
}

func NewPublisher(broadcaster Broadcaster, pool *worker.WorkerPool) *Publisher {
	return &Publisher{broadcaster: broadcaster, pool: pool, timeout: 5 * time.Second}
}

// Publish queues every envelope. Failures are logged by the pool and dropped.
func (p *Publisher) Publish(envs ...Envelope) {
	for _, env := range envs {
		env := env
		p.pool.Submit(func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			if err := p.broadcaster.Publish(ctx, env); err != nil {
				return fmt.Errorf("broadcast %s to page %d: %w", env.Type, env.PageID, err)
			}
			return nil
		})
	}
}
