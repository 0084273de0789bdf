package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Delivery is one fan-out instruction: a frame and the topics it targets.
type Delivery struct {
	Topics         []string        `json:"topics"`
	ExcludeUserKey string          `json:"exclude,omitempty"`
	Frame          json.RawMessage `json:"frame"`
}

// Broker routes deliveries to the topic registries of every gateway instance.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
	// Run relays remote deliveries until ctx ends. Local brokers return at once.
	Run(ctx context.Context) error
}

// LocalBroker delivers straight into this instance's registry.
type LocalBroker struct {
	topics *Topics
}

// NewLocalBroker creates an in-process broker.
func NewLocalBroker(topics *Topics) *LocalBroker {
	return &LocalBroker{topics: topics}
}

// Publish implements Broker.
func (b *LocalBroker) Publish(_ context.Context, d Delivery) error {
	b.topics.Publish(d.Frame, d.ExcludeUserKey, d.Topics...)
	return nil
}

// Run implements Broker.
func (b *LocalBroker) Run(context.Context) error { return nil }

// RedisBroker relays deliveries over a Redis pub/sub channel so that every
// instance, this one included, delivers them to its own connections.
type RedisBroker struct {
	client  *redis.Client
	channel string
	topics  *Topics
	logger  *zap.Logger
}

// NewRedisBroker creates a broker on the given channel.
func NewRedisBroker(client *redis.Client, channel string, topics *Topics, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, channel: channel, topics: topics, logger: logger}
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Run implements Broker.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("realtime relay subscribed", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("realtime relay channel closed")
			}
			var d Delivery
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				b.logger.Warn("dropping malformed relay message", zap.Error(err))
				continue
			}
			b.topics.Publish(d.Frame, d.ExcludeUserKey, d.Topics...)
		}
	}
}
