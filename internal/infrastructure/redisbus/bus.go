package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
)

// DefaultPrefix namespaces channels of this service.
const DefaultPrefix = "withdraw:topic:"

// ErrEmptyTopic is returned when subscribing or publishing without a topic.
var ErrEmptyTopic = errors.New("topic is required")

// Bus is an exchange.MessageChannel over Redis pub/sub. Each subscription
// owns a redis.PubSub and a receive goroutine.
type Bus struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

var _ exchange.MessageChannel = (*Bus)(nil)

func New(client *redis.Client, prefix string, logger zerolog.Logger) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bus{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("service", "redisbus").Logger(),
	}
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Channel returns the Redis channel of topic.
func (b *Bus) Channel(topic string) string {
	return b.prefix + topic
}

// Subscribe waits for the subscription to be confirmed, then delivers
// messages to handler on a dedicated goroutine until unsubscribed or ctx is
// done.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler func(exchange.Message)) (func(), error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	ps := b.client.Subscribe(ctx, b.Channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
		})
	}

	logger := b.logger.With().Str("topic", topic).Logger()
	ch := ps.Channel()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				msg, err := DecodeMessage([]byte(m.Payload))
				if err != nil {
					logger.Warn().Err(err).Msg("dropping undecodable message")
					continue
				}
				if msg.Topic == "" {
					msg.Topic = topic
				}
				handler(msg)
			}
		}
	}()
	return unsubscribe, nil
}

// Publish sends msg on its topic's channel.
func (b *Bus) Publish(ctx context.Context, msg exchange.Message) error {
	if msg.Topic == "" {
		return ErrEmptyTopic
	}
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.Channel(msg.Topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}
	return nil
}

// EncodeMessage serializes msg for the wire.
func EncodeMessage(msg exchange.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a wire message. A message without a type is rejected.
func DecodeMessage(data []byte) (exchange.Message, error) {
	var msg exchange.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return exchange.Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.Type == "" {
		return exchange.Message{}, errors.New("message type is required")
	}
	return msg, nil
}
