package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
)

// ErrEmptyTopic is returned when subscribing or publishing without a topic.
var ErrEmptyTopic = errors.New("topic is required")

type subscriber struct {
	id      uint64
	handler func(exchange.Message)
}

// Hub is an in-process exchange.MessageChannel. Handlers run synchronously on
// the publishing goroutine, outside the hub lock, so a handler may
// unsubscribe itself.
type Hub struct {
	mu     sync.RWMutex
	topics map[string][]subscriber
	nextID uint64
	logger zerolog.Logger
}

var _ exchange.MessageChannel = (*Hub)(nil)

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string][]subscriber),
		logger: logger.With().Str("service", "pubsub").Logger(),
	}
}

// Subscribe registers handler on topic. The subscription also ends when ctx
// is done.
func (h *Hub) Subscribe(ctx context.Context, topic string, handler func(exchange.Message)) (func(), error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.topics[topic] = append(h.topics[topic], subscriber{id: id, handler: handler})
	h.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			h.remove(topic, id)
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				unsubscribe()
			case <-stop:
			}
		}()
	}
	return unsubscribe, nil
}

func (h *Hub) remove(topic string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[topic]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(h.topics, topic)
		return
	}
	h.topics[topic] = subs
}

// Publish delivers msg to every current subscriber of msg.Topic.
func (h *Hub) Publish(ctx context.Context, msg exchange.Message) error {
	if msg.Topic == "" {
		return ErrEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	subs := append([]subscriber(nil), h.topics[msg.Topic]...)
	h.mu.RUnlock()

	if len(subs) == 0 {
		h.logger.Debug().Str("topic", msg.Topic).Str("type", string(msg.Type)).Msg("no subscribers")
	}
	for _, s := range subs {
		s.handler(msg)
	}
	return nil
}

// SubscriberCount returns the number of subscribers on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
