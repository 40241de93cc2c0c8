package feed

import (
	"strings"
	"sync"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// RedisBroker is a Broker backed by Redis pub/sub, allowing several processes to share a feed.
type RedisBroker struct {
	Client *redis.Client

	// Prefix is prepended to every topic to form the Redis channel name.
	Prefix string
}

func (b *RedisBroker) Publish(topic string) error {
	return errors.Wrap(b.Client.Publish(b.Prefix+topic, "").Err(), "error publishing notification")
}

func (b *RedisBroker) Subscribe(topics ...string) (Subscription, error) {
	channels := make([]string, len(topics))
	for i, topic := range topics {
		channels[i] = b.Prefix + topic
	}

	pubsub := b.Client.Subscribe(channels...)
	// wait for the subscription to be confirmed so that no notification published after we return is
	// missed
	if _, err := pubsub.Receive(); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "error subscribing to redis channels")
	}

	s := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan string, 1),
	}
	go s.run(b.Prefix)
	return s, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	ch        chan string
	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) run(prefix string) {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		select {
		case s.ch <- strings.TrimPrefix(msg.Channel, prefix):
		default:
		}
	}
}

func (s *redisSubscription) C() <-chan string {
	return s.ch
}

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pubsub.Close()
	})
	return s.closeErr
}
