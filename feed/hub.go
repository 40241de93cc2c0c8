package feed

import (
	"sync"
)

// Hub is an in-process Broker.
type Hub struct {
	mutex         sync.Mutex
	subscriptions map[string]map[*hubSubscription]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscriptions: map[string]map[*hubSubscription]struct{}{},
	}
}

func (h *Hub) Publish(topic string) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for s := range h.subscriptions[topic] {
		select {
		case s.ch <- topic:
		default:
			// a notification is already pending. the subscriber will re-read after receiving it
		}
	}
	return nil
}

func (h *Hub) Subscribe(topics ...string) (Subscription, error) {
	s := &hubSubscription{
		hub:    h,
		topics: topics,
		ch:     make(chan string, 1),
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, topic := range topics {
		if h.subscriptions[topic] == nil {
			h.subscriptions[topic] = map[*hubSubscription]struct{}{}
		}
		h.subscriptions[topic][s] = struct{}{}
	}
	return s, nil
}

// SubscriberCount returns the number of live subscriptions to the given topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subscriptions[topic])
}

type hubSubscription struct {
	hub    *Hub
	topics []string
	ch     chan string
	closed bool
}

func (s *hubSubscription) C() <-chan string {
	return s.ch
}

func (s *hubSubscription) Close() error {
	s.hub.mutex.Lock()
	defer s.hub.mutex.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, topic := range s.topics {
		delete(s.hub.subscriptions[topic], s)
		if len(s.hub.subscriptions[topic]) == 0 {
			delete(s.hub.subscriptions, topic)
		}
	}
	close(s.ch)
	return nil
}
