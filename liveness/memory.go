package liveness

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Registry. Markers expire lazily when they are read.
type Memory struct {
	// Now is used as the clock. If nil, time.Now is used.
	Now func() time.Time

	mutex   sync.Mutex
	markers map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Memory) Arm(ctx context.Context, key string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.markers == nil {
		m.markers = map[string]time.Time{}
	}
	m.markers[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.alive(key) {
		return ErrNotArmed
	}
	m.markers[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) Disarm(ctx context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.markers, key)
	return nil
}

func (m *Memory) Alive(ctx context.Context, key string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.alive(key), nil
}

func (m *Memory) alive(key string) bool {
	expiration, ok := m.markers[key]
	if !ok {
		return false
	} else if !m.now().Before(expiration) {
		delete(m.markers, key)
		return false
	}
	return true
}

// Drop removes the marker as if its owner's connection had been lost.
func (m *Memory) Drop(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.markers, key)
}
