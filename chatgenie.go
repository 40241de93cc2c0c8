// Package chatgenie assembles the real-time synchronization core: a shared Backend, and per-process
// Clients bundling identity, presence, channels, attachments and conversation views.
package chatgenie

import (
	"time"

	"github.com/ccbrown/keyvaluestore/memorystore"
	"github.com/ccbrown/keyvaluestore/redisstore"
	"github.com/go-redis/redis"
	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie/attachment"
	"github.com/chatgenie/chatgenie/feed"
	"github.com/chatgenie/chatgenie/liveness"
	"github.com/chatgenie/chatgenie/store"
)

// Backend is the state shared by every client: the document store, its change feed, liveness markers and
// blob storage.
type Backend struct {
	Store    *store.Store
	Broker   feed.Broker
	Liveness liveness.Registry
	Blobs    attachment.BlobStore
}

// NewMemoryBackend returns a backend that lives in process memory.
func NewMemoryBackend(logger logrus.FieldLogger) *Backend {
	hub := feed.NewHub()
	return &Backend{
		Store: &store.Store{
			Backend:  memorystore.NewBackend(),
			Notifier: hub,
			Logger:   logger,
		},
		Broker:   hub,
		Liveness: liveness.NewMemory(),
		Blobs:    attachment.NewMemoryBlobStore(""),
	}
}

// NewRedisBackend returns a backend that keeps documents, notifications and liveness markers in Redis so
// that several processes can share it.
func NewRedisBackend(client *redis.Client, blobs attachment.BlobStore, logger logrus.FieldLogger) *Backend {
	broker := &feed.RedisBroker{
		Client: client,
		Prefix: "chatgenie:feed:",
	}
	return &Backend{
		Store: &store.Store{
			Backend: &redisstore.Backend{
				Client: client,
			},
			Notifier: broker,
			Logger:   logger,
			Now:      redisClock(client, logger),
		},
		Broker: broker,
		Liveness: &liveness.Redis{
			Client: client,
			Prefix: "chatgenie:status:",
		},
		Blobs: blobs,
	}
}

// redisClock reads the time from the Redis server so that every process writing to it orders writes by the
// same clock.
func redisClock(client *redis.Client, logger logrus.FieldLogger) func() time.Time {
	return func() time.Time {
		t, err := client.Time().Result()
		if err != nil {
			if logger != nil {
				logger.WithError(err).Warn("unable to read redis time, using local clock")
			}
			return time.Now()
		}
		return t
	}
}
