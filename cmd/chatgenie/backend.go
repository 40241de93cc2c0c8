package main

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie"
	"github.com/chatgenie/chatgenie/attachment"
	"github.com/chatgenie/chatgenie/config"
)

// newBackend connects to the configured backend. The returned function releases it.
func newBackend(cfg *config.Config, blobs attachment.BlobStore, logger logrus.FieldLogger) (*chatgenie.Backend, func(), error) {
	if cfg.RedisAddress == "" {
		logger.Info("using a temporary database. if you would like data to be persistent or shared, provide --redis-address")
		backend := chatgenie.NewMemoryBackend(logger)
		if blobs != nil {
			backend.Blobs = blobs
		}
		return backend, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddress,
	})
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, nil, errors.Wrap(err, "unable to connect to redis")
	}
	if blobs == nil {
		blobs = &attachment.HTTPBlobStore{
			BaseURL: cfg.PublicURL,
		}
	}
	return chatgenie.NewRedisBackend(client, blobs, logger), func() {
		client.Close()
	}, nil
}

// jwtSecret returns the configured secret, or a random one that only this process will accept.
func jwtSecret(cfg *config.Config, logger logrus.FieldLogger) []byte {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret)
	}
	logger.Warn("no jwt-secret configured. sessions will not be accepted by other processes")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}
	return []byte(hex.EncodeToString(secret))
}
