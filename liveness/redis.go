package liveness

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// Redis is a Registry backed by expiring Redis keys.
type Redis struct {
	Client *redis.Client

	// Prefix is prepended to every key.
	Prefix string
}

func (r *Redis) Arm(ctx context.Context, key string, ttl time.Duration) error {
	return errors.Wrap(r.Client.WithContext(ctx).Set(r.Prefix+key, 1, ttl).Err(), "error arming liveness marker")
}

func (r *Redis) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.Client.WithContext(ctx).Expire(r.Prefix+key, ttl).Result()
	if err != nil {
		return errors.Wrap(err, "error refreshing liveness marker")
	} else if !ok {
		return ErrNotArmed
	}
	return nil
}

func (r *Redis) Disarm(ctx context.Context, key string) error {
	return errors.Wrap(r.Client.WithContext(ctx).Del(r.Prefix+key).Err(), "error disarming liveness marker")
}

func (r *Redis) Alive(ctx context.Context, key string) (bool, error) {
	n, err := r.Client.WithContext(ctx).Exists(r.Prefix + key).Result()
	if err != nil {
		return false, errors.Wrap(err, "error checking liveness marker")
	}
	return n > 0, nil
}
