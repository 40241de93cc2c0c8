// Package liveness provides markers that disappear on their own when the connection that armed them
// stops refreshing them. They are the dead man's switch behind presence: a marker that vanishes without
// being disarmed means its owner disconnected abnormally.
package liveness

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotArmed is returned by Refresh when the marker no longer exists.
var ErrNotArmed = errors.New("liveness marker is not armed")

type Registry interface {
	// Arm creates or replaces the marker. It disappears after ttl unless refreshed.
	Arm(ctx context.Context, key string, ttl time.Duration) error

	// Refresh extends the marker's lifetime. It returns ErrNotArmed if the marker is gone.
	Refresh(ctx context.Context, key string, ttl time.Duration) error

	// Disarm removes the marker.
	Disarm(ctx context.Context, key string) error

	Alive(ctx context.Context, key string) (bool, error)
}
