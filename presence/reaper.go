package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie/liveness"
	"github.com/chatgenie/chatgenie/metrics"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/store"
)

const DefaultReapInterval = 5 * time.Second

// Reaper marks users offline when they disconnect without logging out.
type Reaper struct {
	Store    *store.Store
	Liveness liveness.Registry
	Logger   logrus.FieldLogger

	// Interval between sweeps. If zero, DefaultReapInterval is used.
	Interval time.Duration
}

func (r *Reaper) logger() logrus.FieldLogger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}

// Sweep marks offline every online user whose liveness marker is gone and returns their ids. A presence
// record written after it was read is left alone.
func (r *Reaper) Sweep(ctx context.Context) ([]model.Id, error) {
	presences, err := r.Store.GetOnlinePresences()
	if err != nil {
		return nil, errors.Wrap(err, "error getting online users")
	}

	var reaped []model.Id
	for _, presence := range presences {
		if alive, err := r.Liveness.Alive(ctx, livenessKey(presence.UserId)); err != nil {
			return reaped, errors.Wrap(err, "error checking liveness marker")
		} else if alive {
			continue
		}

		// the user may have come back online since the record was read
		if replaced, err := r.Store.ReplacePresence(presence, false); err != nil {
			return reaped, errors.Wrap(err, "error marking user offline")
		} else if replaced == nil {
			continue
		}
		metrics.PresenceTransitions.WithLabelValues("offline", "reaped").Inc()
		r.logger().WithField("user_id", presence.UserId).Info("marked disconnected user offline")
		reaped = append(reaped, presence.UserId)
	}
	return reaped, nil
}

// Run sweeps periodically until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	interval := r.Interval
	if interval == 0 {
		interval = DefaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger().WithError(err).Warn("presence sweep failed")
			}
		}
	}
}
