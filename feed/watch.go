package feed

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrSubscriptionClosed is reported to a watcher's error handler when the broker ends its subscription.
var ErrSubscriptionClosed = errors.New("change feed subscription closed")

// Watcher keeps a query's snapshot up to date until it is stopped.
type Watcher struct {
	subscription Subscription
	cancel       context.CancelFunc
	done         chan struct{}
	stopOnce     sync.Once
}

// Watch subscribes to the given topics and then runs query to produce the initial snapshot, which is
// delivered to onSnapshot before Watch returns. If the initial query fails, the subscription is torn
// down and the error is returned.
//
// Afterwards the query is re-run after every notification and each result is delivered to onSnapshot.
// Snapshots are delivered one at a time from a single goroutine, in the order they were read. Query
// failures are passed to onError (if non-nil) and leave the watch running.
//
// The watch ends when ctx is done or Stop is called. Neither callback may call Stop.
func Watch[T any](ctx context.Context, broker Broker, topics []string, query func(ctx context.Context) (T, error), onSnapshot func(T), onError func(error)) (*Watcher, error) {
	subscription, err := broker.Subscribe(topics...)
	if err != nil {
		return nil, errors.Wrap(err, "error subscribing to change feed")
	}

	ctx, cancel := context.WithCancel(ctx)

	initial, err := query(ctx)
	if err != nil {
		cancel()
		subscription.Close()
		return nil, err
	}
	onSnapshot(initial)

	w := &Watcher{
		subscription: subscription,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	reportError := func(err error) {
		if onError != nil && ctx.Err() == nil {
			onError(err)
		}
	}

	go w.run(ctx, func() {
		snapshot, err := query(ctx)
		if err != nil {
			reportError(err)
		} else if ctx.Err() == nil {
			onSnapshot(snapshot)
		}
	}, reportError)

	return w, nil
}

func (w *Watcher) run(ctx context.Context, refresh func(), reportError func(error)) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.subscription.C():
			if !ok {
				reportError(ErrSubscriptionClosed)
				return
			}
			refresh()
		}
	}
}

// Stop ends the watch and waits for its goroutine to exit. No callback is invoked once Stop returns.
// It is safe to call Stop more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancel()
		w.subscription.Close()
	})
	<-w.done
}

// Done is closed once the watch has ended, whether it was stopped or its subscription was lost.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
