// Package feed implements the change feed: writers publish the topics they touched and watchers re-run
// their query on every notification so that they always observe full, ordered snapshots.
package feed

// Broker delivers change notifications. Notifications carry nothing but the topic; subscribers are
// expected to re-read whatever they are interested in.
type Broker interface {
	Publish(topic string) error
	Subscribe(topics ...string) (Subscription, error)
}

// Subscription receives the topics of notifications published after Subscribe returned. Notifications
// may be coalesced when the receiver falls behind, but a notification that arrives after the last one
// was received is never lost.
type Subscription interface {
	C() <-chan string
	Close() error
}
