package store

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/ccbrown/keyvaluestore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack"

	"github.com/chatgenie/chatgenie/model"
)

// Notifier is told about the topics touched by every successful write.
type Notifier interface {
	Publish(topic string) error
}

// Store implements the document store of the synchronization core. It assigns server timestamps to
// everything it writes and publishes change notifications once writes are committed.
type Store struct {
	Backend  keyvaluestore.Backend
	Notifier Notifier
	Logger   logrus.FieldLogger

	// Now is used as the server clock. If nil, time.Now is used. Stores sharing a backend should share a
	// clock too, such as the backend's own.
	Now func() time.Time
}

const maxScore = float64(math.MaxInt64)

const clockKey = "clock"

const maxClockAttempts = 100

// serverTime returns a timestamp for a write. Timestamps have microsecond precision so that they can be
// represented exactly as sorted set scores. They strictly increase across every store sharing the
// backend: the last issued timestamp is kept in the backend and advanced with compare-and-set.
func (s *Store) serverTime() (time.Time, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	micros := now().UnixNano() / int64(time.Microsecond)

	for attempt := 0; attempt < maxClockAttempts; attempt++ {
		last, err := s.Backend.Get(clockKey)
		if err != nil {
			return time.Time{}, errors.Wrap(err, "error reading store clock")
		}

		var ok bool
		if last == nil {
			ok, err = s.Backend.SetNX(clockKey, strconv.FormatInt(micros, 10))
		} else {
			prev, parseErr := strconv.ParseInt(*last, 10, 64)
			if parseErr != nil {
				return time.Time{}, errors.Wrap(parseErr, "malformed store clock")
			}
			if micros <= prev {
				micros = prev + 1
			}
			ok, err = s.Backend.SetEQ(clockKey, strconv.FormatInt(micros, 10), *last)
		}
		if err != nil {
			return time.Time{}, errors.Wrap(err, "error advancing store clock")
		} else if ok {
			return time.Unix(0, micros*int64(time.Microsecond)).UTC(), nil
		}
	}
	return time.Time{}, errors.New("store clock contention")
}

func timeScore(t time.Time) float64 {
	return float64(t.UnixNano() / int64(time.Microsecond))
}

func (s *Store) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

func (s *Store) notify(topics ...string) {
	if s.Notifier == nil {
		return
	}
	seen := make(map[string]struct{}, len(topics))
	for _, topic := range topics {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		if err := s.Notifier.Publish(topic); err != nil {
			s.logger().WithError(err).WithField("topic", topic).Warn("unable to publish change notification")
		}
	}
}

func serialize(v interface{}) (string, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func deserialize(s string, dest interface{}) error {
	return msgpack.Unmarshal([]byte(s), dest)
}

// getByIds gets the objects stored under "<prefix>:<id>". Missing objects are omitted from the result.
func getByIds[T any](s *Store, prefix string, ids ...model.Id) ([]*T, error) {
	batch := s.Backend.Batch()
	gets := make([]keyvaluestore.GetResult, 0, len(ids))
	keys := map[string]struct{}{}
	for _, id := range ids {
		key := prefix + ":" + string(id)
		if _, ok := keys[key]; !ok {
			gets = append(gets, batch.Get(key))
			keys[key] = struct{}{}
		}
	}
	if err := batch.Exec(); err != nil {
		return nil, err
	}

	ret := make([]*T, 0, len(gets))
	for _, get := range gets {
		if v, _ := get.Result(); v != nil {
			obj := new(T)
			if err := deserialize(*v, obj); err != nil {
				return nil, err
			}
			ret = append(ret, obj)
		}
	}
	return ret, nil
}

func stringsToIds(s []string) []model.Id {
	ret := make([]model.Id, len(s))
	for i, id := range s {
		ret[i] = model.Id(id)
	}
	return ret
}

// sortByTime orders by ascending time, using ids to break ties.
func sortByTime[T any](items []*T, key func(*T) (time.Time, model.Id)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti.Equal(tj) {
			return idi.Before(idj)
		}
		return ti.Before(tj)
	})
}
