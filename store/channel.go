package store

import (
	"time"

	"github.com/chatgenie/chatgenie/model"
)

// AddChannel stores a new channel. Its creation time is assigned by the store.
func (s *Store) AddChannel(channel *model.Channel) error {
	creationTime, err := s.serverTime()
	if err != nil {
		return err
	}
	channel.CreationTime = creationTime

	serialized, err := serialize(channel)
	if err != nil {
		return err
	}

	tx := s.Backend.AtomicWrite()
	tx.Set("channel:"+string(channel.Id), serialized)
	tx.SAdd("channels", string(channel.Id))
	if _, err := tx.Exec(); err != nil {
		return err
	}
	s.notify(ChannelsTopic)
	return nil
}

func (s *Store) GetChannelsByIds(ids ...model.Id) ([]*model.Channel, error) {
	return getByIds[model.Channel](s, "channel", ids...)
}

// GetChannels returns every channel ordered by creation time.
func (s *Store) GetChannels() ([]*model.Channel, error) {
	ids, err := s.Backend.SMembers("channels")
	if ids == nil {
		return nil, err
	}
	channels, err := s.GetChannelsByIds(stringsToIds(ids)...)
	if err != nil {
		return nil, err
	}
	sortByTime(channels, func(c *model.Channel) (time.Time, model.Id) {
		return c.CreationTime, c.Id
	})
	return channels, nil
}
