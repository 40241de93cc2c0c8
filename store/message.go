package store

import (
	"time"

	"github.com/chatgenie/chatgenie/model"
)

// AddMessage appends a message to its channel's log. The message's time is assigned by the store.
func (s *Store) AddMessage(message *model.Message) error {
	timestamp, err := s.serverTime()
	if err != nil {
		return err
	}
	message.Time = timestamp

	serialized, err := serialize(message)
	if err != nil {
		return err
	}

	tx := s.Backend.AtomicWrite()
	tx.Set("message:"+string(message.Id), serialized)
	tx.ZAdd("messages_by_channel:"+string(message.ChannelId), string(message.Id), timeScore(message.Time))
	if _, err := tx.Exec(); err != nil {
		return err
	}
	s.notify(ChannelTopic(message.ChannelId))
	return nil
}

func (s *Store) GetMessagesByIds(ids ...model.Id) ([]*model.Message, error) {
	return getByIds[model.Message](s, "message", ids...)
}

// GetMessagesByChannelId returns the channel's entire log in ascending time order.
func (s *Store) GetMessagesByChannelId(channelId model.Id) ([]*model.Message, error) {
	ids, err := s.Backend.ZRangeByScore("messages_by_channel:"+string(channelId), 0, maxScore, 0)
	if err != nil {
		return nil, err
	}
	messages, err := s.GetMessagesByIds(stringsToIds(ids)...)
	if err != nil {
		return nil, err
	}
	sortByTime(messages, func(m *model.Message) (time.Time, model.Id) {
		return m.Time, m.Id
	})
	return messages, nil
}
