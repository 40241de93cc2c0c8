package store

import (
	"time"

	"github.com/chatgenie/chatgenie/model"
)

// AddPrivateMessage stores a private message. The message's time is assigned by the store.
func (s *Store) AddPrivateMessage(message *model.PrivateMessage) error {
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
	tx.Set("private_message:"+string(message.Id), serialized)
	tx.ZAdd("private_messages_by_sender:"+string(message.SenderUserId), string(message.Id), timeScore(message.Time))
	if _, err := tx.Exec(); err != nil {
		return err
	}
	s.notify(PrivateTopic(message.SenderUserId), PrivateTopic(message.ReceiverUserId))
	return nil
}

func (s *Store) GetPrivateMessagesByIds(ids ...model.Id) ([]*model.PrivateMessage, error) {
	return getByIds[model.PrivateMessage](s, "private_message", ids...)
}

// GetPrivateMessagesByMembership returns, in ascending time order, every private message whose sender is
// one of senderIn and whose receiver is one of receiverIn. There is no conversation entity: a
// conversation between A and B is the result of passing {A, B} for both.
func (s *Store) GetPrivateMessagesByMembership(senderIn, receiverIn []model.Id) ([]*model.PrivateMessage, error) {
	receivers := make(map[model.Id]struct{}, len(receiverIn))
	for _, id := range receiverIn {
		receivers[id] = struct{}{}
	}

	var ids []model.Id
	seenSenders := map[model.Id]struct{}{}
	for _, sender := range senderIn {
		if _, ok := seenSenders[sender]; ok {
			continue
		}
		seenSenders[sender] = struct{}{}
		senderIds, err := s.Backend.ZRangeByScore("private_messages_by_sender:"+string(sender), 0, maxScore, 0)
		if err != nil {
			return nil, err
		}
		ids = append(ids, stringsToIds(senderIds)...)
	}

	messages, err := s.GetPrivateMessagesByIds(ids...)
	if err != nil {
		return nil, err
	}
	ret := messages[:0]
	for _, message := range messages {
		if _, ok := receivers[message.ReceiverUserId]; ok {
			ret = append(ret, message)
		}
	}
	sortByTime(ret, func(m *model.PrivateMessage) (time.Time, model.Id) {
		return m.Time, m.Id
	})
	return ret, nil
}
