// Package msgsync keeps materialized message lists in sync with the backing store.
package msgsync

import (
	"context"
	"time"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/feed"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/store"
)

// Source is where messages are read from and appended to.
type Source interface {
	AddMessage(message *model.Message) error
	GetMessagesByChannelId(channelId model.Id) ([]*model.Message, error)
	AddPrivateMessage(message *model.PrivateMessage) error
	GetPrivateMessagesByMembership(senderIn, receiverIn []model.Id) ([]*model.PrivateMessage, error)
}

// Entry is a message as shown in a view, whether it was sent to a channel or privately.
type Entry struct {
	Id           model.Id
	AuthorUserId model.Id
	AuthorName   string
	Content      model.Content
	Time         time.Time
}

func entriesFromMessages(messages []*model.Message) []Entry {
	ret := make([]Entry, len(messages))
	for i, message := range messages {
		ret[i] = Entry{
			Id:           message.Id,
			AuthorUserId: message.AuthorUserId,
			AuthorName:   message.AuthorName,
			Content:      message.Content,
			Time:         message.Time,
		}
	}
	return ret
}

func entriesFromPrivateMessages(messages []*model.PrivateMessage) []Entry {
	ret := make([]Entry, len(messages))
	for i, message := range messages {
		ret[i] = Entry{
			Id:           message.Id,
			AuthorUserId: message.SenderUserId,
			AuthorName:   message.SenderName,
			Content:      message.Content,
			Time:         message.Time,
		}
	}
	return ret
}

// Query reads the target's full message list in ascending time order.
func Query(source Source, target Target) ([]Entry, error) {
	switch {
	case target.IsZero():
		return nil, nil
	case target.IsPrivate():
		members := target.members()
		messages, err := source.GetPrivateMessagesByMembership(members, members)
		if err != nil {
			return nil, apperr.Subscription(target.Key(), err)
		}
		return entriesFromPrivateMessages(messages), nil
	default:
		messages, err := source.GetMessagesByChannelId(target.ChannelId())
		if err != nil {
			return nil, apperr.Subscription(target.Key(), err)
		}
		return entriesFromMessages(messages), nil
	}
}

func topics(target Target) []string {
	if target.IsPrivate() {
		members := target.members()
		ret := make([]string, len(members))
		for i, id := range members {
			ret[i] = store.PrivateTopic(id)
		}
		return ret
	}
	return []string{store.ChannelTopic(target.ChannelId())}
}

// Subscribe watches the target's messages. Every snapshot is the complete list in ascending time order.
// The initial snapshot is delivered before Subscribe returns.
func Subscribe(ctx context.Context, source Source, broker feed.Broker, target Target, onSnapshot func([]Entry), onError func(error)) (*feed.Watcher, error) {
	if target.IsZero() {
		return nil, apperr.Validation("A conversation is required.")
	}
	w, err := feed.Watch(ctx, broker, topics(target), func(ctx context.Context) ([]Entry, error) {
		return Query(source, target)
	}, onSnapshot, onError)
	if err != nil && !apperr.IsSubscription(err) {
		return nil, apperr.Subscription(target.Key(), err)
	}
	return w, err
}
