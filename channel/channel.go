// Package channel is the directory of public channels.
package channel

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/feed"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/store"
)

type Directory struct {
	Store  *store.Store
	Broker feed.Broker
}

var nameReplacer = strings.NewReplacer(
	`"`, "",
	"'", "",
	"`", "",
	"‘", "",
	"’", "",
	"“", "",
	"”", "",
)

// NormalizeName strips quote characters and surrounding whitespace from a channel name.
func NormalizeName(name string) string {
	return strings.TrimSpace(nameReplacer.Replace(name))
}

// List returns every channel, oldest first.
func (d *Directory) List(ctx context.Context) ([]*model.Channel, error) {
	channels, err := d.Store.GetChannels()
	if err != nil {
		return nil, errors.Wrap(err, "error getting channels")
	}
	sort.SliceStable(channels, func(i, j int) bool {
		a, b := channels[i], channels[j]
		if !a.CreationTime.Equal(b.CreationTime) {
			return a.CreationTime.Before(b.CreationTime)
		}
		return a.Name < b.Name
	})
	return channels, nil
}

// Create adds a channel. If the normalized name is empty nothing is written and nil is returned.
func (d *Directory) Create(ctx context.Context, name string, creatorId model.Id) (*model.Channel, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, nil
	}

	channel := &model.Channel{
		Id:             model.GenerateId(),
		RevisionNumber: 1,
		CreatorUserId:  creatorId,
		Name:           name,
	}
	if err := d.Store.AddChannel(channel); err != nil {
		return nil, apperr.Write("Unable to create the channel.", err)
	}
	return channel, nil
}

// Get returns the channel with the given id, or nil if there is none.
func (d *Directory) Get(ctx context.Context, id model.Id) (*model.Channel, error) {
	channels, err := d.Store.GetChannelsByIds(id)
	if err != nil {
		return nil, errors.Wrap(err, "error getting channel")
	} else if len(channels) == 0 {
		return nil, nil
	}
	return channels[0], nil
}

// Watch delivers the channel list initially and whenever a channel is created.
func (d *Directory) Watch(ctx context.Context, onChange func([]*model.Channel), onError func(error)) (*feed.Watcher, error) {
	return feed.Watch(ctx, d.Broker, []string{store.ChannelsTopic}, func(ctx context.Context) ([]*model.Channel, error) {
		channels, err := d.List(ctx)
		if err != nil {
			return nil, apperr.Subscription(store.ChannelsTopic, err)
		}
		return channels, nil
	}, onChange, onError)
}
