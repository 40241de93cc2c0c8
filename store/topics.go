package store

import "github.com/chatgenie/chatgenie/model"

const (
	// UsersTopic is notified whenever a user's profile or presence changes.
	UsersTopic = "users"

	// ChannelsTopic is notified whenever a channel is created.
	ChannelsTopic = "channels"
)

// ChannelTopic is notified whenever a message is appended to the channel.
func ChannelTopic(channelId model.Id) string {
	return "channel:" + string(channelId)
}

// PrivateTopic is notified whenever the user sends or receives a private message.
func PrivateTopic(userId model.Id) string {
	return "private:" + string(userId)
}
