package msgsync

import (
	"github.com/chatgenie/chatgenie/model"
)

type targetKind int

const (
	noTarget targetKind = iota
	channelTarget
	privateTarget
)

// Target is the conversation a view is attached to: a channel, or a private conversation between two
// users. The zero value is no target.
type Target struct {
	kind      targetKind
	channelId model.Id
	self      *model.User
	peer      *model.User
}

func ChannelTarget(channelId model.Id) Target {
	return Target{
		kind:      channelTarget,
		channelId: channelId,
	}
}

// PrivateTarget is the private conversation between self and peer, as seen by self.
func PrivateTarget(self, peer *model.User) Target {
	return Target{
		kind: privateTarget,
		self: self,
		peer: peer,
	}
}

func (t Target) IsZero() bool {
	return t.kind == noTarget
}

func (t Target) IsPrivate() bool {
	return t.kind == privateTarget
}

// ChannelId is empty for private targets.
func (t Target) ChannelId() model.Id {
	return t.channelId
}

// Peer is nil for channel targets.
func (t Target) Peer() *model.User {
	return t.peer
}

// Key identifies the target. Both participants of a private conversation get the same key.
func (t Target) Key() string {
	switch t.kind {
	case channelTarget:
		return "channel:" + string(t.channelId)
	case privateTarget:
		return "private:" + model.ConversationId(t.self.Id, t.peer.Id)
	}
	return ""
}

// ScopeId namespaces the target's attachments: the channel id or the conversation id.
func (t Target) ScopeId() string {
	switch t.kind {
	case channelTarget:
		return string(t.channelId)
	case privateTarget:
		return model.ConversationId(t.self.Id, t.peer.Id)
	}
	return ""
}

// Includes reports whether the user may see the target's messages. Channels are public.
func (t Target) Includes(userId model.Id) bool {
	switch t.kind {
	case channelTarget:
		return true
	case privateTarget:
		return t.self.Id == userId || t.peer.Id == userId
	}
	return false
}

func (t Target) members() []model.Id {
	if t.self.Id == t.peer.Id {
		return []model.Id{t.self.Id}
	}
	return []model.Id{t.self.Id, t.peer.Id}
}
