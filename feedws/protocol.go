// Package feedws streams message snapshots over websockets. The protocol follows graphql-ws: the client
// authenticates with connection_init, then starts and stops streams identified by client-chosen ids.
package feedws

import (
	"encoding/json"
	"time"

	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/msgsync"
)

const WebSocketSubprotocol = "chatgenie-feed"

type MessageType string

const (
	MessageTypeConnectionInit      MessageType = "connection_init"
	MessageTypeConnectionAck       MessageType = "connection_ack"
	MessageTypeConnectionError     MessageType = "connection_error"
	MessageTypeConnectionKeepAlive MessageType = "ka"
	MessageTypeConnectionTerminate MessageType = "connection_terminate"
	MessageTypeStart               MessageType = "start"
	MessageTypeSnapshot            MessageType = "snapshot"
	MessageTypeError               MessageType = "error"
	MessageTypeStop                MessageType = "stop"
	MessageTypeComplete            MessageType = "complete"
)

// Message is used for both client and server messages.
type Message struct {
	Id      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type InitPayload struct {
	Token string `json:"token"`
}

// StartPayload names the conversation to stream: a channel, or the private conversation with a peer.
type StartPayload struct {
	ChannelId model.Id `json:"channel_id,omitempty"`
	PeerId    model.Id `json:"peer_id,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type SnapshotPayload struct {
	Messages []SnapshotEntry `json:"messages"`
}

type SnapshotEntry struct {
	Id           model.Id   `json:"id"`
	AuthorUserId model.Id   `json:"author_user_id"`
	AuthorName   string     `json:"author_name"`
	Kind         model.Kind `json:"kind"`
	Text         string     `json:"text,omitempty"`
	FileName     string     `json:"file_name,omitempty"`
	FileURL      string     `json:"file_url,omitempty"`
	Time         time.Time  `json:"time"`
}

func snapshotPayload(entries []msgsync.Entry) *SnapshotPayload {
	ret := &SnapshotPayload{
		Messages: make([]SnapshotEntry, len(entries)),
	}
	for i, entry := range entries {
		ret.Messages[i] = SnapshotEntry{
			Id:           entry.Id,
			AuthorUserId: entry.AuthorUserId,
			AuthorName:   entry.AuthorName,
			Kind:         entry.Content.Kind,
			Text:         entry.Content.Text,
			FileName:     entry.Content.FileName,
			FileURL:      entry.Content.FileURL,
			Time:         entry.Time,
		}
	}
	return ret
}

// Entries converts the payload back into view entries.
func (p *SnapshotPayload) Entries() []msgsync.Entry {
	ret := make([]msgsync.Entry, len(p.Messages))
	for i, message := range p.Messages {
		ret[i] = msgsync.Entry{
			Id:           message.Id,
			AuthorUserId: message.AuthorUserId,
			AuthorName:   message.AuthorName,
			Content: model.Content{
				Kind:     message.Kind,
				Text:     message.Text,
				FileName: message.FileName,
				FileURL:  message.FileURL,
			},
			Time: message.Time,
		}
	}
	return ret
}
