package model

import "time"

type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// Content is the payload of a message: either text, or a file name plus its retrieval reference.
type Content struct {
	Kind     Kind
	Text     string
	FileName string
	FileURL  string
}

func TextContent(text string) Content {
	return Content{
		Kind: KindText,
		Text: text,
	}
}

func FileContent(name, url string) Content {
	return Content{
		Kind:     KindFile,
		FileName: name,
		FileURL:  url,
	}
}

type Message struct {
	Id             Id
	RevisionNumber int

	ChannelId    Id
	AuthorUserId Id
	AuthorName   string
	Content      Content
	Time         time.Time
}

type PrivateMessage struct {
	Id             Id
	RevisionNumber int

	SenderUserId   Id
	SenderName     string
	ReceiverUserId Id
	ReceiverName   string
	Content        Content
	Time           time.Time
}
