package model

import "time"

// Presence is the soft online state of a user. It is only ever written by the user it belongs to, or by
// the reaper on that user's behalf after an abnormal disconnect.
type Presence struct {
	UserId     Id
	Online     bool
	LastActive time.Time
}

// OnlineUser is an entry of the online roster.
type OnlineUser struct {
	Id          Id
	DisplayName string
	LastActive  time.Time
}
