package store

import (
	"sort"
	"strings"

	"github.com/chatgenie/chatgenie/model"
)

// SetPresence writes the user's presence record with a server-assigned last-active time.
func (s *Store) SetPresence(userId model.Id, online bool) (*model.Presence, error) {
	presence, serialized, err := s.newPresence(userId, online)
	if err != nil {
		return nil, err
	}
	if err := s.Backend.Set("presence:"+string(userId), serialized); err != nil {
		return nil, err
	}
	s.notify(UsersTopic)
	return presence, nil
}

// ReplacePresence writes the user's presence record only if the stored record is still expected. It
// returns nil if the record has changed since expected was read.
func (s *Store) ReplacePresence(expected *model.Presence, online bool) (*model.Presence, error) {
	key := "presence:" + string(expected.UserId)
	current, err := s.Backend.Get(key)
	if err != nil || current == nil {
		return nil, err
	}
	var stored model.Presence
	if err := deserialize(*current, &stored); err != nil {
		return nil, err
	}
	if stored.Online != expected.Online || !stored.LastActive.Equal(expected.LastActive) {
		return nil, nil
	}

	presence, serialized, err := s.newPresence(expected.UserId, online)
	if err != nil {
		return nil, err
	}
	if ok, err := s.Backend.SetEQ(key, serialized, *current); err != nil || !ok {
		return nil, err
	}
	s.notify(UsersTopic)
	return presence, nil
}

func (s *Store) newPresence(userId model.Id, online bool) (*model.Presence, string, error) {
	lastActive, err := s.serverTime()
	if err != nil {
		return nil, "", err
	}
	presence := &model.Presence{
		UserId:     userId,
		Online:     online,
		LastActive: lastActive,
	}
	serialized, err := serialize(presence)
	if err != nil {
		return nil, "", err
	}
	return presence, serialized, nil
}

// GetPresence returns nil if the user has never been online.
func (s *Store) GetPresence(userId model.Id) (*model.Presence, error) {
	presences, err := getByIds[model.Presence](s, "presence", userId)
	if len(presences) == 0 {
		return nil, err
	}
	return presences[0], nil
}

func (s *Store) getUserIds() ([]model.Id, error) {
	ids, err := s.Backend.SMembers("users")
	if ids == nil {
		return nil, err
	}
	return stringsToIds(ids), nil
}

// GetOnlinePresences returns the presence records of every user currently marked online.
func (s *Store) GetOnlinePresences() ([]*model.Presence, error) {
	ids, err := s.getUserIds()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	presences, err := getByIds[model.Presence](s, "presence", ids...)
	if err != nil {
		return nil, err
	}
	ret := presences[:0]
	for _, presence := range presences {
		if presence.Online {
			ret = append(ret, presence)
		}
	}
	return ret, nil
}

// GetOnlineUsers returns every user currently marked online, sorted by name.
func (s *Store) GetOnlineUsers() ([]*model.OnlineUser, error) {
	presences, err := s.GetOnlinePresences()
	if err != nil || len(presences) == 0 {
		return nil, err
	}

	ids := make([]model.Id, len(presences))
	for i, presence := range presences {
		ids[i] = presence.UserId
	}
	users, err := s.GetUsersByIds(ids...)
	if err != nil {
		return nil, err
	}
	usersById := make(map[model.Id]*model.User, len(users))
	for _, user := range users {
		usersById[user.Id] = user
	}

	ret := make([]*model.OnlineUser, 0, len(presences))
	for _, presence := range presences {
		user, ok := usersById[presence.UserId]
		if !ok {
			continue
		}
		ret = append(ret, &model.OnlineUser{
			Id:          user.Id,
			DisplayName: user.Name(),
			LastActive:  presence.LastActive,
		})
	}
	sort.Slice(ret, func(i, j int) bool {
		a, b := strings.ToLower(ret[i].DisplayName), strings.ToLower(ret[j].DisplayName)
		return a < b || (a == b && ret[i].Id.Before(ret[j].Id))
	})
	return ret, nil
}
