package store

import (
	"fmt"

	"github.com/chatgenie/chatgenie/model"
)

var ErrUserEmailExists = fmt.Errorf("user email exists")

// Adds a user to the database. Returns ErrUserEmailExists if the email is taken. The user's creation time
// is assigned by the store.
func (s *Store) AddUser(user *model.User) error {
	creationTime, err := s.serverTime()
	if err != nil {
		return err
	}
	user.CreationTime = creationTime

	serialized, err := serialize(user)
	if err != nil {
		return err
	}

	tx := s.Backend.AtomicWrite()
	tx.Set("user:"+string(user.Id), serialized)
	tx.SetNX("user_by_email:"+user.Email, string(user.Id))
	tx.SAdd("users", string(user.Id))
	if didCommit, err := tx.Exec(); err != nil {
		return err
	} else if !didCommit {
		return ErrUserEmailExists
	}
	s.notify(UsersTopic)
	return nil
}

func (s *Store) GetUsersByIds(ids ...model.Id) ([]*model.User, error) {
	return getByIds[model.User](s, "user", ids...)
}

// GetUserByEmail returns nil if no user has the given email.
func (s *Store) GetUserByEmail(email string) (*model.User, error) {
	id, err := s.Backend.Get("user_by_email:" + email)
	if id == nil {
		return nil, err
	}
	users, err := s.GetUsersByIds(model.Id(*id))
	if len(users) == 0 {
		return nil, err
	}
	return users[0], nil
}

// UpdateUserDisplayName replaces the user's display name. Only the user themself writes their profile, so
// no conditional write is needed.
func (s *Store) UpdateUserDisplayName(id model.Id, displayName string) (*model.User, error) {
	users, err := s.GetUsersByIds(id)
	if err != nil {
		return nil, err
	} else if len(users) == 0 {
		return nil, fmt.Errorf("user %v does not exist", id)
	}

	user := *users[0]
	user.DisplayName = displayName
	user.RevisionNumber++

	serialized, err := serialize(&user)
	if err != nil {
		return nil, err
	}
	if err := s.Backend.Set("user:"+string(user.Id), serialized); err != nil {
		return nil, err
	}
	s.notify(UsersTopic)
	return &user, nil
}
