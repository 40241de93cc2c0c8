package model

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

type User struct {
	Id             Id
	RevisionNumber int

	Email        string
	DisplayName  string
	PasswordHash []byte
	CreationTime time.Time
}

// Name is the name shown to other users. It falls back to the email address and then to "Anonymous".
func (u *User) Name() string {
	if u == nil {
		return "Anonymous"
	} else if u.DisplayName != "" {
		return u.DisplayName
	} else if u.Email != "" {
		return u.Email
	}
	return "Anonymous"
}

func NewPasswordHash(password string, cost int) ([]byte, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

func VerifyPasswordHash(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
