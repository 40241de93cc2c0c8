package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/model"
)

const DefaultTokenTTL = 30 * 24 * time.Hour

// Tokens issues and verifies session tokens. Tokens are HS256 JWTs whose subject is the user id.
type Tokens struct {
	Secret []byte

	// TTL is the lifetime of issued tokens. If zero, DefaultTokenTTL is used.
	TTL time.Duration

	// Now is used as the clock. If nil, time.Now is used.
	Now func() time.Time
}

func (t *Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tokens) Issue(userId model.Id) (string, error) {
	if len(t.Secret) == 0 {
		return "", errors.New("no token secret configured")
	}
	ttl := t.TTL
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   string(userId),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := token.SignedString(t.Secret)
	return signed, errors.Wrap(err, "error signing session token")
}

// Verify returns the id of the user the token was issued to. Invalid or expired tokens produce an
// AuthenticationError.
func (t *Tokens) Verify(tokenString string) (model.Id, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", apperr.Authentication("The session is invalid or has expired.", err)
	} else if claims.Subject == "" {
		return "", apperr.Authentication("The session is invalid or has expired.", nil)
	}
	return model.Id(claims.Subject), nil
}
