// Package auth is the email/password identity provider. A Provider holds the session of one client: there
// is no process-wide current user.
package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/store"
)

const DefaultMinPasswordLength = 6

// UserStore is the subset of the document store used by the provider.
type UserStore interface {
	AddUser(user *model.User) error
	GetUsersByIds(ids ...model.Id) ([]*model.User, error)
	GetUserByEmail(email string) (*model.User, error)
	UpdateUserDisplayName(id model.Id, displayName string) (*model.User, error)
}

type Provider struct {
	Store  UserStore
	Tokens Tokens
	Logger logrus.FieldLogger

	// BcryptCost is the cost of password hashes. If zero, bcrypt.DefaultCost is used.
	BcryptCost int

	// MinPasswordLength is the shortest accepted password. If zero, DefaultMinPasswordLength is used.
	MinPasswordLength int

	mutex        sync.Mutex
	current      *model.User
	token        string
	listeners    map[int]func(*model.User)
	nextListener int
}

func (p *Provider) logger() logrus.FieldLogger {
	if p.Logger == nil {
		return logrus.StandardLogger()
	}
	return p.Logger
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount creates an identity and signs it in. Rejections by the provider (malformed email, weak
// password, email in use) are returned as InvalidCredentialsError.
func (p *Provider) CreateAccount(ctx context.Context, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)
	minPasswordLength := p.MinPasswordLength
	if minPasswordLength == 0 {
		minPasswordLength = DefaultMinPasswordLength
	}

	if i := strings.Index(email, "@"); i <= 0 || i == len(email)-1 {
		return nil, apperr.InvalidCredentials("A valid email address is required.", nil)
	} else if len(password) < minPasswordLength {
		return nil, apperr.InvalidCredentials("The password is too weak.", nil)
	}

	hash, err := model.NewPasswordHash(password, p.BcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "error hashing password")
	}

	user := &model.User{
		Id:           model.GenerateId(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := p.Store.AddUser(user); err == store.ErrUserEmailExists {
		return nil, apperr.InvalidCredentials("That email is already in use.", err)
	} else if err != nil {
		return nil, errors.Wrap(err, "error creating account")
	}

	if err := p.startSession(user); err != nil {
		return nil, err
	}
	return user, nil
}

// SignIn authenticates with an email and password. Rejected credentials produce an AuthenticationError.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*model.User, error) {
	user, err := p.Store.GetUserByEmail(NormalizeEmail(email))
	if err != nil {
		return nil, errors.Wrap(err, "error looking up account")
	} else if user == nil || !model.VerifyPasswordHash(user.PasswordHash, password) {
		return nil, apperr.Authentication("Invalid email or password.", nil)
	}

	if err := p.startSession(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Resume restores a session from a token issued by an earlier sign-in, typically on startup.
func (p *Provider) Resume(ctx context.Context, token string) (*model.User, error) {
	userId, err := p.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	users, err := p.Store.GetUsersByIds(userId)
	if err != nil {
		return nil, errors.Wrap(err, "error looking up account")
	} else if len(users) == 0 {
		return nil, apperr.Authentication("The session's account no longer exists.", nil)
	}

	p.setSession(users[0], token)
	return users[0], nil
}

// SignOut ends the current session. Signing out while signed out does nothing.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mutex.Lock()
	signedIn := p.current != nil
	p.mutex.Unlock()
	if signedIn {
		p.setSession(nil, "")
	}
	return nil
}

// UpdateDisplayName sets the current user's display name.
func (p *Provider) UpdateDisplayName(ctx context.Context, displayName string) (*model.User, error) {
	current := p.Current()
	if current == nil {
		return nil, apperr.Authentication("You must be signed in.", nil)
	}

	user, err := p.Store.UpdateUserDisplayName(current.Id, strings.TrimSpace(displayName))
	if err != nil {
		return nil, errors.Wrap(err, "error updating display name")
	}

	p.mutex.Lock()
	if p.current != nil && p.current.Id == user.Id {
		p.current = user
	}
	p.mutex.Unlock()
	return user, nil
}

// Current returns the signed-in user or nil.
func (p *Provider) Current() *model.User {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.current
}

// Token returns the current session's token, or an empty string when signed out.
func (p *Provider) Token() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.token
}

// OnSessionChange registers f to be invoked synchronously with the new user every time the signed-in
// identity changes, and once immediately with the current one. The user is nil when signed out.
func (p *Provider) OnSessionChange(f func(*model.User)) (unsubscribe func()) {
	p.mutex.Lock()
	if p.listeners == nil {
		p.listeners = map[int]func(*model.User){}
	}
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = f
	current := p.current
	p.mutex.Unlock()

	f(current)

	return func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		delete(p.listeners, id)
	}
}

func (p *Provider) startSession(user *model.User) error {
	token, err := p.Tokens.Issue(user.Id)
	if err != nil {
		return err
	}
	p.setSession(user, token)
	return nil
}

func (p *Provider) setSession(user *model.User, token string) {
	p.mutex.Lock()
	p.current = user
	p.token = token
	listeners := make([]func(*model.User), 0, len(p.listeners))
	for _, listener := range p.listeners {
		listeners = append(listeners, listener)
	}
	p.mutex.Unlock()

	if user == nil {
		p.logger().Info("signed out")
	} else {
		p.logger().WithField("user_id", user.Id).Info("signed in")
	}

	for _, listener := range listeners {
		listener(user)
	}
}
