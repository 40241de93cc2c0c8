// Package session ties a client's identity to the conversation views it has open.
package session

import (
	"context"
	"sync"

	"github.com/chatgenie/chatgenie/model"
)

// Identity is implemented by presence.Service.
type Identity interface {
	Register(ctx context.Context, email, password, displayName string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*model.User, error)
	Resume(ctx context.Context, token string) (*model.User, error)
	Logout(ctx context.Context) error
	Current() *model.User
}

// View is a conversation view, such as a msgsync.Engine.
type View interface {
	ClearTarget()
}

type Controller struct {
	Identity Identity

	mutex  sync.Mutex
	views  map[int]View
	nextId int
}

func (c *Controller) Register(ctx context.Context, email, password, displayName string) (*model.User, error) {
	return c.Identity.Register(ctx, email, password, displayName)
}

func (c *Controller) Login(ctx context.Context, email, password string) (*model.User, error) {
	return c.Identity.Login(ctx, email, password)
}

func (c *Controller) Resume(ctx context.Context, token string) (*model.User, error) {
	return c.Identity.Resume(ctx, token)
}

// Logout signs out and detaches every view from its conversation. Views are detached even if signing
// out fails.
func (c *Controller) Logout(ctx context.Context) error {
	err := c.Identity.Logout(ctx)

	c.mutex.Lock()
	views := make([]View, 0, len(c.views))
	for _, view := range c.views {
		views = append(views, view)
	}
	c.mutex.Unlock()

	for _, view := range views {
		view.ClearTarget()
	}
	return err
}

// Current returns the signed-in user or nil.
func (c *Controller) Current() *model.User {
	return c.Identity.Current()
}

// Attach registers a view to be cleared on logout.
func (c *Controller) Attach(view View) (detach func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.views == nil {
		c.views = map[int]View{}
	}
	id := c.nextId
	c.nextId++
	c.views[id] = view
	return func() {
		c.mutex.Lock()
		defer c.mutex.Unlock()
		delete(c.views, id)
	}
}
