package chatgenie

import (
	"crypto/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie/attachment"
	"github.com/chatgenie/chatgenie/auth"
	"github.com/chatgenie/chatgenie/channel"
	"github.com/chatgenie/chatgenie/msgsync"
	"github.com/chatgenie/chatgenie/presence"
	"github.com/chatgenie/chatgenie/session"
)

type Options struct {
	// Secret signs session tokens. Processes that accept each other's tokens need the same secret. If
	// empty, a random secret is generated.
	Secret []byte

	SessionTTL        time.Duration
	PresenceTTL       time.Duration
	HeartbeatInterval time.Duration
	BcryptCost        int

	Logger logrus.FieldLogger
}

// Client is one user-facing process: it holds at most one signed-in session.
type Client struct {
	Backend  *Backend
	Auth     *auth.Provider
	Presence *presence.Service
	Channels *channel.Directory
	Uploader *attachment.Uploader
	Session  *session.Controller
	Logger   logrus.FieldLogger
}

func NewClient(backend *Backend, options Options) *Client {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	secret := options.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(err)
		}
	}

	provider := &auth.Provider{
		Store: backend.Store,
		Tokens: auth.Tokens{
			Secret: secret,
			TTL:    options.SessionTTL,
		},
		BcryptCost: options.BcryptCost,
		Logger:     logger,
	}
	presenceService := &presence.Service{
		Auth:              provider,
		Store:             backend.Store,
		Liveness:          backend.Liveness,
		Broker:            backend.Broker,
		TTL:               options.PresenceTTL,
		HeartbeatInterval: options.HeartbeatInterval,
		Logger:            logger,
	}
	return &Client{
		Backend:  backend,
		Auth:     provider,
		Presence: presenceService,
		Channels: &channel.Directory{
			Store:  backend.Store,
			Broker: backend.Broker,
		},
		Uploader: &attachment.Uploader{
			Blobs: backend.Blobs,
		},
		Session: &session.Controller{
			Identity: presenceService,
		},
		Logger: logger,
	}
}

// View is a conversation view. It is detached from the conversation when the client logs out.
type View struct {
	*msgsync.Engine

	detach func()
}

// NewEngine returns a new conversation view attached to the client's session.
func (c *Client) NewEngine() *View {
	engine := &msgsync.Engine{
		Source:   c.Backend.Store,
		Broker:   c.Backend.Broker,
		Uploader: c.Uploader,
		Logger:   c.Logger,
	}
	return &View{
		Engine: engine,
		detach: c.Session.Attach(engine),
	}
}

// Close detaches the view from the session and ends its subscription.
func (v *View) Close() {
	v.detach()
	v.Engine.Close()
}

// Close stops the client's background work without logging out, as if the process had exited.
func (c *Client) Close() {
	c.Presence.Close()
}
