package feedws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/auth"
	"github.com/chatgenie/chatgenie/feed"
	"github.com/chatgenie/chatgenie/metrics"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/msgsync"
	"github.com/chatgenie/chatgenie/store"
)

// Server serves snapshot streams to authenticated users. Users may stream any channel and their own
// private conversations.
type Server struct {
	Store  *store.Store
	Broker feed.Broker
	Tokens *auth.Tokens
	Logger logrus.FieldLogger

	// CheckOrigin is passed to the websocket upgrader. If nil, cross-origin requests are rejected.
	CheckOrigin func(r *http.Request) bool

	connectionsMutex sync.Mutex
	connections      map[*Connection]struct{}
}

func (s *Server) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

type connectionHandler struct {
	Server     *Server
	Connection *Connection
	Logger     logrus.FieldLogger

	ctx     context.Context
	cancel  context.CancelFunc
	user    *model.User
	streams map[string]*feed.Watcher
}

func (h *connectionHandler) HandleInit(parameters json.RawMessage) error {
	var payload InitPayload
	if err := jsoniter.Unmarshal(parameters, &payload); err != nil {
		return apperr.Authentication("A session token is required.", err)
	}
	userId, err := h.Server.Tokens.Verify(payload.Token)
	if err != nil {
		return err
	}
	users, err := h.Server.Store.GetUsersByIds(userId)
	if err != nil {
		h.LogError(err)
		return errors.New("An internal error has occurred.")
	} else if len(users) == 0 {
		return apperr.Authentication("The session's account no longer exists.", nil)
	}
	h.user = users[0]
	h.Logger = h.Logger.WithField("user_id", h.user.Id)
	return nil
}

func (h *connectionHandler) resolveTarget(payload StartPayload) (msgsync.Target, error) {
	switch {
	case payload.ChannelId != "" && payload.PeerId == "":
		channels, err := h.Server.Store.GetChannelsByIds(payload.ChannelId)
		if err != nil {
			return msgsync.Target{}, err
		} else if len(channels) == 0 {
			return msgsync.Target{}, apperr.Validation("Unknown channel.")
		}
		return msgsync.ChannelTarget(payload.ChannelId), nil
	case payload.PeerId != "" && payload.ChannelId == "":
		users, err := h.Server.Store.GetUsersByIds(payload.PeerId)
		if err != nil {
			return msgsync.Target{}, err
		} else if len(users) == 0 {
			return msgsync.Target{}, apperr.Validation("Unknown user.")
		}
		return msgsync.PrivateTarget(h.user, users[0]), nil
	}
	return msgsync.Target{}, apperr.Validation("Exactly one of channel_id or peer_id is required.")
}

func (h *connectionHandler) HandleStart(id string, payload StartPayload) {
	if _, ok := h.streams[id]; ok {
		return
	}

	target, err := h.resolveTarget(payload)
	if err == nil && !target.Includes(h.user.Id) {
		err = apperr.Validation("You are not a member of that conversation.")
	}

	var w *feed.Watcher
	if err == nil {
		logger := h.Logger.WithField("target", target.Key())
		w, err = msgsync.Subscribe(h.ctx, h.Server.Store, h.Server.Broker, target, func(entries []msgsync.Entry) {
			if err := h.Connection.SendSnapshot(h.ctx, id, entries); err != nil && h.ctx.Err() == nil {
				logger.Warn(errors.Wrap(err, "error sending snapshot"))
			}
		}, func(err error) {
			logger.WithError(err).Warn("stream error")
			if err := h.Connection.SendError(h.ctx, id, "Unable to read messages."); err != nil && h.ctx.Err() == nil {
				logger.Warn(errors.Wrap(err, "error sending stream error"))
			}
		})
	}

	if err != nil {
		message := "Unable to read messages."
		if apperr.IsValidation(err) {
			message = err.Error()
		} else {
			h.Logger.WithError(err).Warn("unable to start stream")
		}
		if err := h.Connection.SendError(h.ctx, id, message); err != nil {
			h.LogError(errors.Wrap(err, "error sending stream error"))
		}
		if err := h.Connection.SendComplete(h.ctx, id); err != nil {
			h.LogError(errors.Wrap(err, "error sending complete"))
		}
		return
	}

	if h.streams == nil {
		h.streams = map[string]*feed.Watcher{}
	}
	h.streams[id] = w
	metrics.FeedStreams.Inc()
}

func (h *connectionHandler) HandleStop(id string) {
	if w, ok := h.streams[id]; ok {
		w.Stop()
		delete(h.streams, id)
		metrics.FeedStreams.Dec()
	}
}

func (h *connectionHandler) LogError(err error) {
	h.Logger.Error(err)
}

func (h *connectionHandler) Cancel() {
	h.cancel()
}

func (h *connectionHandler) HandleClose() {
	for _, w := range h.streams {
		w.Stop()
		metrics.FeedStreams.Dec()
	}
	h.streams = nil

	h.Server.connectionsMutex.Lock()
	defer h.Server.connectionsMutex.Unlock()
	delete(h.Server.connections, h.Connection)
}

// ServeHTTP serves a feed connection. This method hijacks connections. To gracefully close them, use
// CloseHijackedConnections.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "not a websocket upgrade", http.StatusBadRequest)
		return
	}

	var upgrader = websocket.Upgrader{
		CheckOrigin:       s.CheckOrigin,
		EnableCompression: true,
		Subprotocols:      []string{WebSocketSubprotocol},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		return
	}

	connection := &Connection{}

	s.connectionsMutex.Lock()
	if s.connections == nil {
		s.connections = map[*Connection]struct{}{}
	}
	s.connections[connection] = struct{}{}
	s.connectionsMutex.Unlock()

	// r.Context() can't be used because the http package cancels it once a hijacked connection's
	// handler returns
	ctx, cancel := context.WithCancel(context.Background())
	connection.Handler = &connectionHandler{
		Server:     s,
		Connection: connection,
		Logger:     s.logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
	connection.Serve(conn)
}

// CloseHijackedConnections closes connections hijacked by ServeHTTP.
func (s *Server) CloseHijackedConnections() {
	s.connectionsMutex.Lock()
	connections := make([]*Connection, 0, len(s.connections))
	for connection := range s.connections {
		connections = append(connections, connection)
	}
	s.connections = map[*Connection]struct{}{}
	s.connectionsMutex.Unlock()

	for _, connection := range connections {
		if err := connection.Close(); err != nil {
			s.logger().Error(errors.Wrap(err, "error closing connection"))
		}
	}
}
