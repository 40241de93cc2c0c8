package feedws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/msgsync"
)

// ErrConnectionClosed is reported to open streams when the connection ends.
var ErrConnectionClosed = errors.New("feed connection closed")

// Client is the consuming side of a feed connection.
type Client struct {
	Logger logrus.FieldLogger

	conn       *websocket.Conn
	writeMutex sync.Mutex
	done       chan struct{}

	mutex   sync.Mutex
	streams map[string]*clientStream
	nextId  int
}

type clientStream struct {
	onSnapshot func([]msgsync.Entry)
	onError    func(error)
}

// Dial connects to a feed server and authenticates with the given session token.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{WebSocketSubprotocol},
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to feed")
	}

	c := &Client{
		conn:    conn,
		done:    make(chan struct{}),
		streams: map[string]*clientStream{},
	}
	if err := c.init(ctx, token); err != nil {
		conn.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) logger() logrus.FieldLogger {
	if c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

func (c *Client) init(ctx context.Context, token string) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	if err := c.send(&Message{Type: MessageTypeConnectionInit}, &InitPayload{Token: token}); err != nil {
		return err
	}

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return errors.Wrap(err, "error reading connection response")
		}
		switch msg.Type {
		case MessageTypeConnectionAck:
			return nil
		case MessageTypeConnectionError:
			var payload ErrorPayload
			jsoniter.Unmarshal(msg.Payload, &payload)
			return apperr.Authentication(payload.Message, nil)
		}
	}
}

func (c *Client) send(msg *Message, payload interface{}) error {
	if payload != nil {
		buf, err := jsoniter.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "error marshaling payload")
		}
		msg.Payload = json.RawMessage(buf)
	}
	data, err := jsoniter.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "error marshaling message")
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return errors.Wrap(c.conn.WriteMessage(websocket.TextMessage, data), "websocket write error")
}

// Start opens a stream. Callbacks are invoked from the client's read goroutine. The returned id can be
// passed to Stop.
func (c *Client) Start(payload StartPayload, onSnapshot func([]msgsync.Entry), onError func(error)) (string, error) {
	c.mutex.Lock()
	id := fmt.Sprint(c.nextId)
	c.nextId++
	c.streams[id] = &clientStream{
		onSnapshot: onSnapshot,
		onError:    onError,
	}
	c.mutex.Unlock()

	if err := c.send(&Message{Id: id, Type: MessageTypeStart}, &payload); err != nil {
		c.mutex.Lock()
		delete(c.streams, id)
		c.mutex.Unlock()
		return "", err
	}
	return id, nil
}

// Stop ends a stream.
func (c *Client) Stop(id string) error {
	c.mutex.Lock()
	delete(c.streams, id)
	c.mutex.Unlock()
	return c.send(&Message{Id: id, Type: MessageTypeStop}, nil)
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection and waits for the read goroutine to exit.
func (c *Client) Close() error {
	if err := c.send(&Message{Type: MessageTypeConnectionTerminate}, nil); err != nil {
		c.conn.Close()
	}
	select {
	case <-c.done:
	case <-time.After(time.Second):
		c.conn.Close()
		<-c.done
	}
	return nil
}

func (c *Client) stream(id string) *clientStream {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.streams[id]
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.conn.Close()

	for {
		_, p, err := c.conn.ReadMessage()
		if err != nil {
			if _, ok := err.(*websocket.CloseError); !ok {
				c.logger().WithError(err).Debug("feed connection read error")
			}
			c.mutex.Lock()
			streams := c.streams
			c.streams = map[string]*clientStream{}
			c.mutex.Unlock()
			for _, stream := range streams {
				if stream.onError != nil {
					stream.onError(ErrConnectionClosed)
				}
			}
			return
		}

		var msg Message
		if err := jsoniter.Unmarshal(p, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case MessageTypeSnapshot:
			var payload SnapshotPayload
			if err := jsoniter.Unmarshal(msg.Payload, &payload); err != nil {
				c.logger().WithError(err).Warn("malformed snapshot received")
				continue
			}
			if stream := c.stream(msg.Id); stream != nil {
				stream.onSnapshot(payload.Entries())
			}
		case MessageTypeError:
			var payload ErrorPayload
			jsoniter.Unmarshal(msg.Payload, &payload)
			if stream := c.stream(msg.Id); stream != nil && stream.onError != nil {
				stream.onError(apperr.Subscription(msg.Id, errors.New(payload.Message)))
			}
		case MessageTypeComplete:
			c.mutex.Lock()
			delete(c.streams, msg.Id)
			c.mutex.Unlock()
		}
	}
}
