package feedws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ccbrown/keyvaluestore/memorystore"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/auth"
	"github.com/chatgenie/chatgenie/feed"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/msgsync"
	"github.com/chatgenie/chatgenie/store"
)

type testServer struct {
	*httptest.Server
	Feed   *Server
	Store  *store.Store
	Tokens *auth.Tokens
}

func newTestServer(t *testing.T) *testServer {
	hub := feed.NewHub()
	logger, _ := test.NewNullLogger()
	s := &store.Store{
		Backend:  memorystore.NewBackend(),
		Notifier: hub,
	}
	tokens := &auth.Tokens{Secret: []byte("test-secret")}
	server := &Server{
		Store:  s,
		Broker: hub,
		Tokens: tokens,
		Logger: logger,
	}
	return &testServer{
		Server: httptest.NewServer(server),
		Feed:   server,
		Store:  s,
		Tokens: tokens,
	}
}

func (s *testServer) Close() {
	s.Feed.CloseHijackedConnections()
	s.Server.Close()
}

func (s *testServer) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

func (s *testServer) AddUser(t *testing.T, name string) (*model.User, string) {
	user := &model.User{
		Id:          model.GenerateId(),
		Email:       strings.ToLower(name) + "@example.com",
		DisplayName: name,
	}
	require.NoError(t, s.Store.AddUser(user))
	token, err := s.Tokens.Issue(user.Id)
	require.NoError(t, err)
	return user, token
}

type snapshotRecorder struct {
	mutex  sync.Mutex
	latest []msgsync.Entry
	count  int
	errors []error
}

func (r *snapshotRecorder) onSnapshot(entries []msgsync.Entry) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.latest = entries
	r.count++
}

func (r *snapshotRecorder) onError(err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.errors = append(r.errors, err)
}

func (r *snapshotRecorder) texts() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	ret := make([]string, len(r.latest))
	for i, entry := range r.latest {
		ret[i] = entry.Content.Text
	}
	return ret
}

func (r *snapshotRecorder) errorCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.errors)
}

func TestFeed_Channel(t *testing.T) {
	s := newTestServer(t)
	defer s.Close()

	alice, token := s.AddUser(t, "Alice")
	channel := &model.Channel{Id: model.GenerateId(), Name: "general"}
	require.NoError(t, s.Store.AddChannel(channel))

	client, err := Dial(context.Background(), s.URL(), token)
	require.NoError(t, err)
	defer client.Close()

	var recorder snapshotRecorder
	id, err := client.Start(StartPayload{ChannelId: channel.Id}, recorder.onSnapshot, recorder.onError)
	require.NoError(t, err)

	require.NoError(t, s.Store.AddMessage(&model.Message{
		Id:           model.GenerateId(),
		ChannelId:    channel.Id,
		AuthorUserId: alice.Id,
		AuthorName:   "Alice",
		Content:      model.TextContent("hello"),
	}))

	require.Eventually(t, func() bool {
		texts := recorder.texts()
		return len(texts) == 1 && texts[0] == "hello"
	}, time.Second, 10*time.Millisecond)

	recorder.mutex.Lock()
	entry := recorder.latest[0]
	recorder.mutex.Unlock()
	assert.Equal(t, alice.Id, entry.AuthorUserId)
	assert.Equal(t, model.KindText, entry.Content.Kind)
	assert.False(t, entry.Time.IsZero())

	require.NoError(t, client.Stop(id))
	require.Eventually(t, func() bool {
		return s.Feed.Broker.(*feed.Hub).SubscriberCount(store.ChannelTopic(channel.Id)) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestFeed_Private(t *testing.T) {
	s := newTestServer(t)
	defer s.Close()

	alice, aliceToken := s.AddUser(t, "Alice")
	bob, _ := s.AddUser(t, "Bob")
	carol, carolToken := s.AddUser(t, "Carol")

	for _, m := range []*model.PrivateMessage{
		{SenderUserId: alice.Id, ReceiverUserId: bob.Id, Content: model.TextContent("hi bob")},
		{SenderUserId: carol.Id, ReceiverUserId: alice.Id, Content: model.TextContent("hi alice")},
	} {
		m.Id = model.GenerateId()
		require.NoError(t, s.Store.AddPrivateMessage(m))
	}

	aliceClient, err := Dial(context.Background(), s.URL(), aliceToken)
	require.NoError(t, err)
	defer aliceClient.Close()

	var withBob snapshotRecorder
	_, err = aliceClient.Start(StartPayload{PeerId: bob.Id}, withBob.onSnapshot, withBob.onError)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		texts := withBob.texts()
		return len(texts) == 1 && texts[0] == "hi bob"
	}, time.Second, 10*time.Millisecond)

	// carol can only ever see her own conversations
	carolClient, err := Dial(context.Background(), s.URL(), carolToken)
	require.NoError(t, err)
	defer carolClient.Close()

	var withAlice snapshotRecorder
	_, err = carolClient.Start(StartPayload{PeerId: alice.Id}, withAlice.onSnapshot, withAlice.onError)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		texts := withAlice.texts()
		return len(texts) == 1 && texts[0] == "hi alice"
	}, time.Second, 10*time.Millisecond)
}

func TestFeed_StartErrors(t *testing.T) {
	s := newTestServer(t)
	defer s.Close()

	_, token := s.AddUser(t, "Alice")
	client, err := Dial(context.Background(), s.URL(), token)
	require.NoError(t, err)
	defer client.Close()

	for _, payload := range []StartPayload{
		{},
		{ChannelId: model.GenerateId()},
		{PeerId: model.GenerateId()},
		{ChannelId: model.GenerateId(), PeerId: model.GenerateId()},
	} {
		var recorder snapshotRecorder
		_, err := client.Start(payload, recorder.onSnapshot, recorder.onError)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return recorder.errorCount() == 1
		}, time.Second, 10*time.Millisecond)
		recorder.mutex.Lock()
		assert.True(t, apperr.IsSubscription(recorder.errors[0]))
		recorder.mutex.Unlock()
	}
}

func TestFeed_BadToken(t *testing.T) {
	s := newTestServer(t)
	defer s.Close()

	_, err := Dial(context.Background(), s.URL(), "not-a-token")
	assert.True(t, apperr.IsAuthentication(err))

	token, err := s.Tokens.Issue(model.GenerateId())
	require.NoError(t, err)
	_, err = Dial(context.Background(), s.URL(), token)
	assert.True(t, apperr.IsAuthentication(err))
}

func TestFeed_Protocol(t *testing.T) {
	s := newTestServer(t)
	defer s.Close()

	_, token := s.AddUser(t, "Alice")
	channel := &model.Channel{Id: model.GenerateId(), Name: "general"}
	require.NoError(t, s.Store.AddChannel(channel))

	dialer := &websocket.Dialer{
		HandshakeTimeout: time.Second,
		Subprotocols:     []string{WebSocketSubprotocol},
	}
	conn, _, err := dialer.Dial(s.URL(), nil)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing")))
		conn.Close()
	}()

	// streams can't be started before init
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"id":   "early",
		"type": "start",
		"payload": map[string]interface{}{
			"channel_id": channel.Id,
		},
	}))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "connection_init",
		"payload": map[string]interface{}{
			"token": token,
		},
	}))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeConnectionAck, msg.Type)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeConnectionKeepAlive, msg.Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"id":   "sub",
		"type": "start",
		"payload": map[string]interface{}{
			"channel_id": channel.Id,
		},
	}))

	msg = Message{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "sub", msg.Id)
	assert.Equal(t, MessageTypeSnapshot, msg.Type)
	assert.JSONEq(t, `{"messages":[]}`, string(msg.Payload))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"id":   "sub",
		"type": "stop",
	}))

	msg = Message{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "sub", msg.Id)
	assert.Equal(t, MessageTypeComplete, msg.Type)
}

func TestConnection_SendAfterWriteLoopExit(t *testing.T) {
	c := &Connection{
		outgoing:      make(chan *websocket.PreparedMessage),
		close:         make(chan struct{}),
		writeLoopDone: make(chan struct{}),
	}
	close(c.writeLoopDone)

	done := make(chan error, 1)
	go func() {
		done <- c.SendComplete(context.Background(), "1")
	}()
	select {
	case err := <-done:
		assert.Equal(t, ErrConnectionClosed, err)
	case <-time.After(time.Second):
		t.Fatal("send blocked after the write loop exited")
	}
}
