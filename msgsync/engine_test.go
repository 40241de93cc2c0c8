package msgsync

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ccbrown/keyvaluestore/memorystore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgenie/chatgenie/apperr"
	"github.com/chatgenie/chatgenie/attachment"
	"github.com/chatgenie/chatgenie/feed"
	"github.com/chatgenie/chatgenie/model"
	"github.com/chatgenie/chatgenie/store"
)

type countingSource struct {
	*store.Store

	mutex   sync.Mutex
	appends int
	failGet bool
}

func (s *countingSource) AddMessage(message *model.Message) error {
	s.mutex.Lock()
	s.appends++
	s.mutex.Unlock()
	return s.Store.AddMessage(message)
}

func (s *countingSource) AddPrivateMessage(message *model.PrivateMessage) error {
	s.mutex.Lock()
	s.appends++
	s.mutex.Unlock()
	return s.Store.AddPrivateMessage(message)
}

func (s *countingSource) GetMessagesByChannelId(channelId model.Id) ([]*model.Message, error) {
	s.mutex.Lock()
	fail := s.failGet
	s.mutex.Unlock()
	if fail {
		return nil, errors.New("permission denied")
	}
	return s.Store.GetMessagesByChannelId(channelId)
}

func (s *countingSource) Appends() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.appends
}

type testEnv struct {
	Source *countingSource
	Hub    *feed.Hub
	Blobs  *attachment.MemoryBlobStore
}

func newTestEnv() *testEnv {
	hub := feed.NewHub()
	return &testEnv{
		Source: &countingSource{
			Store: &store.Store{
				Backend:  memorystore.NewBackend(),
				Notifier: hub,
			},
		},
		Hub:   hub,
		Blobs: attachment.NewMemoryBlobStore(""),
	}
}

func (env *testEnv) NewEngine() *Engine {
	logger, _ := test.NewNullLogger()
	return &Engine{
		Source:   env.Source,
		Broker:   env.Hub,
		Uploader: &attachment.Uploader{Blobs: env.Blobs},
		Logger:   logger,
	}
}

func newUser(name string) *model.User {
	return &model.User{
		Id:          model.GenerateId(),
		DisplayName: name,
	}
}

func texts(entries []Entry) []string {
	ret := make([]string, len(entries))
	for i, entry := range entries {
		ret[i] = entry.Content.Text
	}
	return ret
}

func TestEngine_ChannelOrdering(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()
	alice := newUser("Alice")
	channelId := model.GenerateId()

	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(channelId)))
	assert.Empty(t, e.Messages())

	const n = 25
	for i := 0; i < n; i++ {
		require.NoError(t, e.SendText(context.Background(), alice, fmt.Sprintf("message %v", i)))
	}

	require.Eventually(t, func() bool {
		return len(e.Messages()) == n
	}, time.Second, 10*time.Millisecond)

	messages := e.Messages()
	for i, message := range messages {
		assert.Equal(t, fmt.Sprintf("message %v", i), message.Content.Text)
		assert.Equal(t, "Alice", message.AuthorName)
		assert.Equal(t, alice.Id, message.AuthorUserId)
		if i > 0 {
			assert.True(t, messages[i-1].Time.Before(message.Time))
		}
	}
}

func TestEngine_OnChange(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()

	var mutex sync.Mutex
	var latest []Entry
	unsubscribe := e.OnChange(func(entries []Entry) {
		mutex.Lock()
		defer mutex.Unlock()
		latest = entries
	})
	defer unsubscribe()

	channelId := model.GenerateId()
	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(channelId)))
	require.NoError(t, e.SendText(context.Background(), newUser("Alice"), "hi"))

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(latest) == 1 && latest[0].Content.Text == "hi"
	}, time.Second, 10*time.Millisecond)

	e.ClearTarget()
	mutex.Lock()
	assert.Empty(t, latest)
	mutex.Unlock()
}

func TestEngine_DoubleSwitch(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()
	alice := newUser("Alice")

	first, second := model.GenerateId(), model.GenerateId()
	require.NoError(t, env.Source.AddMessage(&model.Message{Id: model.GenerateId(), ChannelId: first, Content: model.TextContent("in first")}))
	require.NoError(t, env.Source.AddMessage(&model.Message{Id: model.GenerateId(), ChannelId: second, Content: model.TextContent("in second")}))

	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(first)))
	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(second)))
	assert.Equal(t, ChannelTarget(second).Key(), e.Target().Key())
	assert.Equal(t, []string{"in second"}, texts(e.Messages()))

	// activity in the first channel no longer reaches the engine
	assert.Equal(t, 0, env.Hub.SubscriberCount(store.ChannelTopic(first)))
	require.NoError(t, env.Source.AddMessage(&model.Message{Id: model.GenerateId(), ChannelId: first, Content: model.TextContent("late")}))

	require.NoError(t, e.SendText(context.Background(), alice, "also in second"))
	require.Eventually(t, func() bool {
		return len(e.Messages()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"in second", "also in second"}, texts(e.Messages()))
}

func TestEngine_ConcurrentSwitches(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()

	channels := make([]model.Id, 10)
	for i := range channels {
		channels[i] = model.GenerateId()
		require.NoError(t, env.Source.AddMessage(&model.Message{Id: model.GenerateId(), ChannelId: channels[i], Content: model.TextContent(string(channels[i]))}))
	}

	var wg sync.WaitGroup
	for _, id := range channels {
		wg.Add(1)
		go func(id model.Id) {
			defer wg.Done()
			assert.NoError(t, e.SetTarget(context.Background(), ChannelTarget(id)))
		}(id)
	}
	wg.Wait()

	// whichever target won, the list belongs to it
	target := e.Target()
	assert.Equal(t, []string{string(target.ChannelId())}, texts(e.Messages()))

	activeSubscriptions := 0
	for _, id := range channels {
		activeSubscriptions += env.Hub.SubscriberCount(store.ChannelTopic(id))
	}
	assert.Equal(t, 1, activeSubscriptions)
}

func TestEngine_StaleSnapshotDropped(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()

	channelId := model.GenerateId()
	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(channelId)))

	e.mutex.Lock()
	staleGeneration := e.generation - 1
	e.mutex.Unlock()

	e.applySnapshot(staleGeneration, []Entry{{Id: model.GenerateId()}})
	assert.Empty(t, e.Messages())
}

func TestEngine_SendTextNoOp(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()
	alice := newUser("Alice")

	// no target
	require.NoError(t, e.SendText(context.Background(), alice, "hello"))
	assert.Equal(t, 0, env.Source.Appends())

	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(model.GenerateId())))
	for _, text := range []string{"", "   ", "\n\t "} {
		require.NoError(t, e.SendText(context.Background(), alice, text))
	}
	assert.Equal(t, 0, env.Source.Appends())
	assert.Empty(t, e.Messages())

	e.ClearTarget()
	require.NoError(t, e.SendFile(context.Background(), alice, attachment.File{Name: "x", Data: []byte("x")}))
	assert.Equal(t, 0, env.Blobs.Len())
}

func TestEngine_SendTextTrims(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()

	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(model.GenerateId())))
	require.NoError(t, e.SendText(context.Background(), newUser("Alice"), "  hello there \n"))

	require.Eventually(t, func() bool {
		messages := e.Messages()
		return len(messages) == 1 && messages[0].Content.Text == "hello there"
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_SendRequiresAuthor(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()

	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(model.GenerateId())))
	assert.True(t, apperr.IsAuthentication(e.SendText(context.Background(), nil, "hi")))
	assert.Equal(t, 0, env.Source.Appends())
}

func TestEngine_PrivateIsolation(t *testing.T) {
	env := newTestEnv()
	alice, bob, carol := newUser("Alice"), newUser("Bob"), newUser("Carol")

	aliceView := env.NewEngine()
	defer aliceView.Close()
	bobView := env.NewEngine()
	defer bobView.Close()
	carolView := env.NewEngine()
	defer carolView.Close()

	require.NoError(t, aliceView.SetTarget(context.Background(), PrivateTarget(alice, bob)))
	require.NoError(t, bobView.SetTarget(context.Background(), PrivateTarget(bob, alice)))
	require.NoError(t, carolView.SetTarget(context.Background(), PrivateTarget(carol, alice)))
	assert.Equal(t, aliceView.Target().Key(), bobView.Target().Key())

	require.NoError(t, aliceView.SendText(context.Background(), alice, "hi bob"))
	require.NoError(t, bobView.SendText(context.Background(), bob, "hi alice"))
	require.NoError(t, carolView.SendText(context.Background(), carol, "hi alice, it's carol"))

	require.Eventually(t, func() bool {
		return len(aliceView.Messages()) == 2 && len(bobView.Messages()) == 2 && len(carolView.Messages()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"hi bob", "hi alice"}, texts(aliceView.Messages()))
	assert.Equal(t, []string{"hi bob", "hi alice"}, texts(bobView.Messages()))
	assert.Equal(t, []string{"hi alice, it's carol"}, texts(carolView.Messages()))

	// carol's conversation with alice is delivered to alice's other view
	require.NoError(t, aliceView.SetTarget(context.Background(), PrivateTarget(alice, carol)))
	assert.Equal(t, []string{"hi alice, it's carol"}, texts(aliceView.Messages()))

	assert.True(t, PrivateTarget(alice, bob).Includes(bob.Id))
	assert.False(t, PrivateTarget(alice, bob).Includes(carol.Id))
}

func TestEngine_SelfConversation(t *testing.T) {
	env := newTestEnv()
	alice, bob := newUser("Alice"), newUser("Bob")
	e := env.NewEngine()
	defer e.Close()

	require.NoError(t, env.Source.AddPrivateMessage(&model.PrivateMessage{
		Id:             model.GenerateId(),
		SenderUserId:   alice.Id,
		ReceiverUserId: bob.Id,
		Content:        model.TextContent("to bob"),
	}))

	require.NoError(t, e.SetTarget(context.Background(), PrivateTarget(alice, alice)))
	require.NoError(t, e.SendText(context.Background(), alice, "note to self"))
	require.Eventually(t, func() bool {
		return len(e.Messages()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"note to self"}, texts(e.Messages()))
}

func TestEngine_SendFile(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()
	alice := newUser("Alice")
	channelId := model.GenerateId()

	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(channelId)))
	require.NoError(t, e.SendFile(context.Background(), alice, attachment.File{
		Name: "notes.txt",
		Data: []byte("some notes"),
	}))

	require.Eventually(t, func() bool {
		return len(e.Messages()) == 1
	}, time.Second, 10*time.Millisecond)
	content := e.Messages()[0].Content
	assert.Equal(t, model.KindFile, content.Kind)
	assert.Equal(t, "notes.txt", content.FileName)
	assert.Contains(t, content.FileURL, "/files/attachments/"+string(channelId)+"/")
	assert.Equal(t, 1, env.Blobs.Len())
}

type failingBlobStore struct{}

func (failingBlobStore) Put(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	return "", errors.New("network unreachable")
}

func TestEngine_SendFileUploadFailure(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()
	e.Uploader = &attachment.Uploader{Blobs: failingBlobStore{}}

	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(model.GenerateId())))
	err := e.SendFile(context.Background(), newUser("Alice"), attachment.File{Name: "x", Data: []byte("x")})
	assert.True(t, apperr.IsUpload(err))
	assert.Equal(t, 0, env.Source.Appends())
}

func TestEngine_SubscriptionError(t *testing.T) {
	env := newTestEnv()
	e := env.NewEngine()
	defer e.Close()

	var mutex sync.Mutex
	var reported []error
	defer e.OnError(func(err error) {
		mutex.Lock()
		defer mutex.Unlock()
		reported = append(reported, err)
	})()

	env.Source.failGet = true
	err := e.SetTarget(context.Background(), ChannelTarget(model.GenerateId()))
	assert.True(t, apperr.IsSubscription(err))
	mutex.Lock()
	assert.Len(t, reported, 1)
	mutex.Unlock()

	// a failing refresh keeps the last good list
	env.Source.mutex.Lock()
	env.Source.failGet = false
	env.Source.mutex.Unlock()
	channelId := model.GenerateId()
	require.NoError(t, e.SetTarget(context.Background(), ChannelTarget(channelId)))
	require.NoError(t, e.SendText(context.Background(), newUser("Alice"), "first"))
	require.Eventually(t, func() bool {
		return len(e.Messages()) == 1
	}, time.Second, 10*time.Millisecond)

	env.Source.mutex.Lock()
	env.Source.failGet = true
	env.Source.mutex.Unlock()
	require.NoError(t, e.SendText(context.Background(), newUser("Alice"), "second"))
	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(reported) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first"}, texts(e.Messages()))
}
