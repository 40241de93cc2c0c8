package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgenie/chatgenie"
	"github.com/chatgenie/chatgenie/model"
)

type syncBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

func newTestREPL(backend *chatgenie.Backend, input string) (*chatREPL, *syncBuffer) {
	logger, _ := test.NewNullLogger()
	client := chatgenie.NewClient(backend, chatgenie.Options{
		Secret:            []byte("test-secret"),
		PresenceTTL:       time.Minute,
		HeartbeatInterval: time.Hour,
		BcryptCost:        4,
		Logger:            logger,
	})
	out := &syncBuffer{}
	r := &chatREPL{
		Client:  client,
		View:    client.NewEngine(),
		Out:     out,
		Input:   bufio.NewScanner(strings.NewReader(input)),
		printed: map[model.Id]struct{}{},
	}
	r.View.OnChange(r.printNew)
	client.Session.Attach(r)
	return r, out
}

func TestChatREPL(t *testing.T) {
	logger, _ := test.NewNullLogger()
	backend := chatgenie.NewMemoryBackend(logger)
	ctx := context.Background()

	alice, aliceOut := newTestREPL(backend, "hunter22\n")
	defer alice.Client.Close()
	bob, bobOut := newTestREPL(backend, "hunter33\n")
	defer bob.Client.Close()

	require.NoError(t, alice.handle(ctx, "/register alice@example.com Alice"))
	require.NoError(t, bob.handle(ctx, "/register bob@example.com Bob"))
	assert.Contains(t, aliceOut.String(), "signed in as Alice")

	assert.Error(t, alice.handle(ctx, "hello before joining"))
	assert.Error(t, alice.handle(ctx, "/join general"))

	require.NoError(t, alice.handle(ctx, "/create general"))
	require.NoError(t, alice.handle(ctx, "/join general"))
	require.NoError(t, bob.handle(ctx, "/join 1"))

	require.NoError(t, alice.handle(ctx, "hello bob"))
	require.Eventually(t, func() bool {
		return strings.Contains(bobOut.String(), "Alice: hello bob")
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, bob.handle(ctx, "/dm alice@example.com"))
	require.NoError(t, alice.handle(ctx, "/dm bob@example.com"))
	require.NoError(t, bob.handle(ctx, "/send psst"))
	require.Eventually(t, func() bool {
		return strings.Contains(aliceOut.String(), "Bob: psst")
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(alice.onlineUsers()) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, alice.handle(ctx, "/who"))
	assert.Contains(t, aliceOut.String(), "Bob (active")
	assert.NotContains(t, aliceOut.String(), "Alice (active")

	require.NoError(t, bob.handle(ctx, "/logout"))
	assert.True(t, bob.View.Target().IsZero())
	assert.Error(t, bob.handle(ctx, "/send hi"))

	assert.Error(t, alice.handle(ctx, "/bogus"))
}
