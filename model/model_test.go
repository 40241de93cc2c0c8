package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationId(t *testing.T) {
	a, b, c := GenerateId(), GenerateId(), GenerateId()

	assert.Equal(t, ConversationId(a, b), ConversationId(b, a))
	assert.Equal(t, ConversationId(a, c), ConversationId(c, a))
	assert.NotEqual(t, ConversationId(a, b), ConversationId(a, c))
	assert.NotEqual(t, ConversationId(a, b), ConversationId(b, c))

	assert.Equal(t, "x_y", ConversationId("y", "x"))
}

func TestUserName(t *testing.T) {
	assert.Equal(t, "Anonymous", (*User)(nil).Name())
	assert.Equal(t, "Anonymous", (&User{}).Name())
	assert.Equal(t, "a@example.com", (&User{Email: "a@example.com"}).Name())
	assert.Equal(t, "Alice", (&User{Email: "a@example.com", DisplayName: "Alice"}).Name())
}

func TestPasswordHash(t *testing.T) {
	hash, err := NewPasswordHash("hunter2", 4)
	assert.NoError(t, err)
	assert.True(t, VerifyPasswordHash(hash, "hunter2"))
	assert.False(t, VerifyPasswordHash(hash, "hunter3"))
}
