package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeedURL(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8080/feed", feedURL("http://127.0.0.1:8080"))
	assert.Equal(t, "wss://chat.example.com/feed", feedURL("https://chat.example.com/"))
}
