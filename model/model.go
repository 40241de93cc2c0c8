package model

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

type Id string

func (id Id) Before(other Id) bool {
	return id < other
}

func GenerateId() Id {
	return Id(uuid.NewString())
}

const conversationIdSeparator = "_"

// ConversationId returns the canonical identifier for the private conversation between two users. The
// result does not depend on argument order. It namespaces attachment storage; conversations are never
// looked up by it.
func ConversationId(a, b Id) string {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return strings.Join(ids, conversationIdSeparator)
}
