package domain

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a lexicographically sortable unique identifier. Used for
// conversations, messages, streams, and tool calls so persisted rows sort by
// creation time without a secondary index.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
