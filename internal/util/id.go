package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const userIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewUserID returns a fresh account identifier: "ST" followed by six
// random base-36 characters, uppercased. Identifiers are shared between
// friends by hand, so they are kept short.
func NewUserID() string {
	bytes := make([]byte, 6)
	_, _ = rand.Read(bytes)
	id := make([]byte, 6)
	for i, b := range bytes {
		id[i] = userIDAlphabet[int(b)%len(userIDAlphabet)]
	}
	return "ST" + string(id)
}

// NewMessageID returns a channel-unique message identifier composed of
// the current unix milliseconds and a random suffix. The suffix keeps two
// messages sent in the same millisecond from colliding.
func NewMessageID(now time.Time) string {
	bytes := make([]byte, 4)
	_, _ = rand.Read(bytes)
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(bytes))
}
