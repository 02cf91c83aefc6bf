package util

import (
	"strings"
	"testing"
	"time"
)

func TestNewUserIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewUserID()
		if len(id) != 8 || !strings.HasPrefix(id, "ST") {
			t.Fatalf("unexpected user id %q", id)
		}
		if id != strings.ToUpper(id) {
			t.Fatalf("user id not uppercase: %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 99 {
		t.Errorf("expected ids to be practically unique, got %d distinct of 100", len(seen))
	}
}

func TestNewMessageIDEmbedsTimestamp(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	a := NewMessageID(now)
	b := NewMessageID(now)
	if !strings.HasPrefix(a, "1700000000123-") {
		t.Errorf("message id %q missing millisecond prefix", a)
	}
	if a == b {
		t.Errorf("two ids from the same millisecond collided: %q", a)
	}
}
