// Package chat implements the per-pair message channels layered on the
// document store. Messages are shared between both participants;
// soft-deletes and seen watermarks are private bookkeeping on the
// viewer's own user record, persisted through the session engine.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"studytrack/internal/docstore"
	"studytrack/internal/model"
	"studytrack/internal/util"
)

// session is the slice of the engine the chat subsystem needs: the
// current viewer record and a way to mutate-and-persist it.
type session interface {
	CurrentUser() (model.User, bool)
	Apply(ctx context.Context, mutate func(*model.User) bool) error
}

type Service struct {
	store   docstore.Store
	session session

	mu     sync.Mutex
	active string // channel currently on screen, unseen count forced to 0
}

func New(store docstore.Store, sess session) *Service {
	return &Service{store: store, session: sess}
}

// SetActive records which channel the viewer is looking at right now.
// Pass "" when no chat is open.
func (s *Service) SetActive(channelID string) {
	s.mu.Lock()
	s.active = channelID
	s.mu.Unlock()
}

// Send appends a message to the channel. Blank text is dropped without
// an error. There is no delivery acknowledgment beyond the store write.
func (s *Service) Send(ctx context.Context, channelID, senderID, senderName, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	now := time.Now()
	msg := model.Message{
		ID:         util.NewMessageID(now),
		Text:       text,
		SenderID:   senderID,
		SenderName: senderName,
		Timestamp:  now.UnixMilli(),
	}
	if err := s.store.Push(ctx, docstore.MessagesPath(channelID), msg.ID, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Messages returns the channel's messages as the current viewer sees
// them: soft-deleted ids filtered out, sorted by timestamp ascending.
// The store does not guarantee order.
func (s *Service) Messages(ctx context.Context, channelID string) ([]model.Message, error) {
	docs, err := s.store.List(ctx, docstore.MessagesPath(channelID))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]model.Message, 0, len(docs))
	for _, doc := range docs {
		var msg model.Message
		if err := json.Unmarshal(doc, &msg); err != nil {
			log.Printf("chat: skipping malformed message in %s: %v", channelID, err)
			continue
		}
		msgs = append(msgs, msg)
	}

	var deleted []string
	if viewer, ok := s.session.CurrentUser(); ok {
		deleted = viewer.DeletedMessages[channelID]
	}
	return VisibleMessages(msgs, deleted), nil
}

// Subscribe watches the channel and hands the viewer's filtered, sorted
// message list to onUpdate on every change, starting with the current
// state. The returned cancel stops delivery.
func (s *Service) Subscribe(ctx context.Context, channelID string, onUpdate func([]model.Message)) (docstore.CancelFunc, error) {
	deliver := func() {
		msgs, err := s.Messages(ctx, channelID)
		if err != nil {
			log.Printf("chat: refresh %s: %v", channelID, err)
			return
		}
		onUpdate(msgs)
	}

	cancel, err := s.store.Watch(ctx, docstore.MessagesPath(channelID), func(json.RawMessage) {
		deliver()
	})
	if err != nil {
		return nil, fmt.Errorf("watch channel %s: %w", channelID, err)
	}
	deliver()
	return cancel, nil
}

// DeleteForSelf hides the message for the current viewer only. The
// shared message is untouched; the id lands in the viewer's
// deletedMessages set and the record is persisted.
func (s *Service) DeleteForSelf(ctx context.Context, channelID, messageID string) error {
	return s.session.Apply(ctx, func(u *model.User) bool {
		for _, id := range u.DeletedMessages[channelID] {
			if id == messageID {
				return false
			}
		}
		u.DeletedMessages[channelID] = append(u.DeletedMessages[channelID], messageID)
		return true
	})
}

// DeleteForEveryone removes the message from the shared store. Only the
// original sender should reach this; nothing enforces it server-side,
// the presentation layer exposes the action to the sender alone.
func (s *Service) DeleteForEveryone(ctx context.Context, channelID, messageID string) error {
	if err := s.store.DeleteChild(ctx, docstore.MessagesPath(channelID), messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// MarkSeen moves the viewer's seen watermark for the channel to now and
// persists the record.
func (s *Service) MarkSeen(ctx context.Context, channelID string, now time.Time) error {
	watermark := now.UnixMilli()
	return s.session.Apply(ctx, func(u *model.User) bool {
		if u.SeenMessages[channelID] == watermark {
			return false
		}
		u.SeenMessages[channelID] = watermark
		return true
	})
}

// UnseenCount returns how many messages in the channel the viewer has
// not seen. The channel currently on screen always counts zero: viewing
// implies seen even before the MarkSeen write lands.
func (s *Service) UnseenCount(channelID string, msgs []model.Message, viewerID string, lastSeen int64) int {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if channelID == active {
		return 0
	}
	return CountUnseen(msgs, viewerID, lastSeen)
}

// VisibleMessages filters out the viewer's soft-deleted ids and sorts
// the rest by timestamp ascending.
func VisibleMessages(msgs []model.Message, deleted []string) []model.Message {
	hidden := make(map[string]bool, len(deleted))
	for _, id := range deleted {
		hidden[id] = true
	}

	visible := make([]model.Message, 0, len(msgs))
	for _, msg := range msgs {
		if !hidden[msg.ID] {
			visible = append(visible, msg)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].Timestamp < visible[j].Timestamp
	})
	return visible
}

// CountUnseen counts messages from other senders newer than the
// viewer's seen watermark.
func CountUnseen(msgs []model.Message, viewerID string, lastSeen int64) int {
	count := 0
	for _, msg := range msgs {
		if msg.SenderID != viewerID && msg.Timestamp > lastSeen {
			count++
		}
	}
	return count
}
