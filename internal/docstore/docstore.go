// Package docstore provides the document database the study tracker
// syncs against: JSON documents addressed by path, append-only message
// collections, and continuous watches that redeliver a document's full
// value on every change. Watches also deliver the watcher's own writes
// back to it; the sync engine's suppression window exists because of
// that echo.
package docstore

import (
	"context"
	"encoding/json"
)

// CancelFunc stops a watch. Safe to call more than once.
type CancelFunc func()

// Store is the narrow surface of the remote database the rest of the
// system depends on.
type Store interface {
	// Get reads the document at path into dst. Returns false with a nil
	// error when no document exists there.
	Get(ctx context.Context, path string, dst any) (bool, error)
	// Set replaces the document at path.
	Set(ctx context.Context, path string, doc any) error
	// Update merges top-level fields into the document at path, creating
	// it if absent.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes the document at path.
	Delete(ctx context.Context, path string) error

	// Push appends a child document with the given id under the
	// collection at path.
	Push(ctx context.Context, path, id string, doc any) error
	// List returns every child document in the collection at path, in no
	// particular order.
	List(ctx context.Context, path string) ([]json.RawMessage, error)
	// DeleteChild removes one child document from the collection at path.
	DeleteChild(ctx context.Context, path, id string) error

	// Watch invokes fn every time the document or collection at path
	// changes. For document paths fn receives the new full value; for
	// collection paths the payload is empty and the watcher re-lists.
	Watch(ctx context.Context, path string, fn func(json.RawMessage)) (CancelFunc, error)

	Ping(ctx context.Context) error
	Close() error
}

// UserPath addresses the record for one account.
func UserPath(id string) string {
	return "users/" + id
}

// MessagesPath addresses the message collection of one chat channel.
func MessagesPath(channelID string) string {
	return "chats/" + channelID + "/messages"
}
