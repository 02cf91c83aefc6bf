// Package engine owns the logged-in session: it reads, writes, and
// watches the user's document, arbitrates between local optimistic
// writes and remote watch callbacks, and exposes the mutation operations
// the presentation layer calls.
//
// The store's watch mechanism echoes the session's own writes back to
// it. After every persist the engine suppresses incoming watch updates
// for a short grace window so a just-written value racing rapid local
// mutations cannot stomp newer in-memory state. Two devices writing
// inside the same window can still silently lose one write; the store
// carries no revision tokens, so that race is not detectable here.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"studytrack/internal/config"
	"studytrack/internal/docstore"
	"studytrack/internal/ledger"
	"studytrack/internal/model"
)

// State tracks the session lifecycle. Failures during authentication
// revert straight to LoggedOut; there is no separate error state.
type State int

const (
	LoggedOut State = iota
	Authenticating
	Synced
)

const (
	defaultGraceWindow = 500 * time.Millisecond
	chapterPoints      = 10
)

type Engine struct {
	store docstore.Store
	grace time.Duration

	mu            sync.Mutex
	state         State
	user          *model.User
	writeInFlight bool
	graceTimer    *time.Timer
	ownCancel     docstore.CancelFunc
	friendCancels []docstore.CancelFunc

	onChange       func(model.User)
	onFriendChange func(friendID string)
}

func New(cfg config.Config, store docstore.Store) *Engine {
	grace := cfg.WriteGraceWindow
	if grace <= 0 {
		grace = defaultGraceWindow
	}
	return &Engine{store: store, grace: grace}
}

// OnChange registers the observer notified whenever a remote update
// replaces the in-memory record.
func (e *Engine) OnChange(fn func(model.User)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// OnFriendChange registers the observer notified whenever a watched
// friend's document changes. Friend data is never merged into the local
// record; observers re-fetch what they need.
func (e *Engine) OnFriendChange(fn func(friendID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFriendChange = fn
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentUser returns a copy of the session record.
func (e *Engine) CurrentUser() (model.User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.user == nil {
		return model.User{}, false
	}
	return *e.user.Clone(), true
}

// Authenticate loads the record at id, or creates a fresh one when none
// exists. A stored username wins over the entered one. On success the
// session is Synced and the engine watches its own document and every
// friend's. Store failures surface to the caller, who may retry.
func (e *Engine) Authenticate(ctx context.Context, id, username string) (model.User, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	username = strings.TrimSpace(username)
	if id == "" {
		return model.User{}, validationError("user id must not be empty")
	}
	if username == "" {
		return model.User{}, validationError("username must not be empty")
	}

	if err := e.beginAuth(); err != nil {
		return model.User{}, err
	}

	user := &model.User{}
	found, err := e.store.Get(ctx, docstore.UserPath(id), user)
	if err != nil {
		e.setState(LoggedOut)
		return model.User{}, fmt.Errorf("load user %s: %w", id, err)
	}
	if found {
		user.Normalize()
	} else {
		user = &model.User{ID: id, Username: username}
		user.Normalize()
		if err := e.store.Set(ctx, docstore.UserPath(id), user); err != nil {
			e.setState(LoggedOut)
			return model.User{}, fmt.Errorf("create user %s: %w", id, err)
		}
	}

	return e.start(ctx, user)
}

// Resume restores the session saved from a previous run. Unlike
// Authenticate it never creates an account: a missing record reports
// found=false so the caller can clear its resume slot.
func (e *Engine) Resume(ctx context.Context, id string) (model.User, bool, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return model.User{}, false, validationError("user id must not be empty")
	}

	if err := e.beginAuth(); err != nil {
		return model.User{}, false, err
	}

	user := &model.User{}
	found, err := e.store.Get(ctx, docstore.UserPath(id), user)
	if err != nil {
		e.setState(LoggedOut)
		return model.User{}, false, fmt.Errorf("load user %s: %w", id, err)
	}
	if !found {
		e.setState(LoggedOut)
		return model.User{}, false, nil
	}
	user.Normalize()

	restored, err := e.start(ctx, user)
	return restored, err == nil, err
}

func (e *Engine) beginAuth() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != LoggedOut {
		return fmt.Errorf("session already active")
	}
	e.state = Authenticating
	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) start(ctx context.Context, user *model.User) (model.User, error) {
	cancel, err := e.store.Watch(ctx, docstore.UserPath(user.ID), e.handleOwnUpdate)
	if err != nil {
		e.setState(LoggedOut)
		return model.User{}, fmt.Errorf("watch user %s: %w", user.ID, err)
	}

	e.mu.Lock()
	e.user = user
	e.state = Synced
	e.ownCancel = cancel
	e.mu.Unlock()

	e.rewatchFriends(ctx)
	return *user.Clone(), nil
}

// handleOwnUpdate is the watch callback for the session's own document.
// Updates arriving while a write is in flight are discarded; otherwise
// the incoming record is normalized, structurally compared, and applied
// only when it actually differs.
func (e *Engine) handleOwnUpdate(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}

	e.mu.Lock()
	if e.state != Synced {
		e.mu.Unlock()
		return
	}
	if e.writeInFlight {
		e.mu.Unlock()
		return
	}

	incoming := &model.User{}
	if err := json.Unmarshal(raw, incoming); err != nil {
		e.mu.Unlock()
		log.Printf("engine: discarding malformed remote update: %v", err)
		return
	}
	incoming.Normalize()

	if reflect.DeepEqual(e.user, incoming) {
		e.mu.Unlock()
		return
	}
	e.user = incoming
	fn := e.onChange
	snapshot := *incoming.Clone()
	e.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Apply runs mutate on a copy of the session record and persists it.
// The copy becomes the in-memory record only after the store write
// succeeds: persist is the commit point, and a failed write leaves the
// session unchanged. A mutate returning false skips the write entirely.
func (e *Engine) Apply(ctx context.Context, mutate func(*model.User) bool) error {
	e.mu.Lock()
	if e.state != Synced || e.user == nil {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}
	updated := e.user.Clone()
	e.mu.Unlock()

	if !mutate(updated) {
		return nil
	}

	e.mu.Lock()
	e.writeInFlight = true
	e.mu.Unlock()

	if err := e.store.Set(ctx, docstore.UserPath(updated.ID), updated); err != nil {
		e.mu.Lock()
		e.writeInFlight = false
		e.mu.Unlock()
		return fmt.Errorf("persist user %s: %w", updated.ID, err)
	}

	e.mu.Lock()
	e.user = updated
	e.scheduleGraceClearLocked()
	e.mu.Unlock()
	return nil
}

// scheduleGraceClearLocked keeps the write-in-flight flag up for the
// grace window so the store's echo of this write is discarded. Called
// with e.mu held.
func (e *Engine) scheduleGraceClearLocked() {
	if e.graceTimer != nil {
		e.graceTimer.Stop()
	}
	e.graceTimer = time.AfterFunc(e.grace, func() {
		e.mu.Lock()
		e.writeInFlight = false
		e.mu.Unlock()
	})
}

// AddChapter appends a pending chapter worth the fixed point value.
// Chapter ids are creation-time milliseconds, bumped past any existing
// id so two chapters created in the same millisecond stay distinct.
func (e *Engine) AddChapter(ctx context.Context, name, description string) (model.Chapter, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Chapter{}, validationError("chapter name must not be empty")
	}

	var created model.Chapter
	err := e.Apply(ctx, func(u *model.User) bool {
		id := time.Now().UnixMilli()
		for _, ch := range u.Chapters {
			if ch.ID >= id {
				id = ch.ID + 1
			}
		}
		created = model.Chapter{
			ID:          id,
			Name:        name,
			Description: strings.TrimSpace(description),
			Points:      chapterPoints,
		}
		u.Chapters = append(u.Chapters, created)
		return true
	})
	if err != nil {
		return model.Chapter{}, err
	}
	return created, nil
}

// CompleteChapter marks a chapter done and awards its points. Completing
// an unknown or already-completed chapter is a no-op and does not write.
func (e *Engine) CompleteChapter(ctx context.Context, chapterID int64) (bool, error) {
	changed := false
	err := e.Apply(ctx, func(u *model.User) bool {
		changed = ledger.CompleteChapter(u, chapterID, time.Now())
		return changed
	})
	return changed, err
}

// AddFriend validates and appends a friend id. The relationship is one
// way: the friend's record is untouched. On success the friend watches
// are re-established to cover the new id.
func (e *Engine) AddFriend(ctx context.Context, friendID string) error {
	friendID = strings.ToUpper(strings.TrimSpace(friendID))
	if friendID == "" {
		return validationError("friend id must not be empty")
	}

	e.mu.Lock()
	if e.state != Synced || e.user == nil {
		e.mu.Unlock()
		return ErrNotAuthenticated
	}
	if e.user.ID == friendID {
		e.mu.Unlock()
		return validationError("you cannot add yourself as a friend")
	}
	if e.user.HasFriend(friendID) {
		e.mu.Unlock()
		return validationError("this friend is already added")
	}
	e.mu.Unlock()

	profile, err := e.FetchProfile(ctx, friendID)
	if err != nil {
		return fmt.Errorf("look up friend %s: %w", friendID, err)
	}
	if profile == nil {
		return validationError("no user found with that id")
	}

	err = e.Apply(ctx, func(u *model.User) bool {
		if u.ID == friendID || u.HasFriend(friendID) {
			return false
		}
		u.Friends = append(u.Friends, friendID)
		return true
	})
	if err != nil {
		return err
	}

	e.rewatchFriends(ctx)
	return nil
}

// FetchProfile reads any user's record by id. A missing record is
// (nil, nil), not an error.
func (e *Engine) FetchProfile(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	found, err := e.store.Get(ctx, docstore.UserPath(id), user)
	if err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	user.Normalize()
	return user, nil
}

// FriendProfiles fetches each friend's record, skipping ids that are
// missing or unreachable. Friend refresh is best effort.
func (e *Engine) FriendProfiles(ctx context.Context) []model.User {
	e.mu.Lock()
	var friends []string
	if e.user != nil {
		friends = append(friends, e.user.Friends...)
	}
	e.mu.Unlock()

	profiles := make([]model.User, 0, len(friends))
	for _, id := range friends {
		profile, err := e.FetchProfile(ctx, id)
		if err != nil {
			log.Printf("engine: skipping friend %s: %v", id, err)
			continue
		}
		if profile == nil {
			continue
		}
		profiles = append(profiles, *profile)
	}
	return profiles
}

// Leaderboard returns the session user plus every reachable friend,
// sorted by points descending. Ties keep fetch order.
func (e *Engine) Leaderboard(ctx context.Context) ([]model.User, error) {
	self, ok := e.CurrentUser()
	if !ok {
		return nil, ErrNotAuthenticated
	}

	board := append([]model.User{self}, e.FriendProfiles(ctx)...)
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].Points > board[j].Points
	})
	return board, nil
}

// rewatchFriends tears down every per-friend watch and establishes one
// per current friend id. Watches are per-identifier, so any change to
// the friend set has to rebuild the whole set; reusing stale watches
// would leak duplicate callbacks.
func (e *Engine) rewatchFriends(ctx context.Context) {
	e.mu.Lock()
	stale := e.friendCancels
	e.friendCancels = nil
	var friends []string
	if e.user != nil {
		friends = append(friends, e.user.Friends...)
	}
	e.mu.Unlock()

	for _, cancel := range stale {
		cancel()
	}

	fresh := make([]docstore.CancelFunc, 0, len(friends))
	for _, id := range friends {
		id := id
		cancel, err := e.store.Watch(ctx, docstore.UserPath(id), func(json.RawMessage) {
			e.mu.Lock()
			fn := e.onFriendChange
			e.mu.Unlock()
			if fn != nil {
				fn(id)
			}
		})
		if err != nil {
			log.Printf("engine: cannot watch friend %s: %v", id, err)
			continue
		}
		fresh = append(fresh, cancel)
	}

	e.mu.Lock()
	if e.state != Synced {
		e.mu.Unlock()
		for _, cancel := range fresh {
			cancel()
		}
		return
	}
	e.friendCancels = fresh
	e.mu.Unlock()
}

// Teardown unsubscribes every active watch and drops the session.
// Idempotent; safe on an already-torn-down engine.
func (e *Engine) Teardown() {
	e.mu.Lock()
	cancels := append([]docstore.CancelFunc{}, e.friendCancels...)
	if e.ownCancel != nil {
		cancels = append(cancels, e.ownCancel)
	}
	e.friendCancels = nil
	e.ownCancel = nil
	e.user = nil
	e.state = LoggedOut
	e.writeInFlight = false
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
