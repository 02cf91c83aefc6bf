// Package model defines the documents the study tracker keeps in the
// remote store: one User record per account plus the chat messages
// exchanged between friends.
package model

import (
	"sort"
	"time"
)

// User is the full per-account document stored at users/{id}. The id is
// chosen at account creation and never changes afterwards.
type User struct {
	ID              string              `json:"id"`
	Username        string              `json:"username"`
	Points          int                 `json:"points"`
	Chapters        []Chapter           `json:"chapters"`
	Friends         []string            `json:"friends"`
	PointsHistory   PointsHistory       `json:"pointsHistory"`
	DeletedMessages map[string][]string `json:"deletedMessages,omitempty"`
	SeenMessages    map[string]int64    `json:"seenMessages,omitempty"`
}

// Chapter is a single study unit. Completion is a one-way transition and
// the point value is fixed when the chapter is created.
type Chapter struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Completed     bool       `json:"completed"`
	Points        int        `json:"points"`
	CompletedDate *time.Time `json:"completedDate"`
	TimeSpent     int64      `json:"timeSpent,omitempty"`
}

// PointsHistory holds point totals pre-aggregated per calendar day
// (YYYY-MM-DD), ISO week number, and calendar month (YYYY-MM).
type PointsHistory struct {
	Daily   map[string]int `json:"daily"`
	Weekly  map[int]int    `json:"weekly"`
	Monthly map[string]int `json:"monthly"`
}

// Message is one chat message under chats/{channelId}/messages.
// Timestamp and the seen watermarks are unix milliseconds from the
// sender's clock.
type Message struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Timestamp  int64  `json:"timestamp"`
}

// Normalize defaults every container that may be absent in a stored
// record. Records written by older versions of the app can miss any of
// these fields, so this runs on every load, including remote updates.
func (u *User) Normalize() {
	if u.Chapters == nil {
		u.Chapters = []Chapter{}
	}
	if u.Friends == nil {
		u.Friends = []string{}
	}
	if u.PointsHistory.Daily == nil {
		u.PointsHistory.Daily = map[string]int{}
	}
	if u.PointsHistory.Weekly == nil {
		u.PointsHistory.Weekly = map[int]int{}
	}
	if u.PointsHistory.Monthly == nil {
		u.PointsHistory.Monthly = map[string]int{}
	}
	if u.DeletedMessages == nil {
		u.DeletedMessages = map[string][]string{}
	}
	if u.SeenMessages == nil {
		u.SeenMessages = map[string]int64{}
	}
}

// Clone returns a deep copy. The engine mutates copies and installs them
// only after the store write succeeds, so shared slices or maps between
// the live record and a copy would leak uncommitted state.
func (u *User) Clone() *User {
	c := *u
	c.Chapters = make([]Chapter, len(u.Chapters))
	copy(c.Chapters, u.Chapters)
	c.Friends = make([]string, len(u.Friends))
	copy(c.Friends, u.Friends)
	c.PointsHistory = PointsHistory{
		Daily:   make(map[string]int, len(u.PointsHistory.Daily)),
		Weekly:  make(map[int]int, len(u.PointsHistory.Weekly)),
		Monthly: make(map[string]int, len(u.PointsHistory.Monthly)),
	}
	for k, v := range u.PointsHistory.Daily {
		c.PointsHistory.Daily[k] = v
	}
	for k, v := range u.PointsHistory.Weekly {
		c.PointsHistory.Weekly[k] = v
	}
	for k, v := range u.PointsHistory.Monthly {
		c.PointsHistory.Monthly[k] = v
	}
	c.DeletedMessages = make(map[string][]string, len(u.DeletedMessages))
	for k, v := range u.DeletedMessages {
		ids := make([]string, len(v))
		copy(ids, v)
		c.DeletedMessages[k] = ids
	}
	c.SeenMessages = make(map[string]int64, len(u.SeenMessages))
	for k, v := range u.SeenMessages {
		c.SeenMessages[k] = v
	}
	return &c
}

// HasFriend reports whether id is already in the friend list.
func (u *User) HasFriend(id string) bool {
	for _, f := range u.Friends {
		if f == id {
			return true
		}
	}
	return false
}

// ChannelID derives the chat channel shared by two users. Both sides
// compute the same id without coordination because the pair is sorted
// before joining.
func ChannelID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}
