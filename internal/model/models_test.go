package model

import (
	"encoding/json"
	"testing"
)

func TestNormalizeDefaultsMissingContainers(t *testing.T) {
	// A record written before chat existed carries none of the optional
	// containers.
	raw := `{"id":"STAAAA01","username":"dana","points":30}`
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	u.Normalize()

	if u.Chapters == nil || len(u.Chapters) != 0 {
		t.Errorf("expected empty chapters, got %#v", u.Chapters)
	}
	if u.Friends == nil || len(u.Friends) != 0 {
		t.Errorf("expected empty friends, got %#v", u.Friends)
	}
	if u.PointsHistory.Daily == nil || u.PointsHistory.Weekly == nil || u.PointsHistory.Monthly == nil {
		t.Error("expected all history buckets initialized")
	}
	if u.DeletedMessages == nil || u.SeenMessages == nil {
		t.Error("expected chat bookkeeping maps initialized")
	}
}

func TestNormalizeKeepsExistingData(t *testing.T) {
	u := User{
		ID:      "STAAAA02",
		Friends: []string{"STBBBB01"},
		PointsHistory: PointsHistory{
			Daily: map[string]int{"2024-01-01": 10},
		},
	}
	u.Normalize()

	if len(u.Friends) != 1 || u.Friends[0] != "STBBBB01" {
		t.Errorf("friends clobbered: %#v", u.Friends)
	}
	if u.PointsHistory.Daily["2024-01-01"] != 10 {
		t.Errorf("daily bucket clobbered: %#v", u.PointsHistory.Daily)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	u := User{
		ID:       "STAAAA03",
		Chapters: []Chapter{{ID: 1, Name: "Algebra", Points: 10}},
		Friends:  []string{"STBBBB01"},
	}
	u.Normalize()

	c := u.Clone()
	c.Chapters[0].Completed = true
	c.Friends = append(c.Friends, "STCCCC01")
	c.PointsHistory.Daily["2024-01-01"] = 10
	c.SeenMessages["ch"] = 99

	if u.Chapters[0].Completed {
		t.Error("mutating the clone's chapters changed the original")
	}
	if len(u.Friends) != 1 {
		t.Error("mutating the clone's friends changed the original")
	}
	if len(u.PointsHistory.Daily) != 0 {
		t.Error("mutating the clone's history changed the original")
	}
	if len(u.SeenMessages) != 0 {
		t.Error("mutating the clone's seen map changed the original")
	}
}

func TestChannelIDDeterministic(t *testing.T) {
	pairs := [][2]string{
		{"STAAAA01", "STBBBB02"},
		{"STZZZZ99", "STAAAA01"},
		{"b", "a"},
	}
	for _, p := range pairs {
		if got, want := ChannelID(p[0], p[1]), ChannelID(p[1], p[0]); got != want {
			t.Errorf("ChannelID(%q,%q)=%q but ChannelID(%q,%q)=%q", p[0], p[1], got, p[1], p[0], want)
		}
	}
	if got := ChannelID("STBBBB02", "STAAAA01"); got != "STAAAA01_STBBBB02" {
		t.Errorf("unexpected channel id %q", got)
	}
}
