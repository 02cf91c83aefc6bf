// Package ledger holds the pure point-accounting logic: chapter
// completion, the bucketed daily/weekly/monthly history, and the series
// the stats charts are drawn from. Nothing here touches the store; the
// caller persists the mutated record.
package ledger

import (
	"time"

	"studytrack/internal/model"
)

// CompleteChapter marks the chapter as done, awards its points, and
// increments the three history buckets for now's day, ISO week, and
// month. A missing or already-completed chapter is a no-op, so calling
// this twice never double-awards.
func CompleteChapter(u *model.User, chapterID int64, now time.Time) bool {
	for i := range u.Chapters {
		ch := &u.Chapters[i]
		if ch.ID != chapterID {
			continue
		}
		if ch.Completed {
			return false
		}
		done := now.UTC()
		ch.Completed = true
		ch.CompletedDate = &done
		u.Points += ch.Points
		u.PointsHistory.Daily[DayKey(now)] += ch.Points
		u.PointsHistory.Weekly[WeekNumber(now)] += ch.Points
		u.PointsHistory.Monthly[MonthKey(now)] += ch.Points
		return true
	}
	return false
}

// DayKey returns the daily history bucket key for t, UTC-normalized.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthKey returns the monthly history bucket key for t, UTC-normalized.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// WeekNumber returns the ISO-8601 week-of-year for t: shift the date to
// the Thursday of its own week, then count seven-day blocks from that
// year's January 1st. History buckets are keyed by this value, so the
// arithmetic must stay exactly as written.
func WeekNumber(t time.Time) int {
	y, m, d := t.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	thursday := day.AddDate(0, 0, 4-weekday)
	yearStart := time.Date(thursday.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	days := int(thursday.Sub(yearStart) / (24 * time.Hour))
	return (days + 1 + 6) / 7
}

// Totals summarizes a record for the stats header: chapter count,
// completed count, and the point total.
func Totals(u *model.User) (chapters, completed, points int) {
	for _, ch := range u.Chapters {
		if ch.Completed {
			completed++
		}
	}
	return len(u.Chapters), completed, u.Points
}
