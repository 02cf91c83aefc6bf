package ledger

import (
	"fmt"
	"time"

	"studytrack/internal/model"
)

// Point is one bar of a stats chart.
type Point struct {
	Label string
	Value int
}

// DailySeries returns the last seven days of earned points, oldest
// first, zero-filled for days with no completions. Labels are short
// weekday names.
func DailySeries(h model.PointsHistory, now time.Time) []Point {
	series := make([]Point, 0, 7)
	for i := 6; i >= 0; i-- {
		day := now.UTC().AddDate(0, 0, -i)
		series = append(series, Point{
			Label: day.Format("Mon"),
			Value: h.Daily[DayKey(day)],
		})
	}
	return series
}

// WeeklySeries returns the last four ISO weeks of earned points, oldest
// first.
func WeeklySeries(h model.PointsHistory, now time.Time) []Point {
	series := make([]Point, 0, 4)
	for i := 3; i >= 0; i-- {
		day := now.UTC().AddDate(0, 0, -i*7)
		week := WeekNumber(day)
		series = append(series, Point{
			Label: fmt.Sprintf("Week %d", week),
			Value: h.Weekly[week],
		})
	}
	return series
}

// MonthlySeries returns the last six calendar months of earned points,
// oldest first. Months are anchored to their first day before stepping
// back so a late-month "now" cannot skip short months.
func MonthlySeries(h model.PointsHistory, now time.Time) []Point {
	y, m, _ := now.UTC().Date()
	series := make([]Point, 0, 6)
	for i := 5; i >= 0; i-- {
		month := time.Date(y, m-time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		series = append(series, Point{
			Label: month.Format("Jan"),
			Value: h.Monthly[MonthKey(month)],
		})
	}
	return series
}
