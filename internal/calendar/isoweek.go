package calendar

import "time"

// ISOWeekStart returns midnight UTC of the Monday that opens ISO week
// (year, week). ok is false when the pair does not name a real ISO week,
// e.g. week 53 of a 52-week year or a year outside 1..9999.
func ISOWeekStart(year, week int) (start time.Time, ok bool) {
	if year < 1 || year > 9999 || week < 1 || week > 53 {
		return time.Time{}, false
	}

	// January 4th is always in week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	start = jan4.AddDate(0, 0, -offset+(week-1)*7)

	if y, w := start.ISOWeek(); y != year || w != week {
		return time.Time{}, false
	}
	return start, true
}

// WeekStartOrJanFirst is ISOWeekStart with a January 1st fallback for
// invalid pairs, so a single bad week never aborts a rebuild.
func WeekStartOrJanFirst(year, week int) time.Time {
	if start, ok := ISOWeekStart(year, week); ok {
		return start
	}
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// WeekStart truncates t to midnight UTC of the Monday of its ISO week.
func WeekStart(t time.Time) time.Time {
	day := DayStart(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
