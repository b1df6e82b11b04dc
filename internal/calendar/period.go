// Package calendar derives period keys for transaction reports.
//
// Every period has two keys. The ISO key is the Gregorian identity of the
// bucket (YYYY-MM-DD, YYYY-Www or YYYY-MM) and sorts lexicographically in
// chronological order. The local key renders the same instant in the
// Jalali calendar for display and must never be used for identity or
// ordering.
package calendar

import (
	"fmt"
	"time"
)

// PeriodType is the bucketing granularity of a report.
type PeriodType string

const (
	Daily   PeriodType = "daily"
	Weekly  PeriodType = "weekly"
	Monthly PeriodType = "monthly"
)

// PeriodTypes lists the supported granularities, finest first.
var PeriodTypes = []PeriodType{Daily, Weekly, Monthly}

// Valid reports whether p is one of the supported granularities.
func (p PeriodType) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer
func (p PeriodType) String() string {
	return string(p)
}

// ParsePeriodType parses a granularity name.
func ParsePeriodType(s string) (PeriodType, error) {
	p := PeriodType(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid period type %q: must be one of %v", s, PeriodTypes)
	}
	return p, nil
}

// PeriodKey identifies a period bucket in both calendars.
type PeriodKey struct {
	PeriodType PeriodType
	ISOKey     string
	LocalKey   string
}

// Derive returns the period key of t for the given granularity.
// Unknown granularities are rendered as daily.
func Derive(t time.Time, p PeriodType) PeriodKey {
	return PeriodKey{
		PeriodType: p,
		ISOKey:     ISOKey(t, p),
		LocalKey:   LocalKey(t, p),
	}
}

// ISOKey returns the Gregorian bucket key of t.
func ISOKey(t time.Time, p PeriodType) string {
	t = t.UTC()
	switch p {
	case Weekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case Monthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// LocalKey returns the Jalali display key of t.
func LocalKey(t time.Time, p PeriodType) string {
	j := ToJalali(t)
	switch p {
	case Weekly:
		return fmt.Sprintf("هفته %d سال %d", j.WeekOfYear(), j.Year)
	case Monthly:
		return fmt.Sprintf("%d %s", j.Year, j.MonthName())
	default:
		return fmt.Sprintf("%04d/%02d/%02d", j.Year, j.Month, j.Day)
	}
}

// DayStart truncates t to midnight UTC of its calendar day.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart truncates t to midnight UTC of the first day of its month.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
