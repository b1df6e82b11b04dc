package calendar

import "time"

// JalaliDate is a date in the Solar Hijri (Persian) calendar.
type JalaliDate struct {
	Year  int
	Month int // 1-12
	Day   int // 1-31
}

// Years at which the 33-year leap cycle shifts. Conversion is exact
// for Jalali years in [-61, 3178).
var jalaliBreaks = [...]int{
	-61, 9, 38, 199, 426, 686, 756, 818, 1111, 1181, 1210,
	1635, 2060, 2097, 2192, 2262, 2324, 2394, 2456, 3178,
}

// jalaliMonthNames are the Persian month names, Farvardin first.
var jalaliMonthNames = [12]string{
	"فروردین",
	"اردیبهشت",
	"خرداد",
	"تیر",
	"مرداد",
	"شهریور",
	"مهر",
	"آبان",
	"آذر",
	"دی",
	"بهمن",
	"اسفند",
}

// MonthName returns the Persian name of the date's month.
func (d JalaliDate) MonthName() string {
	if d.Month < 1 || d.Month > 12 {
		return ""
	}
	return jalaliMonthNames[d.Month-1]
}

// DayOfYear returns the 1-based ordinal day within the Jalali year.
// The first six months have 31 days, the next five 30, Esfand 29 or 30.
func (d JalaliDate) DayOfYear() int {
	if d.Month <= 6 {
		return (d.Month-1)*31 + d.Day
	}
	return 186 + (d.Month-7)*30 + d.Day
}

// WeekOfYear is the Jalali week index ((DayOfYear-1)/7)+1. It counts from
// 1 Farvardin and is unrelated to ISO week numbering.
func (d JalaliDate) WeekOfYear() int {
	return (d.DayOfYear()-1)/7 + 1
}

// ToJalali converts the UTC calendar day of t to the Jalali calendar.
func ToJalali(t time.Time) JalaliDate {
	gy, gm, gd := t.UTC().Date()

	jdn := gregorianToJDN(gy, int(gm), gd)
	jy := gy - 621
	leap, march := jalaliYearInfo(jy)
	farvardin1 := gregorianToJDN(gy, 3, march)

	k := jdn - farvardin1
	if k >= 0 {
		if k <= 185 {
			return JalaliDate{Year: jy, Month: 1 + k/31, Day: k%31 + 1}
		}
		k -= 186
	} else {
		// Still in the previous Jalali year (Dey to Esfand).
		jy--
		k += 179
		if leap == 1 {
			k++
		}
	}
	return JalaliDate{Year: jy, Month: 7 + k/30, Day: k%30 + 1}
}

// FromJalali returns midnight UTC of the Gregorian day matching the Jalali date.
func FromJalali(jy, jm, jd int) time.Time {
	_, march := jalaliYearInfo(jy)
	start := time.Date(jy+621, time.March, march, 0, 0, 0, 0, time.UTC)
	offset := (jm-1)*31 - (jm/7)*(jm-7) + jd - 1
	return start.AddDate(0, 0, offset)
}

// IsJalaliLeapYear reports whether Esfand of jy has 30 days.
func IsJalaliLeapYear(jy int) bool {
	leap, _ := jalaliYearInfo(jy)
	return leap == 0
}

// jalaliYearInfo returns the number of years since the last leap year
// (0 means jy itself is leap) and the March day in Gregorian year jy+621
// on which 1 Farvardin of jy falls.
func jalaliYearInfo(jy int) (leap, march int) {
	gy := jy + 621
	leapJ := -14
	jp := jalaliBreaks[0]
	jump := 0

	for i := 1; i < len(jalaliBreaks); i++ {
		jm := jalaliBreaks[i]
		jump = jm - jp
		if jy < jm {
			break
		}
		leapJ += jump/33*8 + (jump%33)/4
		jp = jm
	}
	n := jy - jp

	leapJ += n/33*8 + (n%33+3)/4
	if jump%33 == 4 && jump-n == 4 {
		leapJ++
	}

	leapG := gy/4 - (gy/100+1)*3/4 - 150
	march = 20 + leapJ - leapG

	if jump-n < 6 {
		n = n - jump + (jump+4)/33*33
	}
	leap = ((n+1)%33 - 1) % 4
	if leap == -1 {
		leap = 4
	}
	return leap, march
}

// gregorianToJDN returns the Julian Day Number of a proleptic Gregorian date.
func gregorianToJDN(gy, gm, gd int) int {
	d := (gy+(gm-8)/6+100100)*1461/4 + (153*((gm+9)%12)+2)/5 + gd - 34840408
	return d - (gy+100100+(gm-8)/6)/100*3/4 + 752
}
