package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ISODateFormat is the canonical day format used in cache keys, logs, and reports.
const ISODateFormat = "2006-01-02"

// FlexDateFormat is the compact day format the Flex service uses in request
// parameters and statement attributes.
const FlexDateFormat = "20060102"

// Date represents a civil day with no time-of-day or zone component.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalized Date for the given year, month, and day.
func NewDate(year int, month time.Month, day int) Date {
	d := Date{year, month, day}
	d.y, d.m, d.d = d.time().Date()
	return d
}

// DateOf truncates t to its civil day.
func DateOf(t time.Time) Date { return NewDate(t.Date()) }

// time returns the canonical representation of the day (midnight UTC).
func (d Date) time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

// Time returns the day as a time.Time at midnight UTC.
func (d Date) Time() time.Time { return d.time() }

// Year returns the calendar year.
func (d Date) Year() int { return d.y }

// Month returns the month of the date.
func (d Date) Month() time.Month { return d.m }

// DayOfMonth returns the day of the month.
func (d Date) DayOfMonth() int { return d.d }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d == Date{} }

// Before reports whether d falls before x.
func (d Date) Before(x Date) bool { return d.time().Before(x.time()) }

// After reports whether d falls after x.
func (d Date) After(x Date) bool { return d.time().After(x.time()) }

// Equal reports whether d and x are the same day.
func (d Date) Equal(x Date) bool { return d == x }

// AddDays returns a new Date with the given number of days added.
func (d Date) AddDays(n int) Date { return NewDate(d.y, d.m, d.d+n) }

// DaysUntil returns the number of days from d to x (negative if x is earlier).
func (d Date) DaysUntil(x Date) int {
	return int(x.time().Sub(d.time()) / (24 * time.Hour))
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string { return d.time().Format(ISODateFormat) }

// FlexString formats the date as YYYYMMDD for Flex request parameters.
func (d Date) FlexString() string { return d.time().Format(FlexDateFormat) }

// ParseDate parses a YYYY-MM-DD day string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(ISODateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, want format %q: %w", s, ISODateFormat, err)
	}
	return DateOf(t), nil
}

// ParseFlexDate parses a day from a Flex statement attribute. It accepts
// YYYYMMDD, YYYY-MM-DD, and timestamp forms like YYYYMMDD;HHMMSS, keeping
// only the day half.
func ParseFlexDate(s string) (Date, error) {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	if t, err := time.Parse(FlexDateFormat, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(ISODateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid statement date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is like ParseDate but panics on error. Intended for tests and
// constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

// MarshalJSON encodes the date as a YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
