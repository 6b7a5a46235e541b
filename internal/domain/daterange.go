package domain

import (
	"errors"
	"fmt"
	"time"
)

// MaxRangeDays is the widest window the Flex service accepts for a single
// statement request.
const MaxRangeDays = 365

// ErrInvalidRange reports a date range whose start falls after its end.
var ErrInvalidRange = errors.New("invalid date range")

// DateRange is an inclusive span of civil days.
type DateRange struct {
	From Date
	To   Date
}

// NewDateRange builds a range, rejecting spans whose start falls after the end.
func NewDateRange(from, to Date) (DateRange, error) {
	if from.After(to) {
		return DateRange{}, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	return DateRange{From: from, To: to}, nil
}

// Days returns the number of days between the range endpoints.
func (r DateRange) Days() int { return r.From.DaysUntil(r.To) }

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day Date) bool {
	return !day.Before(r.From) && !day.After(r.To)
}

// Year returns the calendar year of the range start. Ranges produced by the
// splitters never straddle a year boundary.
func (r DateRange) Year() int { return r.From.Year() }

// String formats the range as its two endpoints.
func (r DateRange) String() string { return r.From.String() + ".." + r.To.String() }

// SplitYears returns one range per calendar year from January 1 of startYear
// through today, ascending and contiguous. Completed years run January 1 to
// December 31; the current year ends at today so no request reaches into the
// future.
func SplitYears(startYear int, today Date) ([]DateRange, error) {
	return SplitRange(NewDate(startYear, time.January, 1), today)
}

// SplitRange splits [from, to] into per-calendar-year ranges in ascending
// order. The first range may begin mid-year; the last is capped at to.
// Consecutive ranges are contiguous (each starts the day after its
// predecessor ends) and every range spans at most MaxRangeDays days.
func SplitRange(from, to Date) ([]DateRange, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidRange, from, to)
	}
	var ranges []DateRange
	start := from
	for start.Year() < to.Year() {
		end := NewDate(start.Year(), time.December, 31)
		ranges = append(ranges, DateRange{From: start, To: end})
		start = end.AddDays(1)
	}
	ranges = append(ranges, DateRange{From: start, To: to})
	return ranges, nil
}
