/*
time.go - Calendar dates and the business-day calculator

PURPOSE:
  Leave is requested in whole calendar days. Date wraps time.Time at day
  granularity (UTC midnight) so comparisons never trip over clocks or zones.

BUSINESS DAYS:
  BusinessDays counts the weekdays (Monday-Friday) in an inclusive range.
  There is no holiday awareness: a public holiday on a Wednesday still
  counts as one day of leave.

    Mon 2025-03-10 .. Fri 2025-03-14  = 5
    Sat 2025-03-15 .. Sun 2025-03-16  = 0
    Fri 2025-03-14 .. Mon 2025-03-17  = 2

  The calculator is pure and safe for concurrent use.

SEE ALSO:
  - request.go: NewLeaveRequest derives DaysRequested from these functions
  - overlap.go: closed-interval overlap on Date ranges
*/
package leave

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for every date accepted or returned.
const DateLayout = "2006-01-02"

// =============================================================================
// DATE - Day-granularity calendar date
// =============================================================================

type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string. Impossible dates (2025-02-30) and
// any other layout fail with ErrInvalidDate.
func ParseDate(s string) (Date, error) {
	trimmed := strings.TrimSpace(s)
	t, err := time.ParseInLocation(DateLayout, trimmed, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q, expected YYYY-MM-DD", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// Comparison
func (d Date) Before(other Date) bool       { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool        { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool        { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

// Properties
func (d Date) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Date) IsWeekend() bool       { wd := d.Weekday(); return wd == time.Saturday || wd == time.Sunday }
func (d Date) IsWorkday() bool       { return !d.IsWeekend() }
func (d Date) IsZero() bool          { return d.Time.IsZero() }
func (d Date) String() string        { return d.Time.Format(DateLayout) }

// DaysBetween returns the number of calendar days from 'from' to 'to'.
func DaysBetween(from, to Date) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// =============================================================================
// BUSINESS-DAY CALCULATOR
// =============================================================================

// BusinessDays returns the number of weekdays in [start, end].
// Fails with *InvalidRangeError when start is after end or either bound is unset.
func BusinessDays(start, end Date) (int, error) {
	if start.IsZero() || end.IsZero() {
		return 0, &InvalidRangeError{Start: start, End: end, Cause: ErrInvalidDate}
	}
	if start.After(end) {
		return 0, &InvalidRangeError{Start: start, End: end, Cause: ErrDateOrderInvalid}
	}

	span := DaysBetween(start, end) + 1
	count := (span / 7) * 5

	// The remainder is fewer than 7 days, walk it.
	d := start.AddDays((span / 7) * 7)
	for ; !d.After(end); d = d.AddDays(1) {
		if d.IsWorkday() {
			count++
		}
	}
	return count, nil
}

// CountBusinessDays parses both bounds and counts the weekdays between them.
// Every failure is an *InvalidRangeError.
func CountBusinessDays(start, end string) (int, error) {
	s, err := ParseDate(start)
	if err != nil {
		return 0, &InvalidRangeError{Cause: err}
	}
	e, err := ParseDate(end)
	if err != nil {
		return 0, &InvalidRangeError{Start: s, Cause: err}
	}
	return BusinessDays(s, e)
}

// =============================================================================
// DATE RANGE
// =============================================================================

// DateRange is a closed interval of calendar days.
type DateRange struct {
	Start Date
	End   Date
}

// Overlaps reports closed-interval overlap; touching endpoints overlap.
func (r DateRange) Overlaps(other DateRange) bool {
	return r.Start.BeforeOrEqual(other.End) && r.End.AfterOrEqual(other.Start)
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}
