package engine

import (
	"time"
)

// =============================================================================
// TIME POINT - Day-granularity time abstraction
// =============================================================================

// TimePoint is a calendar day in UTC. The engine schedules at day granularity:
// capacity ledgers, due dates, and adjustment dates are all days, never
// instants. Timestamps (when something happened) stay as time.Time.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates an instant to its UTC calendar day.
func DayOf(t time.Time) TimePoint {
	u := t.UTC()
	return NewTimePoint(u.Year(), u.Month(), u.Day())
}

func Today() TimePoint {
	return DayOf(time.Now())
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (TimePoint, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return TimePoint{}, err
	}
	return TimePoint{Time: t}, nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool  { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool  { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.normalize().Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	return tp.normalize().Format("2006-01-02")
}

// SameDay reports whether an instant falls on this calendar day.
func (tp TimePoint) SameDay(t time.Time) bool {
	return tp.Equal(DayOf(t))
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// NextWeekday returns the next occurrence of wd strictly after tp.
// If tp itself falls on wd, the result is seven days later.
func NextWeekday(tp TimePoint, wd time.Weekday) TimePoint {
	delta := (int(wd) - int(tp.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return tp.AddDays(delta)
}
