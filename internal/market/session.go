package market

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time of day in the exchange time zone
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM"
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the clock time on the session day of t
func (c Clock) On(t time.Time) time.Time {
	return SessionDay(t).Add(time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Window is a half-open [Start, End) interval of exchange-local time on any weekday
type Window struct {
	Start Clock
	End   Clock
}

// ParseWindow parses two "HH:MM" values
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether t falls inside the window on a weekday
func (w Window) Contains(t time.Time) bool {
	switch t.In(eastern).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !t.Before(w.Start.On(t)) && t.Before(w.End.On(t))
}
