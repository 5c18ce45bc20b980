// Package timeutil provides clock and timezone utilities for the bot.
// All user-facing dates are parsed and rendered in a single configured location.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOCATION
// ══════════════════════════════════════════════════════════════════════════════

var location atomic.Pointer[time.Location]

func init() {
	location.Store(time.Local)
}

// SetLocation sets the location used for parsing and formatting.
// A nil location resets it to time.Local.
func SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	location.Store(loc)
}

// LoadLocation resolves an IANA name and installs it. An empty name keeps
// the local zone.
func LoadLocation(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		SetLocation(time.Local)
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("load location %q: %w", name, err)
	}
	SetLocation(loc)
	return nil
}

// Location returns the configured location.
func Location() *time.Location {
	return location.Load()
}

// Local converts t to the configured location.
func Local(t time.Time) time.Time {
	return t.In(Location())
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock abstracts the current time so that time-dependent rules can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time in the configured location.
func (SystemClock) Now() time.Time {
	return time.Now().In(Location())
}

// FixedClock is a manually driven clock for tests.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock stopped at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now returns the stored time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Now returns the current time in the configured location.
func Now() time.Time {
	return SystemClock{}.Now()
}

// ══════════════════════════════════════════════════════════════════════════════
// FORMATS
// ══════════════════════════════════════════════════════════════════════════════

// Common date/time formats.
const (
	// FormatDueDate is the input format of due dates (dd/MM/yyyy HH:mm).
	FormatDueDate = "02/01/2006 15:04"
	// FormatShortDue is the compact rendering used in task lists (dd/MM HH:mm).
	FormatShortDue = "02/01 15:04"
	// FormatDate is the day-first date format.
	FormatDate = "02/01/2006"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
)

// ParseDueDate parses a due date written as dd/MM/yyyy HH:mm in the
// configured location.
func ParseDueDate(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDueDate, strings.TrimSpace(value), Location())
}

// FormatDue renders a due date compactly (dd/MM HH:mm).
func FormatDue(t time.Time) string {
	return Local(t).Format(FormatShortDue)
}

// FormatDateStr renders a day-first date.
func FormatDateStr(t time.Time) string {
	return Local(t).Format(FormatDate)
}

// FormatFull renders a full due date (dd/MM/yyyy HH:mm).
func FormatFull(t time.Time) string {
	return Local(t).Format(FormatDueDate)
}

// ══════════════════════════════════════════════════════════════════════════════
// DURATIONS
// ══════════════════════════════════════════════════════════════════════════════

// FormatUptime renders an uptime as "Xd Yh Zm", omitting leading zero units.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// FormatRelative returns a Spanish relative time string of t against now.
func FormatRelative(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		return formatFutureDuration(-d)
	}
	return formatPastDuration(d)
}

func formatPastDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "justo ahora"
	case d < time.Hour:
		return fmt.Sprintf("hace %d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("hace %d h", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "ayer"
		}
		return fmt.Sprintf("hace %d días", days)
	}
}

func formatFutureDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "ahora"
	case d < time.Hour:
		return fmt.Sprintf("en %d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("en %d h", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "mañana"
		}
		return fmt.Sprintf("en %d días", days)
	}
}

// StartOfDay returns the start of the day of t in the configured location.
func StartOfDay(t time.Time) time.Time {
	l := Local(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, l.Location())
}

// IsSameDay checks if two times fall on the same day in the configured location.
func IsSameDay(t1, t2 time.Time) bool {
	a1, a2 := Local(t1), Local(t2)
	return a1.Year() == a2.Year() && a1.YearDay() == a2.YearDay()
}
