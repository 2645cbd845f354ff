// Package session knows where a timestamp falls relative to the trading
// session close: the blackout window and the end-of-day trigger.
package session

import (
	"fmt"
	"time"
	_ "time/tzdata" // session zones must resolve without system tzdata
)

// Config describes a regular session close.
type Config struct {
	Location              *time.Location
	CloseHour             int
	CloseMinute           int
	BlackoutBeforeClose   time.Duration // signals are suppressed in [close-blackout, close]
	EODTriggerBeforeClose time.Duration // guard fires at close-offset
	WeekdaysOnly          bool          // Saturday and Sunday are not sessions
}

// DefaultConfig is a 16:00 New York close with a 15 minute blackout and a
// trigger 10 minutes before close.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		Location:              loc,
		CloseHour:             16,
		BlackoutBeforeClose:   15 * time.Minute,
		EODTriggerBeforeClose: 10 * time.Minute,
		WeekdaysOnly:          true,
	}
}

// Clock answers session-relative questions for a single close time.
// Early closes are not modelled.
type Clock struct {
	cfg Config
}

// NewClock validates cfg and returns a Clock.
func NewClock(cfg Config) (*Clock, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CloseHour < 0 || cfg.CloseHour > 23 || cfg.CloseMinute < 0 || cfg.CloseMinute > 59 {
		return nil, fmt.Errorf("invalid session close %02d:%02d", cfg.CloseHour, cfg.CloseMinute)
	}
	if cfg.BlackoutBeforeClose < 0 {
		return nil, fmt.Errorf("blackout must not be negative, got %s", cfg.BlackoutBeforeClose)
	}
	if cfg.EODTriggerBeforeClose <= 0 {
		return nil, fmt.Errorf("EOD trigger offset must be positive, got %s", cfg.EODTriggerBeforeClose)
	}
	return &Clock{cfg: cfg}, nil
}

// ParseClose parses "HH:MM".
func ParseClose(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid session close %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Location returns the session timezone.
func (c *Clock) Location() *time.Location { return c.cfg.Location }

// SessionDate returns the session's calendar date for t, as YYYY-MM-DD.
func (c *Clock) SessionDate(t time.Time) string {
	return t.In(c.cfg.Location).Format("2006-01-02")
}

// CloseTime returns the close of t's session.
func (c *Clock) CloseTime(t time.Time) time.Time {
	local := t.In(c.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), c.cfg.CloseHour, c.cfg.CloseMinute, 0, 0, c.cfg.Location)
}

// InBlackout reports whether t lies in [close-blackout, close].
func (c *Clock) InBlackout(t time.Time) bool {
	if c.cfg.BlackoutBeforeClose == 0 {
		return false
	}
	closeAt := c.CloseTime(t)
	return !t.Before(closeAt.Add(-c.cfg.BlackoutBeforeClose)) && !t.After(closeAt)
}

// EODTriggerTime returns when the end-of-day guard fires for t's session.
func (c *Clock) EODTriggerTime(t time.Time) time.Time {
	return c.CloseTime(t).Add(-c.cfg.EODTriggerBeforeClose)
}

// IsTradingDay reports whether t's session date is a session at all.
// Exchange holidays are not modelled.
func (c *Clock) IsTradingDay(t time.Time) bool {
	if !c.cfg.WeekdaysOnly {
		return true
	}
	switch t.In(c.cfg.Location).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// EODDue reports whether the guard should fire at t, given the session date
// it last ran for. It is due inside [trigger, close] once per trading day.
func (c *Clock) EODDue(t time.Time, lastRunSession string) (sessionDate string, due bool) {
	sessionDate = c.SessionDate(t)
	if sessionDate == lastRunSession || !c.IsTradingDay(t) {
		return sessionDate, false
	}
	return sessionDate, !t.Before(c.EODTriggerTime(t)) && !t.After(c.CloseTime(t))
}

// AddTradingDays returns local midnight of the trading day n trading days
// away from t's session date. Negative n walks back.
func (c *Clock) AddTradingDays(t time.Time, n int) time.Time {
	local := t.In(c.cfg.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.cfg.Location)
	step := 1
	if n < 0 {
		step, n = -1, -n
	}
	for n > 0 {
		day = day.AddDate(0, 0, step)
		if c.IsTradingDay(day) {
			n--
		}
	}
	return day
}
