package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidSettings = errors.New("invalid automation settings")

// AutomationSettings controls the monthly batch schedule and email dispatch.
type AutomationSettings struct {
	Enabled             bool            `json:"enabled"`
	DayOfMonth          int             `json:"day_of_month"`
	TimeOfDay           string          `json:"time_of_day"` // HH:MM
	EmailEnabled        bool            `json:"email_enabled"`
	RetryAttempts       int             `json:"retry_attempts"`
	MinSettlementAmount decimal.Decimal `json:"min_settlement_amount"`
}

// DefaultAutomationSettings runs on the last day of the month at 23:59.
func DefaultAutomationSettings() AutomationSettings {
	return AutomationSettings{
		Enabled:             true,
		DayOfMonth:          31,
		TimeOfDay:           "23:59",
		EmailEnabled:        true,
		RetryAttempts:       3,
		MinSettlementAmount: decimal.NewFromInt(10),
	}
}

func (s AutomationSettings) Validate() error {
	if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
		return fmt.Errorf("%w: day of month %d out of range", ErrInvalidSettings, s.DayOfMonth)
	}
	if _, _, err := s.clock(); err != nil {
		return err
	}
	if s.RetryAttempts < 0 || s.RetryAttempts > 10 {
		return fmt.Errorf("%w: retry attempts %d out of range", ErrInvalidSettings, s.RetryAttempts)
	}
	if s.MinSettlementAmount.IsNegative() {
		return fmt.Errorf("%w: minimum settlement amount is negative", ErrInvalidSettings)
	}
	return nil
}

func (s AutomationSettings) clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.TimeOfDay)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time of day %q is not HH:MM", ErrInvalidSettings, s.TimeOfDay)
	}
	return t.Hour(), t.Minute(), nil
}

// scheduledAt is the run instant within the month of t. Days past the end of
// the month clamp to its last day.
func (s AutomationSettings) scheduledAt(t time.Time) time.Time {
	hour, minute, err := s.clock()
	if err != nil {
		hour, minute = 23, 59
	}
	year, month, _ := t.Date()
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, t.Location()).Day()
	day := s.DayOfMonth
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, hour, minute, 0, 0, t.Location())
}

// LastRun returns the most recent scheduled instant at or before now.
func (s AutomationSettings) LastRun(now time.Time) time.Time {
	at := s.scheduledAt(now)
	if !at.After(now) {
		return at
	}
	year, month, _ := now.Date()
	return s.scheduledAt(time.Date(year, month-1, 1, 0, 0, 0, 0, now.Location()))
}

// DuePeriod is the period the schedule should have settled by now: the month
// before the most recent scheduled instant. A missed slot stays due until
// that period is settled.
func (s AutomationSettings) DuePeriod(now time.Time) Period {
	return PreviousPeriod(s.LastRun(now))
}

// NextRun returns the next scheduled instant strictly after now.
func (s AutomationSettings) NextRun(now time.Time) time.Time {
	at := s.scheduledAt(now)
	if at.After(now) {
		return at
	}
	year, month, _ := now.Date()
	return s.scheduledAt(time.Date(year, month+1, 1, 0, 0, 0, 0, now.Location()))
}
