package settlement

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidPeriodLabel = errors.New("invalid period label")
	ErrInvalidPeriod      = errors.New("invalid settlement period")
)

// Period is a settlement period: one calendar month.
type Period struct {
	Year  int
	Month time.Month
}

var monthNames = [...]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// monthIndex maps lower-cased full names and three-letter abbreviations to
// months. Labels never go through locale-sensitive date parsing.
var monthIndex = func() map[string]time.Month {
	m := make(map[string]time.Month, len(monthNames)*2)
	for i, name := range monthNames {
		lower := strings.ToLower(name)
		m[lower] = time.Month(i + 1)
		m[lower[:3]] = time.Month(i + 1)
	}
	return m
}()

// NewPeriod validates a 1-12 month and a positive year.
func NewPeriod(month, year int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: month %d out of range", ErrInvalidPeriod, month)
	}
	if year < 1 || year > 9999 {
		return Period{}, fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, year)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// ParsePeriod parses labels of the form "August 2024".
func ParsePeriod(label string) (Period, error) {
	fields := strings.Fields(label)
	if len(fields) != 2 {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriodLabel, label)
	}
	month, ok := monthIndex[strings.ToLower(fields[0])]
	if !ok {
		return Period{}, fmt.Errorf("%w: unknown month %q", ErrInvalidPeriodLabel, fields[0])
	}
	year, err := strconv.Atoi(fields[1])
	if err != nil || year < 1 || year > 9999 {
		return Period{}, fmt.Errorf("%w: bad year %q", ErrInvalidPeriodLabel, fields[1])
	}
	return Period{Year: year, Month: month}, nil
}

func (p Period) String() string {
	if p.Month < time.January || p.Month > time.December {
		return fmt.Sprintf("%%!Month(%d) %d", int(p.Month), p.Year)
	}
	return fmt.Sprintf("%s %d", monthNames[p.Month-1], p.Year)
}

// Contains reports whether t falls in the period's month in loc.
func (p Period) Contains(t time.Time, loc *time.Location) bool {
	if loc != nil {
		t = t.In(loc)
	}
	year, month, _ := t.Date()
	return year == p.Year && month == p.Month
}

// Bounds returns the first instant of the period and of the following month in loc.
func (p Period) Bounds(loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.Local
	}
	start = time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// IsInPeriod parses label and reports whether t falls inside it.
func IsInPeriod(t time.Time, label string, loc *time.Location) (bool, error) {
	period, err := ParsePeriod(label)
	if err != nil {
		return false, err
	}
	return period.Contains(t, loc), nil
}

// PreviousPeriod is the calendar month before now's month. January rolls
// back to December of the prior year.
func PreviousPeriod(now time.Time) Period {
	year, month, _ := now.Date()
	if month == time.January {
		return Period{Year: year - 1, Month: time.December}
	}
	return Period{Year: year, Month: month - 1}
}
