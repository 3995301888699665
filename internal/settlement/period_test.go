package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		want    Period
		wantErr bool
	}{
		{name: "full month name", label: "August 2024", want: Period{Year: 2024, Month: time.August}},
		{name: "abbreviated month", label: "Feb 2025", want: Period{Year: 2025, Month: time.February}},
		{name: "case insensitive", label: "december 2023", want: Period{Year: 2023, Month: time.December}},
		{name: "extra whitespace", label: "  March   2024 ", want: Period{Year: 2024, Month: time.March}},
		{name: "unknown month", label: "Smarch 2024", wantErr: true},
		{name: "missing year", label: "August", wantErr: true},
		{name: "numeric month", label: "08 2024", wantErr: true},
		{name: "bad year", label: "August twenty", wantErr: true},
		{name: "too many fields", label: "1 August 2024", wantErr: true},
		{name: "empty", label: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeriod(tt.label)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPeriodLabel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeriod_StringRoundTrip(t *testing.T) {
	for month := time.January; month <= time.December; month++ {
		p := Period{Year: 2024, Month: month}
		parsed, err := ParsePeriod(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	assert.Equal(t, "August 2024", Period{Year: 2024, Month: time.August}.String())
}

func TestNewPeriod(t *testing.T) {
	p, err := NewPeriod(1, 2025)
	require.NoError(t, err)
	assert.Equal(t, Period{Year: 2025, Month: time.January}, p)

	for _, month := range []int{0, 13, -1} {
		_, err := NewPeriod(month, 2025)
		assert.ErrorIs(t, err, ErrInvalidPeriod, "month %d", month)
	}
	_, err = NewPeriod(6, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestPeriod_Contains(t *testing.T) {
	august := Period{Year: 2024, Month: time.August}

	assert.True(t, august.Contains(time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), time.UTC))
	assert.True(t, august.Contains(time.Date(2024, 8, 31, 23, 59, 59, 0, time.UTC), time.UTC))
	assert.False(t, august.Contains(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), time.UTC))
	assert.False(t, august.Contains(time.Date(2023, 8, 15, 0, 0, 0, 0, time.UTC), time.UTC))

	// 2024-09-01 02:00 UTC is still August 31 in New York.
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	lateOrder := time.Date(2024, 9, 1, 2, 0, 0, 0, time.UTC)
	assert.True(t, august.Contains(lateOrder, ny))
	assert.False(t, august.Contains(lateOrder, time.UTC))
}

func TestPeriod_Bounds(t *testing.T) {
	start, end := Period{Year: 2024, Month: time.December}.Bounds(time.UTC)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestIsInPeriod(t *testing.T) {
	in, err := IsInPeriod(time.Date(2024, 8, 15, 12, 0, 0, 0, time.UTC), "August 2024", time.UTC)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = IsInPeriod(time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC), "August 2024", time.UTC)
	require.NoError(t, err)
	assert.False(t, in)

	_, err = IsInPeriod(time.Now(), "not a period", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidPeriodLabel)
}

func TestPreviousPeriod(t *testing.T) {
	tests := []struct {
		now  time.Time
		want Period
	}{
		{now: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), want: Period{Year: 2024, Month: time.December}},
		{now: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), want: Period{Year: 2024, Month: time.August}},
		{now: time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC), want: Period{Year: 2024, Month: time.February}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PreviousPeriod(tt.now), tt.now.String())
	}
}
