package core

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

type (
	// Reading holds the meter values recorded for one calendar month.
	// Month is the natural key in YYYY-MM form; the five continuous
	// metrics are cumulative counter readings, PulseCount is a raw
	// S0 pulse counter.
	Reading struct {
		ID         int64
		Month      string
		GasKWh     float64
		WaterM3    float64
		SolarKWh   float64
		PulseCount int64
		Tariff1KWh float64
		Tariff2KWh float64
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}
)

var (
	ErrInvalidMonth  = errors.New("invalid month format, expected YYYY-MM")
	ErrNegativeValue = errors.New("meter values cannot be negative")
	ErrNotFound      = errors.New("reading not found")
	ErrMonthExists   = errors.New("reading for this month already exists")
)

// ValidateMonth checks that s is a YYYY-MM month key with a real
// month number. The store relies on this running at the boundary.
func ValidateMonth(s string) error {
	if len(s) != 7 || s[4] != '-' {
		return ErrInvalidMonth
	}
	for i, c := range s {
		if i == 4 {
			continue
		}
		if c < '0' || c > '9' {
			return ErrInvalidMonth
		}
	}
	month, err := strconv.Atoi(s[5:])
	if err != nil || month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// MonthTime parses a month key into its first day at midnight UTC.
func MonthTime(month string) (time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse month %q: %w", month, err)
	}
	return t, nil
}

func (r Reading) Validate() error {
	if err := ValidateMonth(r.Month); err != nil {
		return err
	}
	if r.GasKWh < 0 || r.WaterM3 < 0 || r.SolarKWh < 0 ||
		r.Tariff1KWh < 0 || r.Tariff2KWh < 0 || r.PulseCount < 0 {
		return ErrNegativeValue
	}
	return nil
}
