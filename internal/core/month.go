package core

import "time"

// Month identifies a calendar month bucket by its first-of-month day.
type Month struct {
	Date
}

// MonthOf returns the month bucket containing t.
func MonthOf(t time.Time) Month {
	y, m, _ := t.Date()
	return Month{Date: NewDate(y, int(m), 1)}
}

// ParseMonth parses a YYYY-MM-01 (or any YYYY-MM-DD) string into its bucket.
func ParseMonth(s string) (Month, error) {
	d, err := ParseDate(s)
	if err != nil {
		return Month{}, err
	}
	return MonthOf(d.Time), nil
}

// AddMonths shifts the bucket by n calendar months (n may be negative).
func (m Month) AddMonths(n int) Month {
	return MonthOf(m.Time.AddDate(0, n, 0))
}

// Before reports whether m precedes other.
func (m Month) Before(other Month) bool {
	return m.Time.Before(other.Time)
}

// Equal reports whether two buckets are the same calendar month.
func (m Month) Equal(other Month) bool {
	return m.Time.Equal(other.Time)
}
