package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Month is a calendar month. The zero value is invalid.
type Month struct {
	Year  int
	Month int // 1..12
}

// ParseMonth accepts a year-first month ("2025-03", "2025-3", "2025/03")
// with an optional day and time suffix, or a US-ordered date ("3/15/2025").
func ParseMonth(s string) (Month, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "T "); i > 0 {
		s = s[:i]
	}

	sep := "-"
	if strings.Contains(s, "/") {
		sep = "/"
	}
	parts := strings.Split(s, sep)
	var ys, ms, ds string
	switch {
	case len(parts) == 3 && sep == "/" && len(parts[2]) == 4:
		ms, ds, ys = parts[0], parts[1], parts[2]
	case (len(parts) == 2 || len(parts) == 3) && len(parts[0]) == 4:
		ys, ms = parts[0], parts[1]
		if len(parts) == 3 {
			ds = parts[2]
		}
	default:
		return Month{}, fmt.Errorf("invalid month %q: want YYYY-MM", s)
	}

	y, err := datePart(s, ys, 4)
	if err != nil {
		return Month{}, err
	}
	m, err := datePart(s, ms, 2)
	if err != nil {
		return Month{}, err
	}
	if m < 1 || m > 12 || y < 1 {
		return Month{}, fmt.Errorf("invalid month %q: out of range", s)
	}
	if ds != "" {
		d, err := datePart(s, ds, 2)
		if err != nil {
			return Month{}, err
		}
		if d < 1 || d > 31 {
			return Month{}, fmt.Errorf("invalid month %q: day out of range", s)
		}
	}
	return Month{Year: y, Month: m}, nil
}

// datePart parses an all-digit field of at most width digits.
func datePart(src, field string, width int) (int, error) {
	if field == "" || len(field) > width {
		return 0, fmt.Errorf("invalid month %q: bad field %q", src, field)
	}
	for _, r := range field {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid month %q: bad field %q", src, field)
		}
	}
	return strconv.Atoi(field)
}

// MustParseMonth panics on invalid input. Intended for tests and constants.
func MustParseMonth(s string) Month {
	m, err := ParseMonth(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String renders the month as YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// IsZero reports whether m is the zero value.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// AddMonths shifts m by n calendar months (n may be negative).
func (m Month) AddMonths(n int) Month {
	idx := m.index() + n
	return Month{Year: idx / 12, Month: idx%12 + 1}
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	return m.index() < o.index()
}

// After reports whether m is strictly later than o.
func (m Month) After(o Month) bool {
	return m.index() > o.index()
}

// Sub returns the number of months from o to m.
func (m Month) Sub(o Month) int {
	return m.index() - o.index()
}

func (m Month) index() int {
	return m.Year*12 + m.Month - 1
}

// WindowStart returns the first month of the n-month window ending at m.
// The window (m-n, m] always contains m.
func (m Month) WindowStart(n int) Month {
	if n < 1 {
		n = 1
	}
	return m.AddMonths(-(n - 1))
}
