// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"
	"time"
)

// dayLayout is the canonical date form used throughout: YYYY-MM-DD in the
// tournament's timezone. Lexicographic order equals date order.
const dayLayout = "2006-01-02"

// ParseDay validates a YYYY-MM-DD date string.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return time.Time{}, NewErrValidation(fmt.Sprintf("invalid day %q: expected YYYY-MM-DD", day))
	}
	return t, nil
}

// FormatDay renders a time as the canonical day string.
func FormatDay(t time.Time) string {
	return t.Format(dayLayout)
}

// ParseClock parses "HH:MM" into minutes from midnight.
func ParseClock(clock string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
		return 0, NewErrValidation(fmt.Sprintf("invalid clock %q: expected HH:MM", clock))
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || h*60+m > 24*60 {
		return 0, NewErrValidation(fmt.Sprintf("invalid clock %q: out of range", clock))
	}
	return h*60 + m, nil
}

// FormatClock renders minutes from midnight as "HH:MM".
func FormatClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}
