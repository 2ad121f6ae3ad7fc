// Package streak computes the current consecutive-day logging streak from an
// ordered list of calendar dates.
package streak

import "time"

// DateFormat is the calendar-date wire format used by the MealMate API.
const DateFormat = "2006-01-02"

// Today returns the current date at UTC midnight.
func Today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Compute returns the current streak for a descending list of log-dates.
//
// A streak is active if the most recent log-date is today or yesterday; a
// streak logged yesterday but not yet today still counts. The walk maintains
// an expected date and stops at the first gap. Repeated dates for the same
// day are a no-op after the first match, so duplicate input cannot
// double-count. A malformed date terminates the walk.
func Compute(dates []string, today time.Time) int {
	if len(dates) == 0 {
		return 0
	}
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	mostRecent, err := time.Parse(DateFormat, dates[0])
	if err != nil {
		return 0
	}

	expected := today
	if !mostRecent.Equal(today) {
		if !mostRecent.Equal(today.AddDate(0, 0, -1)) {
			// Gap since the last log already broke the streak.
			return 0
		}
		expected = today.AddDate(0, 0, -1)
	}

	count := 0
	for _, s := range dates {
		d, err := time.Parse(DateFormat, s)
		if err != nil {
			break
		}
		if d.Equal(expected) {
			count++
			expected = expected.AddDate(0, 0, -1)
			continue
		}
		if d.Before(expected) {
			break
		}
		// d is after expected: a duplicate of an already-counted day.
	}
	return count
}
