package study

import (
	"time"

	"github.com/studyhub/study-companion/pkg/timeutil"
)

// StreakOutcome describes which branch of the streak rule applied.
type StreakOutcome int

const (
	// StreakStarted means there was no prior study date.
	StreakStarted StreakOutcome = iota
	// StreakKept means the user already studied today.
	StreakKept
	// StreakExtended means the last study day was yesterday.
	StreakExtended
	// StreakReset means a day was skipped or the clock moved backwards.
	StreakReset
)

// String returns the outcome name for logs.
func (o StreakOutcome) String() string {
	switch o {
	case StreakStarted:
		return "started"
	case StreakKept:
		return "kept"
	case StreakExtended:
		return "extended"
	case StreakReset:
		return "reset"
	default:
		return "unknown"
	}
}

// StreakTransition computes the streak for a session started on today.
// A zero lastStudyDate means the user has never studied. Days are counted on
// the calendar of loc.
func StreakTransition(today, lastStudyDate time.Time, streak int, loc *time.Location) (int, StreakOutcome) {
	if lastStudyDate.IsZero() {
		return 1, StreakStarted
	}

	switch diff := timeutil.DaysBetween(lastStudyDate, today, loc); diff {
	case 0:
		return streak, StreakKept
	case 1:
		return streak + 1, StreakExtended
	default:
		return 1, StreakReset
	}
}
