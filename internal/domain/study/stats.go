package study

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DailyGoalThreshold is the number of completed quizzes that marks the
	// daily goal as met. The counter is cumulative, not reset per day.
	DailyGoalThreshold = 5

	// DefaultTickInterval is the cadence at which an active session accrues time.
	DefaultTickInterval = time.Minute
)

// TickIncrement is the number of hours added per tick at the given interval.
// The default interval of one minute yields 1/60 hour.
func TickIncrement(interval time.Duration) float64 {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return interval.Hours()
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Stats holds the study statistics of one user. The zero value is the
// implicit record of a user who has never studied.
type Stats struct {
	// StudyHours is cumulative across sessions and never decreases.
	StudyHours float64

	// CompletedQuizzes is the cumulative count of completed quizzes.
	CompletedQuizzes int

	// Streak counts consecutive studied days.
	Streak int

	// DailyGoalMet becomes true once CompletedQuizzes reaches DailyGoalThreshold.
	DailyGoalMet bool

	// LastUpdated is bookkeeping only and excluded from equality.
	LastUpdated time.Time
}

// AddHours adds study time. Negative and NaN amounts are ignored.
func (s *Stats) AddHours(hours float64) {
	if !(hours > 0) {
		return
	}
	s.StudyHours += hours
}

// RecordQuiz increments the completed quiz counter and re-derives the
// daily goal flag.
func (s *Stats) RecordQuiz() {
	s.CompletedQuizzes++
	s.DailyGoalMet = s.CompletedQuizzes >= DailyGoalThreshold
}

// Touch sets the bookkeeping timestamp.
func (s *Stats) Touch(now time.Time) {
	s.LastUpdated = now
}

// Equal compares two records, ignoring LastUpdated.
func (s Stats) Equal(other Stats) bool {
	return s.StudyHours == other.StudyHours &&
		s.CompletedQuizzes == other.CompletedQuizzes &&
		s.Streak == other.Streak &&
		s.DailyGoalMet == other.DailyGoalMet
}

// Normalize clamps values that a damaged record could carry.
func (s *Stats) Normalize() {
	if !(s.StudyHours >= 0) {
		s.StudyHours = 0
	}
	if s.CompletedQuizzes < 0 {
		s.CompletedQuizzes = 0
	}
	if s.Streak < 0 {
		s.Streak = 0
	}
}
