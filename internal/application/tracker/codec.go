package tracker

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS WIRE FORMAT
// {"studyHours":1.5,"completedQuizzes":3,"streak":2,"dailyGoal":0,"lastUpdated":"..."}
// ══════════════════════════════════════════════════════════════════════════════

const (
	fieldStudyHours       = "studyHours"
	fieldCompletedQuizzes = "completedQuizzes"
	fieldStreak           = "streak"
	fieldDailyGoal        = "dailyGoal"
	fieldLastUpdated      = "lastUpdated"
)

type statsRecord struct {
	StudyHours       float64 `json:"studyHours"`
	CompletedQuizzes int     `json:"completedQuizzes"`
	Streak           int     `json:"streak"`
	DailyGoal        int     `json:"dailyGoal"`
	LastUpdated      string  `json:"lastUpdated,omitempty"`
}

// EncodeStats serializes stats into the stored JSON record.
func EncodeStats(s study.Stats) (string, error) {
	rec := statsRecord{
		StudyHours:       s.StudyHours,
		CompletedQuizzes: s.CompletedQuizzes,
		Streak:           s.Streak,
	}
	if s.DailyGoalMet {
		rec.DailyGoal = 1
	}
	if !s.LastUpdated.IsZero() {
		rec.LastUpdated = s.LastUpdated.UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode stats: %w", err)
	}
	return string(data), nil
}

// DecodeStats parses a stored record. Fields are read leniently: numbers may
// be JSON numbers or numeric strings, and anything unreadable counts as 0.
// A value that is not a JSON object yields ErrCorruptRecord.
func DecodeStats(raw string) (study.Stats, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields == nil {
		if err == nil {
			err = fmt.Errorf("record is null")
		}
		return study.Stats{}, shared.ErrCorruptRecord.Wrap(err)
	}

	s := study.Stats{
		StudyHours:       lenientFloat(fields[fieldStudyHours]),
		CompletedQuizzes: int(lenientFloat(fields[fieldCompletedQuizzes])),
		Streak:           int(lenientFloat(fields[fieldStreak])),
		DailyGoalMet:     lenientBool(fields[fieldDailyGoal]),
		LastUpdated:      lenientTime(fields[fieldLastUpdated]),
	}
	s.Normalize()
	return s, nil
}

func lenientFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return finiteOrZero(n)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return finiteOrZero(f)
		}
	}
	return 0
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func lenientBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return lenientFloat(raw) != 0
}

func lenientTime(raw json.RawMessage) time.Time {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ══════════════════════════════════════════════════════════════════════════════
// SCALAR KEYS
// ══════════════════════════════════════════════════════════════════════════════

// EncodeStudyStart stores a session start as decimal Unix milliseconds.
func EncodeStudyStart(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// DecodeStudyStart parses a session start marker.
func DecodeStudyStart(raw string, loc *time.Location) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, shared.ErrCorruptRecord.Wrap(err)
	}
	return timeutil.FromUnixMilli(ms, loc), nil
}

// EncodeLastStudyDate stores a calendar day as YYYY-MM-DD in loc.
func EncodeLastStudyDate(t time.Time, loc *time.Location) string {
	return timeutil.FormatDay(t, loc)
}

// DecodeLastStudyDate parses a stored calendar day in loc.
func DecodeLastStudyDate(raw string, loc *time.Location) (time.Time, error) {
	t, err := timeutil.ParseDay(strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, shared.ErrCorruptRecord.Wrap(err)
	}
	return t, nil
}

// EncodeLastActive stores an activity timestamp as RFC 3339.
func EncodeLastActive(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
