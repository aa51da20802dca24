// Package home assembles the home dashboard: a time-of-day greeting, the
// quick stats cards and the feature catalog. Navigating to the quiz feature
// counts a quiz completion.
package home

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/studyhub/study-companion/internal/application/tracker"
	"github.com/studyhub/study-companion/internal/domain/identity"
	"github.com/studyhub/study-companion/internal/domain/shared"
	"github.com/studyhub/study-companion/internal/domain/study"
	"github.com/studyhub/study-companion/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GREETING
// ══════════════════════════════════════════════════════════════════════════════

// Greeting returns the salutation for the hour of now.
func Greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 17:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// QUICK STATS
// ══════════════════════════════════════════════════════════════════════════════

// StatCard is one tile of the quick stats row.
type StatCard struct {
	Icon  string `json:"icon"`
	Title string `json:"title"`
	Value string `json:"value"`
	Color string `json:"color"`
}

// QuickStats renders the three stat cards. Hours are shown with one decimal.
func QuickStats(s study.Stats) []StatCard {
	return []StatCard{
		{Icon: "time-outline", Title: "Study Hours", Value: shared.Hours(s.StudyHours).String(), Color: "#4CAF50"},
		{Icon: "trophy-outline", Title: "Completed", Value: strconv.Itoa(s.CompletedQuizzes), Color: "#FF9800"},
		{Icon: "flame-outline", Title: "Streak", Value: strconv.Itoa(s.Streak), Color: "#FF5722"},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Feature is an entry of the learning resources list.
type Feature struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Link        string `json:"link"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// Feature links.
const (
	LinkCourses         = "Courses"
	LinkRoadmap         = "Roadmap"
	LinkQuiz            = "Quiz"
	LinkStudyPlanner    = "StudyPlanner"
	LinkGroupChat       = "GroupChat"
	LinkAIStudentHelper = "AIStudentHelper"
)

var catalog = []Feature{
	{ID: 1, Name: "Courses", Link: LinkCourses, Icon: "book-outline", Description: "Access your learning materials"},
	{ID: 2, Name: "Roadmaps", Link: LinkRoadmap, Icon: "map-outline", Description: "Plan your learning journey"},
	{ID: 3, Name: "Quiz", Link: LinkQuiz, Icon: "school-outline", Description: "Test your knowledge"},
	{ID: 4, Name: "Study Planner", Link: LinkStudyPlanner, Icon: "calendar-outline", Description: "Organize your study schedule"},
	{ID: 5, Name: "Group Chat", Link: LinkGroupChat, Icon: "chatbubbles-outline", Description: "Connect with fellow learners"},
}

// helperShortcut is the floating AI helper button; it is not part of the list.
var helperShortcut = Feature{ID: 6, Name: "AI Student Helper", Link: LinkAIStudentHelper, Icon: "help-circle-outline", Description: "Ask the AI study helper"}

// Catalog returns a copy of the learning resources list.
func Catalog() []Feature {
	out := make([]Feature, len(catalog))
	copy(out, catalog)
	return out
}

// LookupFeature finds a feature by link or name, ignoring case and spaces.
func LookupFeature(key string) (Feature, bool) {
	norm := normalize(key)
	if norm == "" {
		return Feature{}, false
	}
	for _, f := range append(Catalog(), helperShortcut) {
		if normalize(f.Link) == norm || normalize(f.Name) == norm {
			return f, true
		}
	}
	return Feature{}, false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Sessions is the part of the session manager the dashboard needs.
type Sessions interface {
	Stats(ctx context.Context, userID string) (tracker.Snapshot, error)
	RecordQuiz(ctx context.Context, userID string) (tracker.Snapshot, error)
}

// Dashboard is the home screen payload.
type Dashboard struct {
	Greeting string           `json:"greeting"`
	UserName string           `json:"userName"`
	Session  tracker.Snapshot `json:"session"`
	Stats    []StatCard       `json:"quickStats"`
	Features []Feature        `json:"features"`
	Helper   Feature          `json:"helper"`
}

// NavigationResult describes where navigation leads.
type NavigationResult struct {
	Feature Feature           `json:"feature"`
	Session *tracker.Snapshot `json:"session,omitempty"`
}

// Service builds dashboards and applies navigation side effects.
type Service struct {
	sessions Sessions
	loc      *time.Location
	clock    tracker.Clock
	log      *logger.Logger
}

// NewService creates a dashboard service.
func NewService(sessions Sessions, loc *time.Location, clock tracker.Clock, log *logger.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = tracker.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		sessions: sessions,
		loc:      loc,
		clock:    clock,
		log:      log.With(logger.Component("home")),
	}
}

// Home builds the dashboard for id.
func (s *Service) Home(ctx context.Context, id identity.Identity) (Dashboard, error) {
	if id.IsZero() {
		return Dashboard{}, shared.ErrNoIdentity
	}
	snap, err := s.sessions.Stats(ctx, id.UserID)
	if err != nil {
		return Dashboard{}, err
	}
	snap.DisplayName = id.Name()

	return Dashboard{
		Greeting: Greeting(s.clock.Now().In(s.loc)),
		UserName: id.Name(),
		Session:  snap,
		Stats:    QuickStats(snap.Stats),
		Features: Catalog(),
		Helper:   helperShortcut,
	}, nil
}

// Navigate resolves a feature. Opening the quiz records a quiz completion
// for the user's active session.
func (s *Service) Navigate(ctx context.Context, userID, feature string) (NavigationResult, error) {
	f, ok := LookupFeature(feature)
	if !ok {
		return NavigationResult{}, shared.ErrUnknownFeature
	}
	res := NavigationResult{Feature: f}
	if f.Link != LinkQuiz {
		return res, nil
	}

	snap, err := s.sessions.RecordQuiz(ctx, userID)
	if err != nil {
		return res, err
	}
	res.Session = &snap
	s.log.Debug("quiz opened", logger.UserID(userID), logger.Int("completed_quizzes", snap.Stats.CompletedQuizzes))
	return res, nil
}
