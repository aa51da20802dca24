// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types published by the study tracker.
const (
	EventSessionStarted EventType = "session.started"
	EventSessionTicked  EventType = "session.ticked"
	EventSessionEnded   EventType = "session.ended"
	EventQuizCompleted  EventType = "session.quiz_completed"
	EventStreakUpdated  EventType = "session.streak_updated"
	EventUserRegistered EventType = "identity.registered"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStartedEvent is emitted when a tracker enters the Active state.
type SessionStartedEvent struct {
	BaseEvent
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	Streak     int       `json:"streak"`
	StudyHours float64   `json:"study_hours"`
}

// Payload implements Event interface.
func (e SessionStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id":  e.SessionID,
		"started_at":  e.StartedAt,
		"streak":      e.Streak,
		"study_hours": e.StudyHours,
	}
}

// NewSessionStartedEvent creates a new SessionStartedEvent.
func NewSessionStartedEvent(userID, sessionID string, startedAt time.Time, streak int, hours float64) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent:  NewBaseEvent(EventSessionStarted, userID, startedAt),
		SessionID:  sessionID,
		StartedAt:  startedAt,
		Streak:     streak,
		StudyHours: hours,
	}
}

// SessionTickedEvent carries the display value after a tick.
type SessionTickedEvent struct {
	BaseEvent
	SessionID  string  `json:"session_id"`
	StudyHours float64 `json:"study_hours"`
}

// Payload implements Event interface.
func (e SessionTickedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id":  e.SessionID,
		"study_hours": e.StudyHours,
	}
}

// NewSessionTickedEvent creates a new SessionTickedEvent.
func NewSessionTickedEvent(userID, sessionID string, hours float64, at time.Time) SessionTickedEvent {
	return SessionTickedEvent{
		BaseEvent:  NewBaseEvent(EventSessionTicked, userID, at),
		SessionID:  sessionID,
		StudyHours: hours,
	}
}

// SessionEndedEvent is emitted once the final stats have been flushed.
type SessionEndedEvent struct {
	BaseEvent
	SessionID    string        `json:"session_id"`
	Duration     time.Duration `json:"duration"`
	ElapsedHours float64       `json:"elapsed_hours"`
	StudyHours   float64       `json:"study_hours"`
}

// Payload implements Event interface.
func (e SessionEndedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id":    e.SessionID,
		"duration_sec":  e.Duration.Seconds(),
		"elapsed_hours": e.ElapsedHours,
		"study_hours":   e.StudyHours,
	}
}

// NewSessionEndedEvent creates a new SessionEndedEvent.
func NewSessionEndedEvent(userID, sessionID string, duration time.Duration, totalHours float64, at time.Time) SessionEndedEvent {
	return SessionEndedEvent{
		BaseEvent:    NewBaseEvent(EventSessionEnded, userID, at),
		SessionID:    sessionID,
		Duration:     duration,
		ElapsedHours: duration.Hours(),
		StudyHours:   totalHours,
	}
}

// QuizCompletedEvent is emitted after a quiz completion is recorded.
type QuizCompletedEvent struct {
	BaseEvent
	CompletedQuizzes int  `json:"completed_quizzes"`
	DailyGoalMet     bool `json:"daily_goal_met"`
}

// Payload implements Event interface.
func (e QuizCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"completed_quizzes": e.CompletedQuizzes,
		"daily_goal_met":    e.DailyGoalMet,
	}
}

// NewQuizCompletedEvent creates a new QuizCompletedEvent.
func NewQuizCompletedEvent(userID string, completed int, goalMet bool, at time.Time) QuizCompletedEvent {
	return QuizCompletedEvent{
		BaseEvent:        NewBaseEvent(EventQuizCompleted, userID, at),
		CompletedQuizzes: completed,
		DailyGoalMet:     goalMet,
	}
}

// StreakUpdatedEvent is emitted when a session start changes the streak.
type StreakUpdatedEvent struct {
	BaseEvent
	PreviousStreak int  `json:"previous_streak"`
	NewStreak      int  `json:"new_streak"`
	Broken         bool `json:"broken"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_streak": e.PreviousStreak,
		"new_streak":      e.NewStreak,
		"broken":          e.Broken,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID string, previous, current int, broken bool, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:      NewBaseEvent(EventStreakUpdated, userID, at),
		PreviousStreak: previous,
		NewStreak:      current,
		Broken:         broken,
	}
}

// UserRegisteredEvent is emitted when a local account is created.
type UserRegisteredEvent struct {
	BaseEvent
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Payload implements Event interface.
func (e UserRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"email":        e.Email,
		"display_name": e.DisplayName,
	}
}

// NewUserRegisteredEvent creates a new UserRegisteredEvent.
func NewUserRegisteredEvent(userID, email, displayName string, at time.Time) UserRegisteredEvent {
	return UserRegisteredEvent{
		BaseEvent:   NewBaseEvent(EventUserRegistered, userID, at),
		Email:       email,
		DisplayName: displayName,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
