// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies an authenticated user. Store keys are derived from it.
type UserID string

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return strings.TrimSpace(string(u)) == ""
}

// IsValid rejects empty IDs and IDs that would break the key layout.
func (u UserID) IsValid() bool {
	if u.IsEmpty() {
		return false
	}
	return !strings.ContainsAny(string(u), " \t\r\n")
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "invalid user ID")
	}
	return uid, nil
}

// Email is a normalized (lowercase, trimmed) email address.
type Email string

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// String returns the string representation.
func (e Email) String() string {
	return string(e)
}

// NewEmail validates and normalizes an email address.
func NewEmail(raw string) (Email, error) {
	e := strings.ToLower(strings.TrimSpace(raw))
	if !emailRegex.MatchString(e) {
		return "", ErrInvalidEmail
	}
	return Email(e), nil
}

// DefaultDisplayName is shown when the identity carries no name.
const DefaultDisplayName = "User"

// DisplayNameOrDefault returns name, or DefaultDisplayName when blank.
func DisplayNameOrDefault(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return DefaultDisplayName
}

// ═══════════════════════════════════════════════════════════════════════════
// Hours Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Hours is a fractional count of study hours.
type Hours float64

// Float64 returns the underlying value.
func (h Hours) Float64() float64 {
	return float64(h)
}

// Rounded returns the value rounded to one decimal place for display.
func (h Hours) Rounded() float64 {
	return math.Round(float64(h)*10) / 10
}

// String formats the value with one decimal, e.g. "2.5".
func (h Hours) String() string {
	return fmt.Sprintf("%.1f", float64(h))
}
