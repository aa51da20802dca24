package study

import (
	"context"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACE
// The durable per-user key-value store. Implementations live in
// infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store is a string key-value store. Every call may fail.
type Store interface {
	// Get returns the value for key. found is false when the key is absent;
	// that is not an error.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key succeeds.
	Remove(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// KEY LAYOUT
// Keys have the shape <namespace>_<id>.
// ══════════════════════════════════════════════════════════════════════════════

// Namespace is the prefix of a store key.
type Namespace string

const (
	// NamespaceStats holds the serialized Stats record.
	NamespaceStats Namespace = "stats"
	// NamespaceLastActive holds the RFC 3339 time of the last activity.
	NamespaceLastActive Namespace = "lastActive"
	// NamespaceStudyStart holds the session start as Unix milliseconds.
	NamespaceStudyStart Namespace = "studyStart"
	// NamespaceLastStudyDate holds the YYYY-MM-DD of the last study day.
	NamespaceLastStudyDate Namespace = "lastStudyDate"
	// NamespaceAccount holds a local identity record keyed by email.
	NamespaceAccount Namespace = "account"
)

// Key builds the store key for id in namespace ns.
func (ns Namespace) Key(id string) string {
	return string(ns) + "_" + id
}

// StatsKey returns the key of the user's stats record.
func StatsKey(userID string) string { return NamespaceStats.Key(userID) }

// LastActiveKey returns the key of the user's last activity timestamp.
func LastActiveKey(userID string) string { return NamespaceLastActive.Key(userID) }

// StudyStartKey returns the key of the user's session start marker.
func StudyStartKey(userID string) string { return NamespaceStudyStart.Key(userID) }

// LastStudyDateKey returns the key of the user's last study date.
func LastStudyDateKey(userID string) string { return NamespaceLastStudyDate.Key(userID) }

// AccountKey returns the key of a local account, normalized by email.
func AccountKey(email string) string {
	return NamespaceAccount.Key(strings.ToLower(strings.TrimSpace(email)))
}
