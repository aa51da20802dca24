// Package study contains the domain model of per-user study statistics.
//
// The package defines:
//
//   - Entities: Stats (hours, completed quizzes, streak, daily goal flag)
//   - Pure rules: StreakTransition, the daily goal threshold, the tick increment
//   - The key layout of the durable per-user store
//   - Store, the key-value contract implemented in infrastructure/persistence
//
// # Architectural principles
//
//  1. Zero external dependencies - standard library only
//  2. Dependency inversion - Store is defined here and implemented elsewhere
//  3. Calendar rules take an explicit *time.Location
//
// # Streak rules
//
// A streak is the number of consecutive calendar days on which a study
// session was started:
//
//	next, outcome := StreakTransition(today, lastStudyDate, current, loc)
//
// The first study day yields 1. A second session on the same day keeps the
// streak. A session on the following day extends it by one. Any gap, or a
// clock that moved backwards, resets the streak to 1.
package study
