// Package handlers builds the GET /health report of the HTTP API.
//
// Checks are registered by name and run in parallel on every request:
//
//	health := handlers.NewRegistry(version, 0)
//	health.Register("store", handlers.StoreCheck(backend))
//	health.Register("sessions", handlers.SessionsCheck(manager.ActiveSessions))
//
// The store circuit breaker, when enabled, is reported with its counters
// through BreakerCheck.
package handlers
