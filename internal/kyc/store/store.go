// Package store persists one verification session per user. Every backend
// serialises read-modify-write per user and never shares mutable state with
// callers.
package store

import (
	"kycflow/internal/kyc/models"
)

// ReplaceFunc decides whether an existing session may be overwritten by a
// new one. Returning an error aborts the write.
type ReplaceFunc func(existing *models.Session) error

// ValidateFunc inspects the current session before mutation. Returning an
// error aborts the write and is passed through to the caller.
type ValidateFunc func(current *models.Session) error

// MutateFunc applies changes in place. It may run more than once when an
// optimistic backend retries, so it must depend only on its argument and
// captured immutable inputs.
type MutateFunc func(current *models.Session)

const defaultListLimit = 500

// isOpen reports whether the session is tracked for staleness sweeps.
func isOpen(s *models.Session) bool {
	return s.AcceptsSubmissions()
}
