package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) and the service layer translates them into coded
// domain errors.
//
//   - ErrNotFound: no session stored for the key
//   - ErrConflict: optimistic write lost a race after all retries
//   - ErrExpired: the session passed its retention window
//   - ErrInvalidState: the entity is in the wrong state for the operation
//   - ErrUnavailable: backend or provider temporarily unavailable
//   - ErrLockHeld: another worker holds a coordination lock
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrLockHeld     = errors.New("lock held")
)
