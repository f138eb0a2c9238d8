// Package domain holds typed identifiers shared across bounded contexts.
package domain

import (
	"fmt"

	"github.com/google/uuid"

	dErrors "kycflow/pkg/domain-errors"
)

// UserID identifies the subject being verified. It comes from the
// authenticated principal and is never generated by this service.
type UserID uuid.UUID

// SessionID identifies one verification session for a user.
type SessionID uuid.UUID

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewSessionID generates a fresh random session identifier.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// ParseUserID parses and validates a user identifier at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user", s)
	return UserID(u), err
}

// ParseSessionID parses and validates a session identifier.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID("session", s)
	return SessionID(u), err
}

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s id is required", kind))
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("invalid %s id", kind))
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s id must not be nil", kind))
	}
	return u, nil
}

// MarshalText lets typed IDs serialize as canonical UUID strings.
func (id UserID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = UserID(u)
	return nil
}

func (id SessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SessionID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = SessionID(u)
	return nil
}
